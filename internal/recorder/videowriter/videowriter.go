// Package videowriter encodes recordings to MP4 through OpenCV.
package videowriter

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/alertcam/internal/recorder"
	"github.com/banshee-data/alertcam/internal/vision"
)

// Codec is the FourCC used for .mp4 output.
const Codec = "mp4v"

// Sink is a recorder.Sink backed by a gocv VideoWriter.
type Sink struct {
	mu sync.Mutex
	vw *gocv.VideoWriter
}

// Open creates or truncates path.
func Open(path string, fps float64, size image.Point) (recorder.Sink, error) {
	vw, err := gocv.VideoWriterFile(path, Codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", recorder.ErrRecorderUnavailable, path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("%w: %s: writer not opened", recorder.ErrRecorderUnavailable, path)
	}
	return &Sink{vw: vw}, nil
}

// Write converts frame to a BGR Mat and appends it.
func (s *Sink) Write(frame vision.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vw == nil {
		return fmt.Errorf("video writer closed")
	}
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()
	return s.vw.Write(mat)
}

// Close finalises the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vw == nil {
		return nil
	}
	err := s.vw.Close()
	s.vw = nil
	return err
}
