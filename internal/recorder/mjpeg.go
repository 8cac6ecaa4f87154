package recorder

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/fsutil"
	"github.com/banshee-data/alertcam/internal/timeutil"
	"github.com/banshee-data/alertcam/internal/vision"
)

// MJPEGExtension is the conventional extension for MJPEG recordings.
const MJPEGExtension = ".mjpeg"

// HeaderSuffix is appended to a recording path to name its header file.
const HeaderSuffix = ".json"

// Header describes a finished MJPEG recording.
type Header struct {
	Version     string  `json:"version"`
	FPS         float64 `json:"fps"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	TotalFrames uint64  `json:"total_frames"`
	StartNs     int64   `json:"start_ns"`
	EndNs       int64   `json:"end_ns"`
}

// MJPEGSink writes frames as length-prefixed JPEG images into a single file
// and a JSON header beside it on Close.
type MJPEGSink struct {
	path    string
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	quality int

	mu     sync.Mutex
	w      io.WriteCloser
	buf    bytes.Buffer
	header Header
	closed bool
}

// MJPEGOpener returns an Opener producing MJPEGSinks on fs.
func MJPEGOpener(fs fsutil.FileSystem, clock timeutil.Clock, quality int) Opener {
	return func(path string, fps float64, size image.Point) (Sink, error) {
		return NewMJPEGSink(fs, clock, path, fps, size, quality)
	}
}

// NewMJPEGSink creates or truncates path.
func NewMJPEGSink(fs fsutil.FileSystem, clock timeutil.Clock, path string, fps float64, size image.Point, quality int) (*MJPEGSink, error) {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	w, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecorderUnavailable, err)
	}
	return &MJPEGSink{
		path:    path,
		fs:      fs,
		clock:   clock,
		quality: quality,
		w:       w,
		header: Header{
			Version: "1.0",
			FPS:     fps,
			Width:   size.X,
			Height:  size.Y,
		},
	}, nil
}

// Write encodes and appends one frame.
func (s *MJPEGSink) Write(frame vision.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink is closed")
	}

	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, frame, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(s.buf.Len()))
	if _, err := s.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}

	now := s.clock.Now().UnixNano()
	if s.header.TotalFrames == 0 {
		s.header.StartNs = now
	}
	s.header.EndNs = now
	s.header.TotalFrames++
	return nil
}

// Close flushes the frame file and writes the header.
func (s *MJPEGSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.w.Close(); err != nil {
		return fmt.Errorf("failed to close frames: %w", err)
	}
	data, err := json.MarshalIndent(s.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := s.fs.WriteFile(s.path+HeaderSuffix, data, 0o644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Replay reads an MJPEG recording back frame by frame. It satisfies
// capture.FrameSource, so a recording can stand in for a camera.
type Replay struct {
	header Header
	data   []byte
	off    int
	loop   bool
}

// OpenReplay loads the recording at path and its header.
func OpenReplay(fs fsutil.FileSystem, path string, loop bool) (*Replay, error) {
	raw, err := fs.ReadFile(path + HeaderSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", capture.ErrCameraUnavailable, err)
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", capture.ErrCameraUnavailable, err)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrCameraUnavailable, err)
	}
	return &Replay{header: h, data: data, loop: loop}, nil
}

// ReplayOpener returns a capture.Opener that treats the source ID as a
// recording path.
func ReplayOpener(fs fsutil.FileSystem, loop bool) capture.Opener {
	return func(sourceID string) (capture.FrameSource, error) {
		return OpenReplay(fs, sourceID, loop)
	}
}

// Header returns the recording metadata.
func (r *Replay) Header() Header { return r.header }

// Read decodes the next frame, returning capture.ErrEndOfStream at the end
// of the file.
func (r *Replay) Read() (vision.Frame, error) {
	if r.off >= len(r.data) && r.loop && len(r.data) > 0 {
		r.off = 0
	}
	if r.off >= len(r.data) {
		return nil, capture.ErrEndOfStream
	}
	if len(r.data)-r.off < 4 {
		return nil, fmt.Errorf("%w: truncated frame length at offset %d", capture.ErrFrameRead, r.off)
	}
	n := int(binary.LittleEndian.Uint32(r.data[r.off:]))
	start := r.off + 4
	if n > len(r.data)-start {
		return nil, fmt.Errorf("%w: truncated frame at offset %d", capture.ErrFrameRead, r.off)
	}
	img, err := jpeg.Decode(bytes.NewReader(r.data[start : start+n]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrFrameRead, err)
	}
	r.off = start + n
	return vision.ToFrame(img), nil
}

// Size returns the recorded frame size.
func (r *Replay) Size() image.Point {
	return image.Pt(r.header.Width, r.header.Height)
}

// Close releases the loaded data.
func (r *Replay) Close() error {
	r.data = nil
	r.off = 0
	return nil
}

// Duration is the wall-clock span between the first and last frame.
func (h Header) Duration() time.Duration {
	return time.Duration(h.EndNs - h.StartNs)
}
