// Package camera reads frames from a webcam or video stream through OpenCV.
package camera

import (
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/monitoring"
	"github.com/banshee-data/alertcam/internal/vision"
)

var logf = monitoring.Prefixed("[Camera]")

// Camera is a capture.FrameSource backed by a gocv VideoCapture.
type Camera struct {
	mu    sync.Mutex
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	size  image.Point
	reads int
}

// Open opens a device index ("0") or a stream URL and requests the given
// capture resolution. The device may pick a different one; Size reports
// what it actually delivers.
func Open(sourceID string, width, height int) (*Camera, error) {
	var device interface{} = sourceID
	if idx, err := strconv.Atoi(sourceID); err == nil {
		device = idx
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrCameraUnavailable, sourceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s: not opened", capture.ErrCameraUnavailable, sourceID)
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	size := image.Pt(int(vc.Get(gocv.VideoCaptureFrameWidth)), int(vc.Get(gocv.VideoCaptureFrameHeight)))
	logf("opened %s at %dx%d", sourceID, size.X, size.Y)

	return &Camera{vc: vc, mat: gocv.NewMat(), size: size}, nil
}

// Opener returns a capture.Opener using the given capture resolution.
func Opener(width, height int) capture.Opener {
	return func(sourceID string) (capture.FrameSource, error) {
		return Open(sourceID, width, height)
	}
}

// Read grabs the next frame and converts it to RGBA.
func (c *Camera) Read() (vision.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, fmt.Errorf("%w: camera closed", capture.ErrFrameRead)
	}
	if ok := c.vc.Read(&c.mat); !ok {
		return nil, capture.ErrEndOfStream
	}
	if c.mat.Empty() {
		return nil, fmt.Errorf("%w: empty frame", capture.ErrFrameRead)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrFrameRead, err)
	}
	frame := vision.ToFrame(img)
	got := frame.Bounds().Size()
	switch {
	case c.reads == 0:
		// Some backends report the requested size until the first grab.
		c.size = got
	case got != c.size:
		return nil, fmt.Errorf("%w: frame is %v, want %v", capture.ErrFrameRead, got, c.size)
	}
	c.reads++
	return frame, nil
}

// Size returns the frame dimensions.
func (c *Camera) Size() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.mat.Close()
	c.vc = nil
	return err
}
