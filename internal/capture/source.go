// Package capture defines the frame source consumed by the detection loop
// and a file-backed implementation used for development and tests.
package capture

import (
	"errors"
	"image"

	"github.com/banshee-data/alertcam/internal/vision"
)

var (
	// ErrCameraUnavailable is returned when a source cannot be opened.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrEndOfStream is returned by Read once the source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
	// ErrFrameRead is returned when a frame could not be read or decoded.
	ErrFrameRead = errors.New("frame read failed")
)

// FrameSource yields frames of a fixed size until it ends or fails.
// Implementations are used by a single goroutine.
type FrameSource interface {
	// Read returns the next frame. The caller owns the returned frame.
	Read() (vision.Frame, error)
	// Size is the dimensions of every frame returned by Read.
	Size() image.Point
	// Close releases the underlying device. Further Reads fail.
	Close() error
}

// Opener opens a FrameSource for a source identifier such as a device index,
// a stream URL or a directory.
type Opener func(sourceID string) (FrameSource, error)
