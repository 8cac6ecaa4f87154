// Package recorder appends overlaid frames to a video file while the
// pipeline is in the Recording state.
package recorder

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/banshee-data/alertcam/internal/vision"
)

var (
	// ErrRecorderUnavailable is returned (wrapped) when a sink cannot be opened.
	ErrRecorderUnavailable = errors.New("recorder unavailable")
	// ErrNotOpen is returned by Write when no sink is open.
	ErrNotOpen = errors.New("recorder not open")
	// ErrAlreadyOpen is returned by Open while a sink is open.
	ErrAlreadyOpen = errors.New("recorder already open")
	// ErrFrameSize is returned by Write for a frame of the wrong dimensions.
	ErrFrameSize = errors.New("frame size mismatch")
)

// DefaultFPS is the nominal frame rate written into recordings.
const DefaultFPS = 20.0

// Sink is an open video file.
type Sink interface {
	Write(frame vision.Frame) error
	Close() error
}

// Opener creates or truncates the file at path and returns a Sink for
// frames of the given size.
type Opener func(path string, fps float64, size image.Point) (Sink, error)

// Recorder owns at most one Sink at a time and guarantees it is closed
// exactly once. It is safe for concurrent use.
type Recorder struct {
	open Opener

	mu     sync.Mutex
	sink   Sink
	path   string
	size   image.Point
	frames int
}

// New returns a closed Recorder that opens sinks with open.
func New(open Opener) *Recorder {
	return &Recorder{open: open}
}

// Open starts a recording at path. Opening the same path twice across
// sessions overwrites the earlier recording.
func (r *Recorder) Open(path string, fps float64, size image.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, r.path)
	}
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("%w: invalid frame size %v", ErrRecorderUnavailable, size)
	}
	sink, err := r.open(path, fps, size)
	if err != nil {
		if errors.Is(err, ErrRecorderUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRecorderUnavailable, err)
	}
	r.sink = sink
	r.path = path
	r.size = size
	r.frames = 0
	return nil
}

// Write appends frame to the open recording.
func (r *Recorder) Write(frame vision.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == nil {
		return ErrNotOpen
	}
	if got := frame.Bounds().Size(); got != r.size {
		return fmt.Errorf("%w: got %v, want %v", ErrFrameSize, got, r.size)
	}
	if err := r.sink.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", r.path, err)
	}
	r.frames++
	return nil
}

// Close finalises the open recording. Closing a closed Recorder is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == nil {
		return nil
	}
	err := r.sink.Close()
	r.sink = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", r.path, err)
	}
	return nil
}

// IsOpen reports whether a recording is in progress.
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink != nil
}

// Frames returns the number of frames written since the last Open.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Path returns the path of the current or most recent recording.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}
