package pipeline

import (
	"context"
	"sync"

	"github.com/banshee-data/alertcam/internal/vision"
)

// FrameSlot hands the most recent overlaid frame from the worker to
// consumers. Publishing replaces an unconsumed frame instead of queueing
// it, so a slow consumer only ever sees the newest frame.
//
// Published frames are never modified afterwards; consumers must treat
// them as read-only.
type FrameSlot struct {
	mu      sync.Mutex
	frame   vision.Frame
	seq     uint64
	taken   bool
	drops   uint64
	changed chan struct{}
}

// NewFrameSlot returns an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{changed: make(chan struct{})}
}

// Publish stores f and wakes any waiters. It returns the new sequence
// number.
func (s *FrameSlot) Publish(f vision.Frame) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame != nil && !s.taken {
		s.drops++
	}
	s.frame = f
	s.seq++
	s.taken = false
	close(s.changed)
	s.changed = make(chan struct{})
	return s.seq
}

// Latest returns the current frame and its sequence number without
// consuming it. The frame is nil before the first Publish.
func (s *FrameSlot) Latest() (vision.Frame, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

// Wait blocks until a frame newer than afterSeq is published, then consumes
// and returns it.
func (s *FrameSlot) Wait(ctx context.Context, afterSeq uint64) (vision.Frame, uint64, error) {
	for {
		s.mu.Lock()
		if s.frame != nil && s.seq > afterSeq {
			s.taken = true
			f, seq := s.frame, s.seq
			s.mu.Unlock()
			return f, seq, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, afterSeq, ctx.Err()
		}
	}
}

// Drops returns how many published frames were replaced before any
// consumer took them.
func (s *FrameSlot) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
