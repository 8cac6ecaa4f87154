package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/alertcam/internal/snapshot"
)

// EventKind identifies the payload of an Event.
type EventKind string

const (
	// EventLog carries one retained detection.
	EventLog EventKind = "log"
	// EventStatus reports a state transition.
	EventStatus EventKind = "status"
	// EventSnapshot reports a saved alert snapshot.
	EventSnapshot EventKind = "snapshot"
	// EventError reports a failure the loop absorbed.
	EventError EventKind = "error"
)

// Event is a message for consumers of the pipeline.
type Event struct {
	Kind       EventKind        `json:"kind"`
	Time       time.Time        `json:"time"`
	Class      string           `json:"class,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Line       string           `json:"line,omitempty"`
	State      string           `json:"state,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Snapshot   *snapshot.Record `json:"snapshot,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// DefaultEventBuffer is the per-subscriber channel capacity.
const DefaultEventBuffer = 64

// Events fans events out to subscribers. A subscriber whose buffer is full
// misses the event rather than stalling the detection loop.
type Events struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool

	dropped atomic.Uint64
}

// NewEvents returns a broadcaster with the given per-subscriber buffer.
func NewEvents(buffer int) *Events {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Events{
		buffer:      buffer,
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close. Subscribing after Close yields a closed channel.
func (e *Events) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, e.buffer)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return id, ch
	}
	e.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (e *Events) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subscribers[id]; ok {
		close(ch)
		delete(e.subscribers, id)
	}
}

// Publish delivers ev to every subscriber without blocking.
func (e *Events) Publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are discarded.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
}

// Subscribers returns the number of active subscribers.
func (e *Events) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (e *Events) Dropped() uint64 {
	return e.dropped.Load()
}
