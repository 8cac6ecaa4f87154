package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsFanOut(t *testing.T) {
	e := NewEvents(4)
	id1, ch1 := e.Subscribe()
	_, ch2 := e.Subscribe()
	assert.Equal(t, 2, e.Subscribers())

	e.Publish(Event{Kind: EventLog, Class: "gun"})

	ev := <-ch1
	assert.Equal(t, "gun", ev.Class)
	ev = <-ch2
	assert.Equal(t, EventLog, ev.Kind)

	e.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribe closes the channel")
	e.Unsubscribe(id1)
	assert.Equal(t, 1, e.Subscribers())
}

func TestEventsSlowSubscriberDrops(t *testing.T) {
	e := NewEvents(2)
	_, ch := e.Subscribe()

	for i := 0; i < 5; i++ {
		e.Publish(Event{Kind: EventStatus})
	}
	assert.Len(t, drain(ch), 2)
	assert.Equal(t, uint64(3), e.Dropped())
}

func TestEventsClose(t *testing.T) {
	e := NewEvents(0)
	_, ch := e.Subscribe()
	e.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { e.Publish(Event{Kind: EventLog}) })

	_, late := e.Subscribe()
	_, ok = <-late
	require.False(t, ok, "subscribing after close yields a closed channel")
}
