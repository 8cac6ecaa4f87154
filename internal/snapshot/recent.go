package snapshot

import "sync"

// RecentCapacity is the number of records kept by Recent.
const RecentCapacity = 3

// Recent is a fixed-size, newest-first list of snapshot records. It is
// written by the detection worker and read by consumers concurrently.
type Recent struct {
	mu    sync.Mutex
	items [RecentCapacity]Record
	head  int // index of the newest record
	n     int
}

// Push inserts rec at the front, evicting the oldest record when full.
func (r *Recent) Push(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = (r.head + RecentCapacity - 1) % RecentCapacity
	r.items[r.head] = rec
	if r.n < RecentCapacity {
		r.n++
	}
}

// List returns a copy of the records, newest first.
func (r *Recent) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.items[(r.head+i)%RecentCapacity]
	}
	return out
}

// Len returns the number of records held.
func (r *Recent) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
