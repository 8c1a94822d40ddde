package delivery

import (
	"sync"

	"github.com/fixmarket/pulse/pkg/models"
)

// DefaultQueueCapacity bounds the per-user offline queue. When the bound is
// hit the oldest event is evicted, so a returning user sees the most recent
// history rather than the most stale.
const DefaultQueueCapacity = 50

// Queue buffers events for one offline user, oldest first.
type Queue struct {
	mu       sync.Mutex
	capacity int
	events   []models.Event
}

// NewQueue creates a queue holding at most capacity events. A non-positive
// capacity falls back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends an event, marking it as buffered, and reports whether an
// older event was evicted to make room.
func (q *Queue) Enqueue(event models.Event) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	event.Queued = true
	if len(q.events) >= q.capacity {
		copy(q.events, q.events[1:])
		q.events = q.events[:len(q.events)-1]
		evicted = true
	}
	q.events = append(q.events, event)
	return evicted
}

// Drain atomically removes and returns all buffered events in enqueue order.
// The queued marker is cleared so flushed events read like live pushes; a
// second Drain returns nil.
func (q *Queue) Drain() []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	for i := range out {
		out[i].Queued = false
	}
	return out
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
