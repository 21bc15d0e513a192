// Package intake provides the inbound event queue shared by the listeners and
// the control loop, and the decoder for wire messages.
package intake

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/infra/metrics"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("intake queue is full")

// DefaultCapacity is used when NewQueue is given a non-positive capacity.
const DefaultCapacity = 256

// Queue is a bounded FIFO safe for many producers and one consumer.
// Push never blocks: a full queue rejects the event.
type Queue struct {
	mu       sync.Mutex
	events   []event.Event
	capacity int
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		events:   make([]event.Event, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an event in arrival order.
func (q *Queue) Push(ev event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.capacity {
		metrics.DiscardedTotal.WithLabelValues("queue", "full").Inc()
		return errors.Wrapf(ErrQueueFull, "dropping %s", ev)
	}
	q.events = append(q.events, ev)
	return nil
}

// Drain removes and returns up to max events from the head of the queue.
// It returns nil when the queue is empty.
func (q *Queue) Drain(max int) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	if n == 0 || max <= 0 {
		return nil
	}
	if n > max {
		n = max
	}

	out := make([]event.Event, n)
	copy(out, q.events[:n])
	remaining := copy(q.events, q.events[n:])
	clear(q.events[remaining:])
	q.events = q.events[:remaining]
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
