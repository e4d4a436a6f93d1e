package events

import (
	"sync"

	"github.com/splax/routedev/internal/domain"
)

// DefaultCapacity is the number of raw events retained for transport staging.
const DefaultCapacity = 40

// Queue is a bounded, insertion-ordered buffer of captured events. The
// oldest events are evicted first once the capacity is reached.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []domain.Event
	total    int64
}

// NewQueue constructs a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		items:    make([]domain.Event, 0, capacity),
	}
}

// Push appends an event to the tail of the queue.
func (q *Queue) Push(event domain.Event) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, event)
	q.total++
	if over := len(q.items) - q.capacity; over > 0 {
		// shift in place so the backing array does not grow without bound
		n := copy(q.items, q.items[over:])
		clear(q.items[n:])
		q.items = q.items[:n]
	}
}

// All returns the queued events in push order without removing them.
func (q *Queue) All() []domain.Event {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Event(nil), q.items...)
}

// Since returns the events pushed after the given total, together with the
// current total. Events evicted before the call are not returned.
func (q *Queue) Since(total int64) ([]domain.Event, int64) {
	if q == nil {
		return nil, 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	missing := q.total - total
	if missing <= 0 {
		return nil, q.total
	}
	if missing > int64(len(q.items)) {
		missing = int64(len(q.items))
	}
	start := len(q.items) - int(missing)
	return append([]domain.Event(nil), q.items[start:]...), q.total
}

// Len reports the number of events currently retained.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Total reports how many events were ever pushed. It is never reset by
// eviction.
func (q *Queue) Total() int64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Clear drops every retained event. The push total is kept.
func (q *Queue) Clear() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}
