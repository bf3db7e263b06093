package notify

import (
	"iter"
	"sync"
)

// DefaultCapacity bounds every queue so a dashboard that stays away for
// hours cannot grow memory without limit.
const DefaultCapacity = 256

// Queue is a bounded FIFO of notifications. Enqueue never blocks; once the
// queue is full the oldest notification is evicted to make room.
type Queue struct {
	mu      sync.Mutex
	items   []Notification
	head    int // index of the oldest item
	count   int
	dropped uint64
}

// NewQueue creates an empty queue holding at most capacity notifications.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{items: make([]Notification, capacity)}
}

// Enqueue appends n. It reports false when the oldest entry had to be
// evicted to make room.
func (q *Queue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.items) {
		q.items[q.head] = n
		q.head = (q.head + 1) % len(q.items)
		q.dropped++
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = n
	q.count++
	return true
}

// Drain removes and returns the oldest notification.
func (q *Queue) Drain() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Notification{}, false
	}
	n := q.items[q.head]
	q.items[q.head] = Notification{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return n, true
}

// All returns a lazy sequence that drains the queue. Each notification is
// removed as it is yielded; stopping early leaves the rest queued.
func (q *Queue) All() iter.Seq[Notification] {
	return func(yield func(Notification) bool) {
		for {
			n, ok := q.Drain()
			if !ok || !yield(n) {
				return
			}
		}
	}
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many notifications were evicted over the queue's life.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
