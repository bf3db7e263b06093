package notify

import (
	"log"
	"sync"

	"github.com/arachnobot/companion/internal/metrics"
)

// Hub fans notifications out to one queue per connected dashboard session.
// While no dashboard is connected, notifications accumulate in a bounded
// backlog that is handed to the next session to subscribe.
type Hub struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*Queue
	backlog  *Queue
	mirror   func(Notification)
}

// NewHub creates a hub whose queues each hold at most capacity notifications.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		capacity: capacity,
		sessions: make(map[string]*Queue),
		backlog:  NewQueue(capacity),
	}
}

// SetMirror registers a callback that observes every published notification,
// e.g. to republish it on the message bus. It runs on the publisher's
// goroutine after the notification has been queued.
func (h *Hub) SetMirror(fn func(Notification)) {
	h.mu.Lock()
	h.mirror = fn
	h.mu.Unlock()
}

// Publish enqueues n for every connected session, or into the backlog when
// none is connected. Queues are filled under the hub lock so a session
// subscribing concurrently either inherits n from the backlog or receives
// it directly. It never blocks on a dashboard.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	if len(h.sessions) == 0 {
		h.enqueue(h.backlog, n)
	}
	for _, q := range h.sessions {
		h.enqueue(q, n)
	}
	mirror := h.mirror
	h.mu.Unlock()

	if mirror != nil {
		mirror(n)
	}
}

func (h *Hub) enqueue(q *Queue, n Notification) {
	metrics.NotificationsTotal.WithLabelValues("enqueued").Inc()
	if !q.Enqueue(n) {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
	}
}

// Subscribe registers a dashboard session and returns its queue. The first
// session to connect after a period with no dashboards inherits the backlog.
func (h *Hub) Subscribe(sessionID string) *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()

	if q, ok := h.sessions[sessionID]; ok {
		return q
	}
	q := NewQueue(h.capacity)
	if len(h.sessions) == 0 && h.backlog.Len() > 0 {
		n := h.backlog.Len()
		for item := range h.backlog.All() {
			q.Enqueue(item)
		}
		log.Printf("notify: session %s inherits %d backlog notification(s)", sessionID, n)
	}
	h.sessions[sessionID] = q
	metrics.DashboardConnections.Set(float64(len(h.sessions)))
	return q
}

// Unsubscribe removes a session. Notifications still queued for it are
// discarded.
func (h *Hub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)
	metrics.DashboardConnections.Set(float64(len(h.sessions)))
	if n := q.Len(); n > 0 {
		log.Printf("notify: session %s left with %d undelivered notification(s)", sessionID, n)
	}
}

// Queue returns the queue of a connected session, or nil.
func (h *Hub) Queue(sessionID string) *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Backlog returns the number of notifications waiting for a dashboard.
func (h *Hub) Backlog() int {
	return h.backlog.Len()
}
