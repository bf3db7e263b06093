package notify

import (
	"fmt"
	"sync"
	"testing"

	"github.com/arachnobot/companion/internal/protocol"
)

func nameOf(t *testing.T, n Notification) string {
	t.Helper()
	switch p := n.Payload.(type) {
	case protocol.AddPayload:
		return p.Name
	case protocol.RemovePayload:
		return p.Name
	case protocol.EventPayload:
		return p.From
	}
	t.Fatalf("unexpected payload %T", n.Payload)
	return ""
}

// ---------- Queue ----------

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(8)
	q.Enqueue(Added(protocol.AddPayload{Name: "a", Icon: protocol.IconViewer}))
	q.Enqueue(Event("rip", "b", ""))
	q.Enqueue(Removed("c"))

	var got []string
	for {
		n, ok := q.Drain()
		if !ok {
			break
		}
		got = append(got, n.Action+":"+nameOf(t, n))
	}
	want := []string{"add:a", "event:b", "remove:c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestQueueDrainEmpty(t *testing.T) {
	q := NewQueue(4)
	if _, ok := q.Drain(); ok {
		t.Error("expected empty drain to report false")
	}
}

func TestQueueEvictsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 5; i++ {
		ok := q.Enqueue(Removed(fmt.Sprintf("v%d", i)))
		if i <= 3 && !ok {
			t.Errorf("enqueue %d: unexpected eviction", i)
		}
		if i > 3 && ok {
			t.Errorf("enqueue %d: expected eviction", i)
		}
	}

	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}
	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", q.Dropped())
	}
	for i := 3; i <= 5; i++ {
		n, _ := q.Drain()
		if want := fmt.Sprintf("v%d", i); nameOf(t, n) != want {
			t.Errorf("expected %s, got %s", want, nameOf(t, n))
		}
	}
}

func TestQueueAllIsLazy(t *testing.T) {
	q := NewQueue(8)
	for i := 0; i < 5; i++ {
		q.Enqueue(Removed(fmt.Sprintf("v%d", i)))
	}

	seen := 0
	for range q.All() {
		seen++
		if seen == 2 {
			break
		}
	}
	if q.Len() != 3 {
		t.Errorf("stopping early must leave the rest queued, got %d", q.Len())
	}
}

func TestQueueConcurrentEnqueueDrain(t *testing.T) {
	q := NewQueue(1000)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(Removed(fmt.Sprintf("%d-%d", id, i)))
			}
		}(g)
	}
	wg.Wait()

	n := 0
	for range q.All() {
		n++
	}
	if n != 500 {
		t.Errorf("expected 500 notifications, got %d", n)
	}
}

// ---------- Hub ----------

func TestHubFanOut(t *testing.T) {
	h := NewHub(16)
	a := h.Subscribe("a")
	b := h.Subscribe("b")

	h.Publish(Removed("bob"))

	for name, q := range map[string]*Queue{"a": a, "b": b} {
		n, ok := q.Drain()
		if !ok || nameOf(t, n) != "bob" {
			t.Errorf("session %s: expected bob, got %+v", name, n)
		}
		// At most once per session.
		if _, ok := q.Drain(); ok {
			t.Errorf("session %s: notification delivered twice", name)
		}
	}
}

func TestHubBacklogHandedToNextSession(t *testing.T) {
	h := NewHub(2)
	h.Publish(Removed("v1"))
	h.Publish(Removed("v2"))
	h.Publish(Removed("v3"))

	if h.Backlog() != 2 {
		t.Fatalf("expected backlog bounded at 2, got %d", h.Backlog())
	}

	q := h.Subscribe("first")
	if h.Backlog() != 0 {
		t.Errorf("expected backlog handed over, %d left", h.Backlog())
	}
	for _, want := range []string{"v2", "v3"} {
		n, ok := q.Drain()
		if !ok || nameOf(t, n) != want {
			t.Errorf("expected %s, got %+v", want, n)
		}
	}

	// A second session does not replay anything.
	if second := h.Subscribe("second"); second.Len() != 0 {
		t.Errorf("second session must start empty, got %d", second.Len())
	}
}

// A notification published while the first dashboard subscribes must reach
// that dashboard, never stay behind in the backlog.
func TestHubPublishRacingFirstSubscribe(t *testing.T) {
	for i := range 2000 {
		h := NewHub(4)
		var q *Queue
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Publish(Removed("v"))
		}()
		go func() {
			defer wg.Done()
			q = h.Subscribe("dash")
		}()
		wg.Wait()

		if h.Backlog() != 0 || q.Len() != 1 {
			t.Fatalf("iteration %d: backlog=%d queue=%d, want 0 and 1", i, h.Backlog(), q.Len())
		}
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(8)
	h.Subscribe("a")
	h.Unsubscribe("a")
	h.Unsubscribe("a")

	if h.Sessions() != 0 {
		t.Fatalf("expected 0 sessions, got %d", h.Sessions())
	}
	if h.Queue("a") != nil {
		t.Error("expected no queue for an unsubscribed session")
	}

	h.Publish(Event("rip", "alice", ""))
	if h.Backlog() != 1 {
		t.Errorf("with no sessions notifications go to the backlog, got %d", h.Backlog())
	}
}

func TestHubMirror(t *testing.T) {
	h := NewHub(8)
	var mirrored []Notification
	h.SetMirror(func(n Notification) { mirrored = append(mirrored, n) })

	h.Publish(Event("countdown", "owner", "05:00"))
	if len(mirrored) != 1 || mirrored[0].Action != protocol.ActionEvent {
		t.Errorf("unexpected mirror calls: %+v", mirrored)
	}
}

func TestNotificationEncode(t *testing.T) {
	data, err := Removed("bob").Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"action":"remove","payload":{"name":"bob"}}` {
		t.Errorf("unexpected frame: %s", data)
	}
}
