package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func newTestLimiter(t *testing.T) (*Limiter, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}
	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewLimiter(rdb), ctx
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l, ctx := newTestLimiter(t)
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "alice", rule)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "alice", rule)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected 4th call to be rate limited")
	}

	if ok, _ := l.Allow(ctx, "Alice", rule); ok {
		t.Error("identifiers are case-insensitive")
	}

	// Other identifiers are unaffected.
	if ok, _ := l.Allow(ctx, "bob", rule); !ok {
		t.Error("expected bob to be allowed")
	}
}

func TestLimiter_WindowExpires(t *testing.T) {
	l, ctx := newTestLimiter(t)
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Second}

	l.Allow(ctx, "alice", rule)
	if ok, _ := l.Allow(ctx, "alice", rule); ok {
		t.Fatal("expected second call inside the window to be limited")
	}

	time.Sleep(1100 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Error("expected call after the window to be allowed")
	}
}

// ---------- Cooldown ----------

func TestCooldown(t *testing.T) {
	c := NewCooldown(90*time.Second, "Owner")
	t0 := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	if c.Remaining("alice", t0) != 0 {
		t.Fatal("unused key must not wait")
	}
	c.Mark("alice", t0)

	if got := c.Remaining("ALICE", t0.Add(30*time.Second)); got != 60*time.Second {
		t.Errorf("expected 60s remaining, got %v", got)
	}
	if got := c.Remaining("alice", t0.Add(90*time.Second)); got != 0 {
		t.Errorf("expected cooldown over, got %v", got)
	}

	c.Mark("owner", t0)
	if c.Remaining("owner", t0) != 0 {
		t.Error("exempt keys are never throttled")
	}
}
