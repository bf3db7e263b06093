// Package offense keeps a rolling count of spam offenses per viewer so the
// spam guard can escalate from a purge to real timeouts for repeat
// offenders. Counters live in Redis:
//
//	Key:   offense:<login>
//	Value: offense count
//	TTL:   Window, set on the first offense so the window does not slide
package offense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for offense counters.
	Prefix = "offense:"

	// Window is how long an offense counter lives after the first offense.
	Window = 24 * time.Hour

	// Escalating timeouts. The first offense only gets the guard's purge.
	Second = 10 * time.Minute
	Third  = time.Hour
)

// Duration returns the extra timeout for the n-th offense within the
// window, or zero when the purge alone is enough.
func Duration(n int64) time.Duration {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return Second
	default:
		return Third
	}
}

func key(name string) string {
	return Prefix + strings.ToLower(name)
}

// Store counts offenses in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates an offense store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Count returns the offenses recorded for name in the current window.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	n, err := s.client.Get(ctx, key(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("offense: count: %w", err)
	}
	return n, nil
}

// Escalate records an offense and returns the timeout it earns.
func (s *Store) Escalate(ctx context.Context, name string) (time.Duration, error) {
	k := key(name)
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("offense: incr: %w", err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, k, Window).Err(); err != nil {
			return 0, fmt.Errorf("offense: expire: %w", err)
		}
	}
	return Duration(n), nil
}

// Forgive clears the offenses of name.
func (s *Store) Forgive(ctx context.Context, name string) error {
	return s.client.Del(ctx, key(name)).Err()
}

// Memory is an in-process Store for deployments without Redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	count   int64
	expires time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Count returns the offenses recorded for name in the current window.
func (m *Memory) Count(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(key(name)).count, nil
}

// Escalate records an offense and returns the timeout it earns.
func (m *Memory) Escalate(_ context.Context, name string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(name)
	e := m.live(k)
	if e.count == 0 {
		e.expires = m.now().Add(Window)
	}
	e.count++
	m.entries[k] = e
	return Duration(e.count), nil
}

// Forgive clears the offenses of name.
func (m *Memory) Forgive(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.entries, key(name))
	m.mu.Unlock()
	return nil
}

func (m *Memory) live(k string) memoryEntry {
	e, ok := m.entries[k]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, k)
		return memoryEntry{}
	}
	return e
}
