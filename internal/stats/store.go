// Package stats keeps cross-session counters (deaths, plusches) that outlive a
// single bot process. It exposes only get and increment.
package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every counter key in Redis.
const KeyPrefix = "stats:"

// Store keeps counters in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a store on an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get returns the current value of a counter. Missing counters read as zero.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, KeyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stats: get %s: %w", key, err)
	}
	return n, nil
}

// Incr adds delta to every key atomically and returns the new values in
// key order.
func (s *Store) Incr(ctx context.Context, delta int64, keys ...string) ([]int64, error) {
	pipe := s.client.TxPipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.IncrBy(ctx, KeyPrefix+key, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("stats: incr %v: %w", keys, err)
	}

	out := make([]int64, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

// Memory is an in-process counter store used when Redis is not configured.
// Values are lost on restart.
type Memory struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{counters: make(map[string]int64)}
}

// Get returns the current value of a counter.
func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

// Incr adds delta to every key and returns the new values in key order.
func (m *Memory) Incr(_ context.Context, delta int64, keys ...string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int64, len(keys))
	for i, key := range keys {
		m.counters[key] += delta
		out[i] = m.counters[key]
	}
	return out, nil
}
