package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Cooldown enforces a minimum interval between uses of a command per key.
// Exempt keys are never throttled.
type Cooldown struct {
	mu     sync.Mutex
	period time.Duration
	last   map[string]time.Time
	exempt map[string]struct{}
}

// NewCooldown creates a cooldown of the given period.
func NewCooldown(period time.Duration, exempt ...string) *Cooldown {
	c := &Cooldown{
		period: period,
		last:   make(map[string]time.Time),
		exempt: make(map[string]struct{}, len(exempt)),
	}
	for _, e := range exempt {
		c.exempt[strings.ToLower(e)] = struct{}{}
	}
	return c
}

// Remaining returns how long key must still wait, or zero when it may act.
func (c *Cooldown) Remaining(key string, now time.Time) time.Duration {
	key = strings.ToLower(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.exempt[key]; ok {
		return 0
	}
	last, ok := c.last[key]
	if !ok {
		return 0
	}
	if wait := c.period - now.Sub(last); wait > 0 {
		return wait
	}
	delete(c.last, key)
	return 0
}

// Mark records a use by key at now.
func (c *Cooldown) Mark(key string, now time.Time) {
	c.mu.Lock()
	c.last[strings.ToLower(key)] = now
	c.mu.Unlock()
}
