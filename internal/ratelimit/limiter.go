// Package ratelimit throttles viewers and dashboards. Limiter is a Redis
// fixed-window counter (INCR + EXPIRE) shared across restarts; Cooldown is an
// in-process per-key cooldown for commands that run on the dispatch loop.
package ratelimit

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:cmd:", "rl:dash:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleCommand allows 5 chat commands per 10 seconds per viewer.
	RuleCommand = Rule{Key: "rl:cmd:", Limit: 5, Window: 10 * time.Second}

	// RuleDashboard allows 10 dashboard connections per minute per IP.
	RuleDashboard = Rule{Key: "rl:dash:", Limit: 10, Window: 1 * time.Minute}
)

// windowScript counts a hit and starts the window on the first one. Running
// both steps in one script means a crash between them cannot leave a key
// without a TTL.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts hits per identifier in Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allower is implemented by *Limiter; transports accept it so tests can
// substitute an in-memory policy.
type Allower interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// Allow records a hit for identifier and reports whether it is still within
// rule. Redis failures fail open: a chat without Redis should still work.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + strings.ToLower(identifier)

	count, err := windowScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		log.Printf("[ratelimit] window %s: %v (allowing)", key, err)
		return true, err
	}
	return count <= int64(rule.Limit), nil
}
