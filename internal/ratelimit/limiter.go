// Package ratelimit provides Redis-backed fixed-window rate limiting. The
// relay uses it as a flood guard in front of the admission pipeline, keyed by
// user for messages and by connection for typing signals.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a limit of Limit events per Window for keys starting with Key.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage allows 20 messages per 10 seconds per user, across all of
	// the user's connections.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleTyping allows 30 typing signals per 10 seconds per connection.
	RuleTyping = Rule{Key: "rl:typing:", Limit: 30, Window: 10 * time.Second}
)

// Limiter checks rules against Redis.
type Limiter struct {
	client redis.Cmdable
}

// NewLimiter creates a Limiter using client.
func NewLimiter(client redis.Cmdable) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one event for identifier under rule and reports whether it is
// within the limit. The counter and its expiry are set in one transaction;
// the expiry is only set when the key has none, so the window is fixed from
// the first event. Redis errors fail open: the event is allowed and the
// error returned for logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		log.Printf("[ratelimit] redis error key=%s: %v (failing open)", key, err)
		return true, err
	}

	return int(incr.Val()) <= rule.Limit, nil
}
