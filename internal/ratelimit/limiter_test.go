package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLimiter connects to a local Redis and removes test keys before and
// after the test. Tests are skipped when Redis is not running.
func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	clean := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client), client
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "event %d should be allowed", i+1)
	}
	ok, err := l.Allow(ctx, "u1", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "u2", rule)
	require.NoError(t, err)
	assert.True(t, ok, "identifiers are counted separately")
}

func TestAllow_SetsFixedWindow(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 10, Window: time.Minute}

	_, err := l.Allow(ctx, "ttl", rule)
	require.NoError(t, err)
	ttl, err := client.TTL(ctx, "rl:test:ttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestAllow_WindowExpires(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Second}

	ok, _ := l.Allow(ctx, "exp", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "exp", rule)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, _ = l.Allow(ctx, "exp", rule)
	assert.True(t, ok)
}

func TestAllow_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client)

	ok, err := l.Allow(context.Background(), "u1", RuleMessage)
	assert.True(t, ok)
	assert.Error(t, err)
}
