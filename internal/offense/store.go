// Package offense counts moderation offenses per sender in Redis. Counters
// live for a fixed 24 hour window from the first offense:
//
//	Key:   offense:<userID>
//	Value: count
//	TTL:   Window
package offense

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Joginder1706/backend-socket/internal/chat"
)

const (
	// Prefix is the Redis key prefix for offense counters.
	Prefix = "offense:"

	// Window is how long a counter lives after its first offense.
	Window = 24 * time.Hour

	// Threshold is the offense count within Window at which a sender is
	// reported as a repeat offender.
	Threshold = 3
)

// Store manages offense counters.
type Store struct {
	client redis.Cmdable
}

// NewStore creates a Store using client.
func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func key(userID chat.UserID) string {
	return Prefix + userID.String()
}

// Record adds one offense for userID and returns the count in the current
// window. repeat is true exactly once per window, when the count first
// reaches Threshold.
func (s *Store) Record(ctx context.Context, userID chat.UserID) (count int, repeat bool, err error) {
	k := key(userID)

	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, false, fmt.Errorf("offense: incr: %w", err)
	}
	// Set the TTL only on the first offense so the window does not slide.
	if n == 1 {
		if err := s.client.Expire(ctx, k, Window).Err(); err != nil {
			return int(n), false, fmt.Errorf("offense: expire: %w", err)
		}
	}
	return int(n), n == Threshold, nil
}
