// Package audit persists moderation events to PostgreSQL so rejected and
// restricted messages can be reviewed after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/moderation"
)

// validKinds matches the CHECK constraint on moderation_events.kind.
var validKinds = map[string]bool{
	moderation.KindRejected:   true,
	moderation.KindRestricted: true,
}

// Store writes moderation events.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one moderation event. Rejected events carry no message id.
func (s *Store) Record(ctx context.Context, ev moderation.FlaggedEvent) error {
	if !validKinds[ev.Kind] {
		return fmt.Errorf("audit: invalid kind %q", ev.Kind)
	}

	const query = `
		INSERT INTO moderation_events (kind, sender_id, receiver_id, message_id, reasons, term, hints, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	messageID := sql.NullInt64{Int64: ev.MessageID, Valid: ev.MessageID != 0}
	term := sql.NullString{String: ev.Term, Valid: ev.Term != ""}
	createdAt := time.Now()
	if ev.Ts > 0 {
		createdAt = time.UnixMilli(ev.Ts)
	}

	_, err := s.db.ExecContext(ctx, query,
		ev.Kind,
		int64(ev.SenderID),
		int64(ev.ReceiverID),
		messageID,
		pq.Array(nonNil(ev.Reasons)),
		term,
		pq.Array(nonNil(ev.Hints)),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of events recorded against senderID within
// window.
func (s *Store) CountRecent(ctx context.Context, senderID chat.UserID, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_events
		WHERE sender_id = $1
		  AND created_at >= NOW() - $2 * INTERVAL '1 second'`

	var count int
	err := s.db.QueryRowContext(ctx, query, int64(senderID), int64(window/time.Second)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
