package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Joginder1706/backend-socket/internal/chat"
)

// SaveMessage persists msg and moves the pair's chat aggregate to it in one
// transaction, returning the new message id. Either both rows are written or
// neither is.
func (s *Store) SaveMessage(ctx context.Context, msg *chat.Message) (int64, error) {
	var id int64
	err := s.withReconnect(ctx, "save message", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if id, err = insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if err := upsertChat(ctx, tx, chat.NewChat(msg.SenderID, msg.ReceiverID, id, msg.Timestamp)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("store: save message: %w", err)
	}
	return id, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *chat.Message) (int64, error) {
	const query = `
		INSERT INTO messages (sender_id, receiver_id, message_text, image_url, sent_at, is_read, is_pinned, restricted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	imageURL := sql.NullString{String: msg.ImageURL, Valid: msg.ImageURL != ""}

	var id int64
	err := tx.QueryRowContext(ctx, query,
		int64(msg.SenderID),
		int64(msg.ReceiverID),
		msg.Text,
		imageURL,
		msg.Timestamp,
		msg.IsRead,
		msg.IsPinned,
		msg.IsRestricted,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// upsertChat creates the chat aggregate for the pair or moves its
// last-message pointer to c.
func upsertChat(ctx context.Context, tx *sql.Tx, c chat.Chat) error {
	const query = `
		INSERT INTO chats (chat_id, user1_id, user2_id, last_message_id, last_message_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id) DO UPDATE
		SET last_message_id = EXCLUDED.last_message_id,
		    last_message_timestamp = EXCLUDED.last_message_timestamp`

	_, err := tx.ExecContext(ctx, query,
		c.Key,
		int64(c.User1),
		int64(c.User2),
		c.LastMessageID,
		c.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("upsert chat %s: %w", c.Key, err)
	}
	return nil
}

// CountMessagesSentToday counts messages sent by userID since the start of
// the current day in the database's time zone.
func (s *Store) CountMessagesSentToday(ctx context.Context, userID chat.UserID) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE sender_id = $1
		  AND sent_at >= date_trunc('day', now())`

	var count int
	err := s.withReconnect(ctx, "count messages", func() error {
		return s.db.QueryRowContext(ctx, query, int64(userID)).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("store: count messages sent today: %w", err)
	}
	return count, nil
}

// SetUnread toggles the unread flag of a message. is_read is inverted in
// the schema: true means unread.
func (s *Store) SetUnread(ctx context.Context, messageID int64, unread bool) error {
	const query = `UPDATE messages SET is_read = $2 WHERE id = $1`
	return s.updateMessage(ctx, "set unread", query, messageID, unread)
}

// MarkRead clears both the unread and pinned flags of a message.
func (s *Store) MarkRead(ctx context.Context, messageID int64) error {
	const query = `UPDATE messages SET is_read = false, is_pinned = false WHERE id = $1`
	return s.updateMessage(ctx, "mark read", query, messageID)
}

func (s *Store) updateMessage(ctx context.Context, op, query string, args ...interface{}) error {
	var res sql.Result
	err := s.withReconnect(ctx, op, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s: message %v: %w", op, args[0], ErrNotFound)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
