// Package chat defines the message and conversation types shared by the
// relay, the admission pipeline and the store, together with the pair-key
// derivation used to correlate a conversation between two users.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserID identifies a platform user. Zero means "none".
type UserID int64

// ParseUserID parses a decimal user id. Empty, non-numeric and non-positive
// values are rejected.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("chat: empty user id")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chat: invalid user id %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("chat: invalid user id %q", s)
	}
	return UserID(n), nil
}

// String returns the decimal form of the id.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts both JSON numbers and numeric strings, since clients
// send either. null and "" decode to zero.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("chat: decode user id: %w", err)
		}
		parsed, err := ParseUserID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat: decode user id: %w", err)
	}
	*id = UserID(n)
	return nil
}

// Message is a persisted chat message. IsRead is inverted: true means the
// receiver has not read it yet.
type Message struct {
	ID           int64     `json:"id"`
	SenderID     UserID    `json:"sender_id"`
	ReceiverID   UserID    `json:"receiver_id"`
	Text         string    `json:"message_text"`
	ImageURL     string    `json:"image_url,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsRead       bool      `json:"is_read"`
	IsPinned     bool      `json:"is_pinned"`
	IsRestricted bool      `json:"restricted"`
}

// IsSelfChat reports whether the message is addressed to its own sender.
func (m *Message) IsSelfChat() bool {
	return m.SenderID == m.ReceiverID
}

// Chat is the per-pair conversation aggregate pointing at its latest message.
type Chat struct {
	Key           string
	User1         UserID // numerically smaller id
	User2         UserID
	LastMessageID int64
	LastMessageAt time.Time
}

// NewChat builds the aggregate for the pair (a, b) with the given last
// message, normalising the user order.
func NewChat(a, b UserID, lastMessageID int64, lastMessageAt time.Time) Chat {
	lo, hi := order(a, b)
	return Chat{
		Key:           Key(a, b),
		User1:         lo,
		User2:         hi,
		LastMessageID: lastMessageID,
		LastMessageAt: lastMessageAt,
	}
}

// Key derives the conversation key for an unordered user pair: the two ids
// joined by "-" with the numerically smaller id first. Key(a, b) == Key(b, a).
func Key(a, b UserID) string {
	lo, hi := order(a, b)
	return lo.String() + "-" + hi.String()
}

func order(a, b UserID) (UserID, UserID) {
	if a <= b {
		return a, b
	}
	return b, a
}
