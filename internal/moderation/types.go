package moderation

import "github.com/Joginder1706/backend-socket/internal/chat"

// Event kinds carried by FlaggedEvent.
const (
	KindRejected   = "rejected"   // blocked by the text filter, not persisted
	KindRestricted = "restricted" // persisted with the restricted flag set
)

// FlaggedEvent is published to moderation.flagged by the relay whenever a
// message is rejected on content grounds or admitted as restricted.
type FlaggedEvent struct {
	Kind       string      `json:"kind"`
	SenderID   chat.UserID `json:"sender_id"`
	ReceiverID chat.UserID `json:"receiver_id"`
	MessageID  int64       `json:"message_id,omitempty"`
	Reasons    []string    `json:"reasons"`
	Term       string      `json:"term,omitempty"`
	Hints      []string    `json:"hints,omitempty"`
	Ts         int64       `json:"ts"`
}
