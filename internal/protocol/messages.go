// Package protocol defines the WebSocket event types and structures used for
// communication between clients and the relay. All events are serialized as
// JSON and carry a "type" discriminator naming the event.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Joginder1706/backend-socket/internal/chat"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoinRoomSelectedUser = "joinRoomSelectedUser"
	TypeRemoveSelectedUser   = "removeSelectedUser"
	TypeSendMessage          = "sendMessage"
	TypeMessageRead          = "messageRead"
	TypePing                 = "ping"
)

// Typing signals travel in both directions with the same payload.
const (
	TypeTyping     = "typing"
	TypeStopTyping = "stopTyping"
)

// Server -> Client event types.
const (
	TypeOnlineUsers         = "onlineUsers"
	TypeUserOnline          = "userOnline"
	TypeUserOffline         = "userOffline"
	TypeReceiveMessage      = "receiveMessage"
	TypeSendForOfflineUsers = "sendForOfflineUsers"
	TypeSenderRead          = "senderRead"
	TypeErrorMessage        = "errorMessage"
	TypePong                = "pong"
)

// ---------------------------------------------------------------------------
// Envelope: initial parse that extracts the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinRoomSelectedUserMsg tells the relay which conversation the user is
// currently viewing.
type JoinRoomSelectedUserMsg struct {
	Type           string      `json:"type"`
	UserID         chat.UserID `json:"userId"`
	SelectedUserID chat.UserID `json:"selectedUserId"`
}

// RemoveSelectedUserMsg clears the user's current conversation focus.
type RemoveSelectedUserMsg struct {
	Type   string      `json:"type"`
	UserID chat.UserID `json:"userId"`
}

// SendMessageMsg is a new chat message submitted by a client.
type SendMessageMsg struct {
	Type       string          `json:"type"`
	SenderID   chat.UserID     `json:"senderId"`
	ReceiverID chat.UserID     `json:"receiverId"`
	Text       string          `json:"text"`
	ImageURL   string          `json:"imageUrl"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

// ClientTimestamp returns the client-supplied timestamp as text: the string
// value if it was a JSON string, the literal otherwise, and "" when absent
// or null.
func (m SendMessageMsg) ClientTimestamp() string {
	raw := bytes.TrimSpace(m.Timestamp)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}

// TypingMsg signals that the sender started or stopped typing to receiver.
// It is used for both typing and stopTyping events, in both directions.
type TypingMsg struct {
	Type       string      `json:"type"`
	SenderID   chat.UserID `json:"senderId"`
	ReceiverID chat.UserID `json:"receiverId"`
}

// MessageReadMsg marks a message as read by its receiver.
type MessageReadMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// OnlineUsersMsg carries the full online-user list, sent to a connection once
// it has been identified.
type OnlineUsersMsg struct {
	Type  string        `json:"type"`
	Users []chat.UserID `json:"users"`
}

// UserPresenceMsg announces a userOnline or userOffline transition.
type UserPresenceMsg struct {
	Type   string      `json:"type"`
	UserID chat.UserID `json:"userId"`
}

// ReceiveMessageMsg delivers a persisted message. It is used for both
// receiveMessage and sendForOfflineUsers events.
type ReceiveMessageMsg struct {
	Type           string       `json:"type"`
	Message        chat.Message `json:"message"`
	ReceiverOnline bool         `json:"receiver_online"`
}

// SenderReadMsg notifies clients that a message has been read.
type SenderReadMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

// ErrorMsg reports a rejected request to the originating connection.
type ErrorMsg struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoomSelectedUser:
		var m JoinRoomSelectedUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRemoveSelectedUser:
		var m RemoveSelectedUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewErrorMessage builds an errorMessage event.
func NewErrorMessage(code, message string) ([]byte, error) {
	return NewServerMessage(TypeErrorMessage, ErrorMsg{Code: code, Error: message})
}
