// Package relay binds client events to the presence, admission and delivery
// components. Each handler reports failures to the originating connection
// only.
package relay

import (
	"context"
	"errors"
	"log"

	"github.com/Joginder1706/backend-socket/internal/admission"
	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/delivery"
	"github.com/Joginder1706/backend-socket/internal/presence"
	"github.com/Joginder1706/backend-socket/internal/protocol"
	"github.com/Joginder1706/backend-socket/internal/ratelimit"
	"github.com/Joginder1706/backend-socket/internal/store"
	"github.com/Joginder1706/backend-socket/internal/ws"
)

// Transport writes frames to live connections.
type Transport interface {
	SendMessage(connID string, data []byte) error
	BroadcastExcept(data []byte, exclude ...string)
}

// Admitter runs a message through admission.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) (*admission.Result, error)
}

// ReadMarker clears the unread and pinned flags of a message.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID int64) error
}

// Limiter is the flood guard. A nil Limiter allows everything.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Caller identifies the connection an event arrived on.
type Caller struct {
	ConnID string
	UserID chat.UserID // 0 for an unidentified connection
}

// floodKey identifies the caller for the message flood guard: the handshake
// user, shared across their connections, or the connection itself when
// unidentified.
func (c Caller) floodKey() string {
	if c.UserID != 0 {
		return c.UserID.String()
	}
	return "conn:" + c.ConnID
}

// Deps are the components a Service coordinates.
type Deps struct {
	Registry  *presence.Registry
	Presence  *presence.Broadcaster
	Router    *delivery.Router
	Admission Admitter
	Reads     ReadMarker
	Limiter   Limiter
	Transport Transport
}

// Service handles client events.
type Service struct {
	registry  *presence.Registry
	presence  *presence.Broadcaster
	router    *delivery.Router
	admission Admitter
	reads     ReadMarker
	limiter   Limiter
	transport Transport
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	return &Service{
		registry:  d.Registry,
		presence:  d.Presence,
		router:    d.Router,
		admission: d.Admission,
		reads:     d.Reads,
		limiter:   d.Limiter,
		transport: d.Transport,
	}
}

// Register installs the event handlers on dispatcher. ctx bounds every
// store call made by the handlers and is cancelled on shutdown.
func (s *Service) Register(ctx context.Context, dispatcher *ws.MessageDispatcher) {
	caller := func(c *ws.Connection) Caller {
		return Caller{ConnID: c.ID, UserID: c.UserID}
	}

	dispatcher.Register(protocol.TypeJoinRoomSelectedUser, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinRoomSelectedUserMsg); ok {
			s.JoinRoomSelectedUser(caller(c), m)
		}
	})
	dispatcher.Register(protocol.TypeRemoveSelectedUser, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.RemoveSelectedUserMsg); ok {
			s.RemoveSelectedUser(caller(c), m)
		}
	})
	dispatcher.Register(protocol.TypeSendMessage, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendMessageMsg); ok {
			s.SendMessage(ctx, caller(c), m)
		}
	})
	typing := func(eventType string) ws.MessageHandler {
		return func(c *ws.Connection, msg interface{}) {
			if m, ok := msg.(protocol.TypingMsg); ok {
				s.Typing(ctx, caller(c), eventType, m)
			}
		}
	}
	dispatcher.Register(protocol.TypeTyping, typing(protocol.TypeTyping))
	dispatcher.Register(protocol.TypeStopTyping, typing(protocol.TypeStopTyping))
	dispatcher.Register(protocol.TypeMessageRead, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.MessageReadMsg); ok {
			s.MessageRead(ctx, caller(c), m)
		}
	})
}

// Connected is the transport's connect hook.
func (s *Service) Connected(c Caller) {
	s.presence.Connected(c.ConnID, c.UserID)
}

// Disconnected is the transport's disconnect hook.
func (s *Service) Disconnected(c Caller) {
	s.presence.Disconnected(c.ConnID)
}

// JoinRoomSelectedUser sets the caller connection's focus. Requests for a
// user the connection is not registered to are dropped.
func (s *Service) JoinRoomSelectedUser(c Caller, m protocol.JoinRoomSelectedUserMsg) {
	if !s.registry.SetFocus(c.ConnID, m.UserID, m.SelectedUserID) {
		log.Printf("[relay] ignoring focus for unregistered user=%s session=%s", m.UserID, c.ConnID)
	}
}

// RemoveSelectedUser clears the caller connection's focus.
func (s *Service) RemoveSelectedUser(c Caller, m protocol.RemoveSelectedUserMsg) {
	if !s.registry.ClearFocus(c.ConnID, m.UserID) {
		log.Printf("[relay] ignoring focus clear for unregistered user=%s session=%s", m.UserID, c.ConnID)
	}
}

// SendMessage checks the sender against the connection's identity, applies
// the flood guard and admits the message. Rejections go back to the caller
// as errorMessage.
func (s *Service) SendMessage(ctx context.Context, c Caller, m protocol.SendMessageMsg) {
	if c.UserID != 0 && m.SenderID != c.UserID {
		log.Printf("[relay] sendMessage sender=%s on session=%s owned by user=%s", m.SenderID, c.ConnID, c.UserID)
		s.sendError(c.ConnID, admission.CodeInvalidInput, "senderId does not match connection")
		return
	}
	if !s.allow(ctx, c.floodKey(), ratelimit.RuleMessage) {
		s.sendError(c.ConnID, admission.CodeRateLimited, "too many messages, slow down")
		return
	}

	res, err := s.admission.Admit(ctx, admission.Request{
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Text:            m.Text,
		ImageURL:        m.ImageURL,
		ClientTimestamp: m.ClientTimestamp(),
	})
	if err != nil {
		var aerr *admission.Error
		if errors.As(err, &aerr) {
			if aerr.Code == admission.CodeStoreError {
				log.Printf("[relay] sendMessage sender=%s receiver=%s: %v", m.SenderID, m.ReceiverID, err)
			}
			s.sendError(c.ConnID, aerr.Code, aerr.Message)
			return
		}
		log.Printf("[relay] sendMessage sender=%s receiver=%s: %v", m.SenderID, m.ReceiverID, err)
		s.sendError(c.ConnID, admission.CodeStoreError, "failed to send message")
		return
	}

	log.Printf("[relay] message id=%d sender=%s receiver=%s restricted=%v delivered=%d",
		res.Message.ID, m.SenderID, m.ReceiverID, res.Message.IsRestricted, res.Delivered)
}

// Typing relays typing and stopTyping to the receiver's connections. Excess
// signals are dropped silently.
func (s *Service) Typing(ctx context.Context, c Caller, eventType string, m protocol.TypingMsg) {
	if m.SenderID <= 0 || m.ReceiverID <= 0 {
		return
	}
	if !s.allow(ctx, c.ConnID, ratelimit.RuleTyping) {
		return
	}
	s.router.Typing(eventType, m.SenderID, m.ReceiverID)
}

// MessageRead clears the message's unread and pinned flags and notifies
// every other connection.
func (s *Service) MessageRead(ctx context.Context, c Caller, m protocol.MessageReadMsg) {
	if m.MessageID <= 0 {
		s.sendError(c.ConnID, admission.CodeInvalidInput, "messageId is required")
		return
	}

	if err := s.reads.MarkRead(ctx, m.MessageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(c.ConnID, admission.CodeInvalidInput, "message not found")
			return
		}
		log.Printf("[relay] messageRead id=%d session=%s: %v", m.MessageID, c.ConnID, err)
		s.sendError(c.ConnID, admission.CodeStoreError, "failed to mark message read")
		return
	}
	s.router.SenderRead(m.MessageID, c.ConnID)
}

func (s *Service) allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, identifier, rule)
	if err != nil {
		log.Printf("[relay] rate limit %s%s: %v", rule.Key, identifier, err)
	}
	return ok
}

func (s *Service) sendError(connID, code, message string) {
	data, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		log.Printf("[relay] build errorMessage: %v", err)
		return
	}
	if err := s.transport.SendMessage(connID, data); err != nil {
		log.Printf("[relay] send errorMessage to session=%s: %v", connID, err)
	}
}
