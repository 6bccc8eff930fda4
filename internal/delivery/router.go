// Package delivery fans persisted messages and ancillary signals out to the
// right set of live connections.
package delivery

import (
	"log"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/metrics"
	"github.com/Joginder1706/backend-socket/internal/protocol"
)

// Directory resolves a user to its live connection ids.
type Directory interface {
	FindByUser(userID chat.UserID) []string
}

// Transport writes frames to live connections.
type Transport interface {
	SendMessage(connID string, data []byte) error
	BroadcastExcept(data []byte, exclude ...string)
}

// Router delivers events using the directory at call time, so a connection
// that went away while a message was being admitted is simply skipped.
type Router struct {
	directory Directory
	transport Transport
}

// NewRouter creates a Router.
func NewRouter(directory Directory, transport Transport) *Router {
	return &Router{directory: directory, transport: transport}
}

// DeliverMessage sends receiveMessage to every connection of the sender and
// of the receiver, then a sendForOfflineUsers nudge to every other
// connection. A self-chat message goes to the sender's connections once and
// is never broadcast. It returns the number of receiveMessage frames written.
func (r *Router) DeliverMessage(msg *chat.Message, receiverOnline bool) int {
	payload := protocol.ReceiveMessageMsg{Message: *msg, ReceiverOnline: receiverOnline}

	targets := r.directory.FindByUser(msg.SenderID)
	if !msg.IsSelfChat() {
		targets = append(targets, r.directory.FindByUser(msg.ReceiverID)...)
	}

	data, err := protocol.NewServerMessage(protocol.TypeReceiveMessage, payload)
	if err != nil {
		log.Printf("[delivery] build receiveMessage id=%d: %v", msg.ID, err)
		return 0
	}
	delivered := r.sendAll(targets, data)
	metrics.DeliveriesTotal.WithLabelValues(protocol.TypeReceiveMessage).Add(float64(delivered))

	if msg.IsSelfChat() {
		return delivered
	}

	nudge, err := protocol.NewServerMessage(protocol.TypeSendForOfflineUsers, payload)
	if err != nil {
		log.Printf("[delivery] build sendForOfflineUsers id=%d: %v", msg.ID, err)
		return delivered
	}
	r.transport.BroadcastExcept(nudge, targets...)
	metrics.DeliveriesTotal.WithLabelValues(protocol.TypeSendForOfflineUsers).Inc()
	return delivered
}

// Typing relays a typing or stopTyping signal to the receiver's connections.
func (r *Router) Typing(eventType string, senderID, receiverID chat.UserID) int {
	data, err := protocol.NewServerMessage(eventType, protocol.TypingMsg{
		SenderID:   senderID,
		ReceiverID: receiverID,
	})
	if err != nil {
		log.Printf("[delivery] build %s: %v", eventType, err)
		return 0
	}
	n := r.sendAll(r.directory.FindByUser(receiverID), data)
	metrics.DeliveriesTotal.WithLabelValues(eventType).Add(float64(n))
	return n
}

// SenderRead broadcasts a read notification to every connection except the
// one that reported the read.
func (r *Router) SenderRead(messageID int64, callerConnID string) {
	data, err := protocol.NewServerMessage(protocol.TypeSenderRead, protocol.SenderReadMsg{
		MessageID: messageID,
	})
	if err != nil {
		log.Printf("[delivery] build senderRead id=%d: %v", messageID, err)
		return
	}
	r.transport.BroadcastExcept(data, callerConnID)
	metrics.DeliveriesTotal.WithLabelValues(protocol.TypeSenderRead).Inc()
}

func (r *Router) sendAll(connIDs []string, data []byte) int {
	n := 0
	for _, id := range connIDs {
		if err := r.transport.SendMessage(id, data); err != nil {
			log.Printf("[delivery] send to session=%s: %v", id, err)
			continue
		}
		n++
	}
	return n
}
