package presence

import (
	"log"
	"time"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/metrics"
	"github.com/Joginder1706/backend-socket/internal/protocol"
)

// Transport writes frames to live connections. Broadcasts reach every
// connection, identified or not.
type Transport interface {
	SendMessage(connID string, data []byte) error
	BroadcastExcept(data []byte, exclude ...string)
}

// Config holds presence tuning parameters.
type Config struct {
	// SettleDelay is how long after an identified connect the presence
	// announcement is sent. Zero announces synchronously.
	SettleDelay time.Duration
}

// DefaultConfig returns the production presence settings.
func DefaultConfig() Config {
	return Config{SettleDelay: 2 * time.Second}
}

// Broadcaster keeps the Registry in step with connection lifecycle events
// and announces online/offline transitions.
type Broadcaster struct {
	registry  *Registry
	transport Transport
	config    Config
}

// NewBroadcaster creates a Broadcaster over the given registry and transport.
func NewBroadcaster(registry *Registry, transport Transport, config Config) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		transport: transport,
		config:    config,
	}
}

// Connected registers an identified connection and schedules its presence
// announcement after the settling delay. Unidentified connections (userID 0)
// are ignored.
func (b *Broadcaster) Connected(connID string, userID chat.UserID) {
	if ok, _ := b.registry.Register(connID, userID); !ok {
		return
	}
	metrics.OnlineUsers.Set(float64(len(b.registry.OnlineUsers())))

	if b.config.SettleDelay <= 0 {
		b.announce(connID, userID)
		return
	}
	time.AfterFunc(b.config.SettleDelay, func() {
		b.announce(connID, userID)
	})
}

// announce sends the full online list to the new connection and, unless the
// user's current online period was already announced by another of their
// connections, a userOnline event to every other connection. It does nothing
// if the connection went away during the settling delay.
func (b *Broadcaster) announce(connID string, userID chat.UserID) {
	if owner, ok := b.registry.UserOf(connID); !ok || owner != userID {
		return
	}

	list, err := protocol.NewServerMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		Users: b.registry.OnlineUsers(),
	})
	if err != nil {
		log.Printf("[presence] build onlineUsers for session=%s: %v", connID, err)
		return
	}
	if err := b.transport.SendMessage(connID, list); err != nil {
		log.Printf("[presence] send onlineUsers to session=%s: %v", connID, err)
	}
	metrics.PresenceEvents.WithLabelValues(protocol.TypeOnlineUsers).Inc()

	if b.registry.MarkAnnounced(userID) {
		b.broadcast(protocol.TypeUserOnline, userID, connID)
	}
}

// Disconnected removes a connection. When it was the user's last one, every
// remaining connection receives userOffline exactly once.
func (b *Broadcaster) Disconnected(connID string) {
	userID, offline := b.registry.Unregister(connID)
	if !offline {
		return
	}
	metrics.OnlineUsers.Set(float64(len(b.registry.OnlineUsers())))
	b.broadcast(protocol.TypeUserOffline, userID, connID)
	log.Printf("[presence] user=%d offline", userID)
}

func (b *Broadcaster) broadcast(eventType string, userID chat.UserID, exclude string) {
	data, err := protocol.NewServerMessage(eventType, protocol.UserPresenceMsg{UserID: userID})
	if err != nil {
		log.Printf("[presence] build %s for user=%d: %v", eventType, userID, err)
		return
	}
	b.transport.BroadcastExcept(data, exclude)
	metrics.PresenceEvents.WithLabelValues(eventType).Inc()
}
