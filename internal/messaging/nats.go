// Package messaging wraps a NATS connection for the events the relay shares
// with its companion services: moderation events published by the relay and
// consumed by the moderator.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Joginder1706/backend-socket/internal/moderation"
)

// NATS subjects.
const (
	SubjectModerationFlagged = "moderation.flagged"
)

// QueueModerators is the queue group moderator instances share, so each
// event is handled by exactly one of them.
const QueueModerators = "moderators"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name shown in server monitoring
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chat-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient wraps a NATS connection and tracks its subscriptions.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSClient connects to NATS. It fails if the first connection attempt
// fails; later disconnects are retried in the background.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// QueueSubscribe registers handler for subject within a queue group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// PublishFlagged publishes a moderation event. ctx is accepted for interface
// symmetry with the store; a NATS publish only buffers locally.
func (c *NATSClient) PublishFlagged(ctx context.Context, ev moderation.FlaggedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal flagged event: %w", err)
	}
	return c.Publish(SubjectModerationFlagged, data)
}

// SubscribeFlagged delivers every moderation event to handler. Malformed
// payloads are logged and dropped.
func (c *NATSClient) SubscribeFlagged(handler func(ev moderation.FlaggedEvent)) error {
	return c.QueueSubscribe(SubjectModerationFlagged, QueueModerators, func(msg *nats.Msg) {
		ev, err := DecodeFlagged(msg.Data)
		if err != nil {
			log.Printf("[nats] %s: %v", SubjectModerationFlagged, err)
			return
		}
		handler(ev)
	})
}

// DecodeFlagged parses a moderation.flagged payload.
func DecodeFlagged(data []byte) (moderation.FlaggedEvent, error) {
	var ev moderation.FlaggedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode flagged event: %w", err)
	}
	if ev.Kind != moderation.KindRejected && ev.Kind != moderation.KindRestricted {
		return ev, fmt.Errorf("decode flagged event: unknown kind %q", ev.Kind)
	}
	return ev, nil
}

// Close drains all subscriptions and the connection, so buffered publishes
// are flushed before it closes.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}
