package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"go.uber.org/zap"
)

// Config holds the JetStream connection settings
type Config struct {
	URL        string
	StreamName string
	ClientName string
}

// Event is the envelope published on the bus
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Handler processes a delivered event. Returning an error NAKs the message.
type Handler func(ctx context.Context, event *Event) error

// Bus publishes and consumes events over NATS JetStream
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	stream string
	subs   []*nats.Subscription
}

// NewEvent wraps data into an Event with a fresh id
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// New connects to NATS and makes sure the stream exists
func New(cfg Config) (*Bus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("eventbus: disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("eventbus: reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return nil, fmt.Errorf("lookup stream %s: %w", cfg.StreamName, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: []string{StreamSubjects},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
		logger.Info("eventbus: created stream", zap.String("stream", cfg.StreamName))
	}

	return &Bus{conn: conn, js: js, stream: cfg.StreamName}, nil
}

// Publish sends event on subject and waits for the JetStream ack.
// The event id doubles as the message id so redeliveries are deduplicated.
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.js.Publish(subject, payload, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches a durable push consumer to subject
func (b *Bus) Subscribe(ctx context.Context, subject, durable string, handler Handler) error {
	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("eventbus: dropping malformed event",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			_ = msg.Term()
			return
		}

		if err := handler(ctx, &event); err != nil {
			logger.Warn("eventbus: handler failed",
				zap.String("subject", msg.Subject),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.BindStream(b.stream))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Conn exposes the underlying connection for health checks
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// Close drains subscriptions and closes the connection
func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Drain()
	}
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}
