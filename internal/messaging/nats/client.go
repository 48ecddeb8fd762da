// Package nats provides the JetStream implementation of the messaging
// interfaces.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/TobiSchelling/newssite/internal/messaging"
)

// Config holds NATS connection settings.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies the client connection on the server.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "newssite",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client is a JetStream-enabled NATS connection.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect dials NATS and creates a JetStream context.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	return &Client{conn: conn, js: js, logger: logger}, nil
}

// JetStream exposes the JetStream context, e.g. for object stores.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() error {
	return c.conn.Drain()
}

// StreamConfig defines the tracking stream.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// EnsureStream creates or updates a file-backed work-queue stream.
func (c *Client) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("creating/updating stream %s: %w", cfg.Name, err)
	}
	return nil
}

// PublishAsync hands data to JetStream and returns immediately.
func (c *Client) PublishAsync(ctx context.Context, subject string, data []byte) (messaging.Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := c.js.PublishAsync(subject, data)
	if err != nil {
		return nil, fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return pubFuture{f: f}, nil
}

type pubFuture struct {
	f jetstream.PubAckFuture
}

func (p pubFuture) Wait(ctx context.Context) (string, error) {
	select {
	case ack := <-p.f.Ok():
		return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
	case err := <-p.f.Err():
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ConsumerConfig defines a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	// AckWait is how long the server waits for an ack before redelivering.
	AckWait    time.Duration
	MaxDeliver int
}

// PullSubscription binds a durable explicit-ack consumer on stream.
func (c *Client) PullSubscription(ctx context.Context, stream string, cfg ConsumerConfig) (*Subscription, error) {
	s, err := c.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("getting stream %s: %w", stream, err)
	}
	consumer, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("creating/updating consumer %s: %w", cfg.Name, err)
	}
	return &Subscription{consumer: consumer, logger: c.logger}, nil
}

// Subscription pulls from a JetStream consumer.
type Subscription struct {
	consumer jetstream.Consumer
	logger   *slog.Logger
}

// Fetch pulls up to batch messages.
func (s *Subscription) Fetch(ctx context.Context, batch int, wait time.Duration) ([]messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = left
		}
	}

	msgs, err := s.consumer.Fetch(batch, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	var out []messaging.Message
	for msg := range msgs.Messages() {
		out = append(out, message{msg: msg})
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		// Messages already received stay unacked and will be redelivered.
		return nil, fmt.Errorf("fetch completed with error: %w", err)
	}
	return out, nil
}

type message struct {
	msg jetstream.Msg
}

func (m message) Subject() string { return m.msg.Subject() }
func (m message) Data() []byte    { return m.msg.Data() }
func (m message) Ack() error      { return m.msg.Ack() }
func (m message) Nak() error      { return m.msg.Nak() }
func (m message) Term() error     { return m.msg.Term() }
