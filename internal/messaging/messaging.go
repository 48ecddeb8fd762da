// Package messaging defines the pub/sub surface shared by the front end
// (publish) and the backend (pull subscription).
package messaging

import (
	"context"
	"time"
)

// Future resolves once the broker has accepted or rejected a publish.
type Future interface {
	// Wait returns the broker-assigned message id.
	Wait(ctx context.Context) (string, error)
}

// Publisher sends messages without waiting for the broker.
type Publisher interface {
	PublishAsync(ctx context.Context, subject string, data []byte) (Future, error)
}

// Message is a pulled message awaiting acknowledgment.
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	// Nak asks the broker to redeliver the message.
	Nak() error
	// Term tells the broker never to redeliver the message.
	Term() error
}

// Subscription is a pull-based consumer.
type Subscription interface {
	// Fetch returns up to batch pending messages, waiting at most wait.
	// Fewer (or zero) messages is not an error.
	Fetch(ctx context.Context, batch int, wait time.Duration) ([]Message, error)
}
