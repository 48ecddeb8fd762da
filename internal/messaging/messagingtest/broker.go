// Package messagingtest provides an in-memory broker for tests.
package messagingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TobiSchelling/newssite/internal/messaging"
)

// Broker is an in-memory topic with a single pull subscription.
// Unacked fetched messages are redelivered on the next Fetch.
type Broker struct {
	mu         sync.Mutex
	seq        int
	pending    []*Message
	acked      []*Message
	terminated []*Message
	dropped    []*Message
	inFlight   map[int]*Message

	// MaxDeliver, when positive, drops a message after that many deliveries.
	MaxDeliver int

	// PublishErr, when set, fails every publish future.
	PublishErr error
	// FetchErr, when set, fails every Fetch.
	FetchErr error
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{inFlight: make(map[int]*Message)}
}

// PublishAsync implements messaging.Publisher.
func (b *Broker) PublishAsync(ctx context.Context, subject string, data []byte) (messaging.Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PublishErr != nil {
		return future{err: b.PublishErr}, nil
	}
	b.seq++
	msg := &Message{broker: b, seq: b.seq, subject: subject, data: append([]byte(nil), data...)}
	b.pending = append(b.pending, msg)
	return future{id: fmt.Sprintf("mem:%d", msg.seq)}, nil
}

// Fetch implements messaging.Subscription. It never blocks.
func (b *Broker) Fetch(ctx context.Context, batch int, _ time.Duration) ([]messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FetchErr != nil {
		return nil, b.FetchErr
	}

	// Anything fetched earlier and never acked goes back to the front.
	if len(b.inFlight) > 0 {
		var redeliver []*Message
		for _, m := range b.inFlight {
			redeliver = append(redeliver, m)
		}
		sortBySeq(redeliver)
		b.pending = append(redeliver, b.pending...)
		b.inFlight = make(map[int]*Message)
	}

	var out []messaging.Message
	for len(out) < batch && len(b.pending) > 0 {
		m := b.pending[0]
		b.pending = b.pending[1:]
		if b.MaxDeliver > 0 && m.deliveries >= b.MaxDeliver {
			b.dropped = append(b.dropped, m)
			continue
		}
		m.deliveries++
		b.inFlight[m.seq] = m
		out = append(out, m)
	}
	return out, nil
}

// Pending returns the number of messages not yet acked.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) + len(b.inFlight)
}

// Acked returns acknowledged messages in ack order.
func (b *Broker) Acked() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.acked...)
}

// Terminated returns messages rejected with Term, in order.
func (b *Broker) Terminated() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.terminated...)
}

// Dropped returns messages that hit MaxDeliver without being acked.
func (b *Broker) Dropped() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.dropped...)
}

// Published returns payloads of every message not yet acked, oldest first.
func (b *Broker) Published() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var all []*Message
	for _, m := range b.inFlight {
		all = append(all, m)
	}
	all = append(all, b.pending...)
	sortBySeq(all)
	out := make([][]byte, len(all))
	for i, m := range all {
		out[i] = m.data
	}
	return out
}

// Message is an in-memory message.
type Message struct {
	broker     *Broker
	seq        int
	subject    string
	data       []byte
	deliveries int
}

func (m *Message) Subject() string { return m.subject }
func (m *Message) Data() []byte    { return m.data }

// Deliveries reports how many times the message was fetched.
func (m *Message) Deliveries() int { return m.deliveries }

func (m *Message) Ack() error {
	b := m.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inFlight[m.seq]; !ok {
		return fmt.Errorf("message %d not in flight", m.seq)
	}
	delete(b.inFlight, m.seq)
	b.acked = append(b.acked, m)
	return nil
}

func (m *Message) Nak() error {
	b := m.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inFlight[m.seq]; !ok {
		return fmt.Errorf("message %d not in flight", m.seq)
	}
	delete(b.inFlight, m.seq)
	b.pending = append(b.pending, m)
	sortBySeq(b.pending)
	return nil
}

func (m *Message) Term() error {
	b := m.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inFlight[m.seq]; !ok {
		return fmt.Errorf("message %d not in flight", m.seq)
	}
	delete(b.inFlight, m.seq)
	b.terminated = append(b.terminated, m)
	return nil
}

type future struct {
	id  string
	err error
}

func (f future) Wait(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func sortBySeq(ms []*Message) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
}
