// Package ingest moves data into the warehouse: it stages NDJSON objects from
// the news API and the tracking subscription, then loads and archives them.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/newssite/internal/messaging"
	"github.com/TobiSchelling/newssite/internal/metrics"
	"github.com/TobiSchelling/newssite/internal/ndjson"
	"github.com/TobiSchelling/newssite/internal/retry"
	"github.com/TobiSchelling/newssite/internal/staging"
)

// DefaultBatchSize is how many messages one pull takes.
const DefaultBatchSize = 10

// PullResult reports one pull-and-stage pass.
type PullResult struct {
	Messages int    `json:"messages"`
	Object   string `json:"object,omitempty"`
}

// Puller drains a pull subscription into NDJSON staging objects.
type Puller struct {
	Sub    messaging.Subscription
	Bucket staging.Bucket
	Prefix string
	Batch  int
	Wait   time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// PullAndStage fetches up to Batch messages, writes them as one NDJSON object
// and only then acks them. If any message is not a JSON object, nothing is
// written and nothing is acked: the bad messages are terminated and the rest
// are nacked for the next pull. No messages means no object.
func (p *Puller) PullAndStage(ctx context.Context) (PullResult, error) {
	var res PullResult
	batch := p.batchSize()
	logger := p.logger()

	msgs, err := p.Sub.Fetch(ctx, batch, p.Wait)
	if err != nil {
		return res, fmt.Errorf("pulling messages: %w", err)
	}
	res.Messages = len(msgs)
	if len(msgs) == 0 {
		logger.Info("no tracking messages pending")
		return res, nil
	}

	docs := make([]json.RawMessage, 0, len(msgs))
	var rejected []int
	var firstErr error
	for i, m := range msgs {
		var obj map[string]any
		if err := json.Unmarshal(m.Data(), &obj); err != nil {
			rejected = append(rejected, i)
			if firstErr == nil {
				firstErr = fmt.Errorf("message %d on %s is not a JSON object: %w", i, m.Subject(), err)
			}
			continue
		}
		docs = append(docs, json.RawMessage(m.Data()))
	}
	if len(rejected) > 0 {
		p.reject(msgs, rejected)
		return res, retry.Permanent(firstErr)
	}

	data, err := ndjson.EncodeRaw(docs)
	if err != nil {
		return res, retry.Permanent(err)
	}

	name := ndjson.ObjectName(p.Prefix, p.now())
	if err := p.Bucket.Put(ctx, name, data); err != nil {
		return res, fmt.Errorf("writing %s/%s: %w", p.Bucket.Name(), name, err)
	}
	metrics.ObjectsStaged.WithLabelValues(p.Bucket.Name()).Inc()
	res.Object = name

	for i, m := range msgs {
		if err := m.Ack(); err != nil {
			// The object is already staged; redelivered duplicates are
			// caught by the warehouse manifest only if contents match.
			logger.Warn("failed to ack message", "index", i, "object", name, "error", err)
			continue
		}
		metrics.MessagesPulled.Inc()
	}

	logger.Info("staged tracking messages", "messages", len(msgs), "bucket", p.Bucket.Name(), "object", name)
	return res, nil
}

// reject terminates the undecodable messages and naks the rest, so the valid
// ones come back on the next pull instead of waiting out the ack timeout.
func (p *Puller) reject(msgs []messaging.Message, bad []int) {
	logger := p.logger()
	isBad := make(map[int]bool, len(bad))
	for _, i := range bad {
		isBad[i] = true
	}
	for i, m := range msgs {
		if isBad[i] {
			logger.Error("dropping undecodable tracking message", "index", i, "subject", m.Subject(), "data", preview(m.Data()))
			if err := m.Term(); err != nil {
				logger.Warn("failed to terminate message", "index", i, "error", err)
			}
			metrics.MessagesRejected.Inc()
			continue
		}
		if err := m.Nak(); err != nil {
			logger.Warn("failed to nak message", "index", i, "error", err)
		}
	}
}

func preview(data []byte) string {
	const limit = 200
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

func (p *Puller) batchSize() int {
	if p.Batch <= 0 {
		return DefaultBatchSize
	}
	return p.Batch
}

func (p *Puller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Puller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
