package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/TobiSchelling/newssite/internal/messaging"
	"github.com/TobiSchelling/newssite/internal/metrics"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// ErrArticleNotFound is returned when a clicked article is not in the feed.
var ErrArticleNotFound = errors.New("article not in feed")

// DefaultPublishWait bounds how long a detached publish waits for the broker.
const DefaultPublishWait = 30 * time.Second

// Tracker publishes tracking events without making the caller wait.
type Tracker struct {
	pub     messaging.Publisher
	subject string
	wait    time.Duration
	logger  *slog.Logger
	now     func() time.Time
	pending sync.WaitGroup
}

// NewTracker creates a Tracker publishing to "<subject>.<event>".
func NewTracker(pub messaging.Publisher, subject string, wait time.Duration, logger *slog.Logger) *Tracker {
	if wait <= 0 {
		wait = DefaultPublishWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{pub: pub, subject: subject, wait: wait, logger: logger, now: time.Now}
}

// TrackImpressions publishes one impression per article in feed and returns
// how many were handed to the broker.
func (t *Tracker) TrackImpressions(ctx context.Context, feed []warehouse.FeedArticle, userID string) int {
	now := t.now()
	sent := 0
	for _, a := range feed {
		if t.publish(ctx, ImpressionPayload(a, userID, now)) {
			sent++
		}
	}
	return sent
}

// TrackClick finds articleID in feed, publishes a click for it and returns
// the article URL.
func (t *Tracker) TrackClick(ctx context.Context, feed []warehouse.FeedArticle, articleID, userID string) (string, error) {
	for _, a := range feed {
		if a.ArticleID != articleID {
			continue
		}
		t.logger.Info("tracking link click", "article_id", articleID, "user_id", userID, "title", a.Title, "url", a.URL)
		t.publish(ctx, ClickPayload(a, userID, t.now()))
		return a.URL, nil
	}
	return "", ErrArticleNotFound
}

// Flush blocks until every detached publish wait has finished.
func (t *Tracker) Flush() {
	t.pending.Wait()
}

func (t *Tracker) publish(ctx context.Context, ev Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		t.logger.Error("failed to encode tracking event", "event", ev.Event, "error", err)
		return false
	}

	// The response may be written before the broker answers.
	ctx = context.WithoutCancel(ctx)
	fut, err := t.pub.PublishAsync(ctx, t.subject+"."+ev.Event, data)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Event, "failed").Inc()
		t.logger.Error("failed to publish message", "event", ev.Event, "article_id", ev.ArticleID, "error", err)
		return false
	}

	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		waitCtx, cancel := context.WithTimeout(ctx, t.wait)
		defer cancel()

		id, err := fut.Wait(waitCtx)
		if err != nil {
			metrics.EventsPublished.WithLabelValues(ev.Event, "failed").Inc()
			t.logger.Error("failed to publish message", "event", ev.Event, "article_id", ev.ArticleID, "error", err)
			return
		}
		metrics.EventsPublished.WithLabelValues(ev.Event, "ok").Inc()
		t.logger.Debug("published message", "id", id, "event", ev.Event, "article_id", ev.ArticleID)
	}()
	return true
}
