package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/newssite/internal/metrics"
	"github.com/TobiSchelling/newssite/internal/ndjson"
	"github.com/TobiSchelling/newssite/internal/news"
	"github.com/TobiSchelling/newssite/internal/retry"
	"github.com/TobiSchelling/newssite/internal/staging"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// Object name prefixes for staged files.
const (
	NewsPrefix     = "news"
	TrackingPrefix = "tracking"
)

// NewsSource fetches articles from the news API.
type NewsSource interface {
	GetNews(ctx context.Context, from time.Time, domains string) (*news.Response, error)
}

// FeedSource reads extra articles from RSS/Atom feeds.
type FeedSource interface {
	ReadAll(ctx context.Context, since time.Time) []warehouse.Article
}

// ContentEnricher replaces truncated content in place.
type ContentEnricher interface {
	Enrich(ctx context.Context, articles []warehouse.Article) int
}

// Step is the outcome of one retried stage of a job.
type Step struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func step(name string, out retry.Outcome) Step {
	s := Step{Name: name, State: out.State.String(), Attempts: out.Attempts}
	if out.Err != nil {
		s.Error = out.Err.Error()
	}
	return s
}

// StepError reports which stage of a job gave up.
type StepError struct {
	Step    string
	Outcome retry.Outcome
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s after %d attempt(s): %v", e.Step, e.Outcome.State, e.Outcome.Attempts, e.Outcome.Err)
}

func (e *StepError) Unwrap() error {
	return e.Outcome.Err
}

// Exhausted reports whether err is a StepError whose retries ran out.
func Exhausted(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Outcome.State == retry.Exhausted
}

// NewsSummary reports a news fetch-and-load run.
type NewsSummary struct {
	Fetched  int         `json:"fetched"`
	FromFeed int         `json:"from_feeds"`
	Enriched int         `json:"enriched"`
	Object   string      `json:"object,omitempty"`
	Load     LoadSummary `json:"load"`
	Steps    []Step      `json:"steps"`
}

// NewsJob fetches news, stages it as one NDJSON object and loads the staging
// bucket into the articles table.
type NewsJob struct {
	API      NewsSource
	Feeds    FeedSource
	Enricher ContentEnricher
	Domains  string
	DaysBack int

	Staging staging.Bucket
	Archive staging.Bucket
	Loader  *Loader
	Table   string

	Policy retry.Policy
	Logger *slog.Logger
	Now    func() time.Time
}

// Run executes fetch, stage and load, each under the retry policy.
func (j *NewsJob) Run(ctx context.Context) (NewsSummary, error) {
	var sum NewsSummary
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	started := now()
	daysBack := j.DaysBack
	if daysBack <= 0 {
		daysBack = 1
	}
	from := started.AddDate(0, 0, -daysBack)

	var articles []warehouse.Article
	if j.API != nil {
		var resp *news.Response
		out := j.Policy.Do(ctx, "fetch_news", func(ctx context.Context) error {
			var err error
			resp, err = j.API.GetNews(ctx, from, j.Domains)
			var apiErr *news.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return retry.Permanent(err)
			}
			return err
		})
		sum.Steps = append(sum.Steps, step("fetch_news", out))
		if !out.OK() {
			return sum, &StepError{Step: "fetch_news", Outcome: out}
		}
		for _, a := range news.FormatArticles(resp, started) {
			if !news.Removed(a) {
				articles = append(articles, a)
			}
		}
		sum.Fetched = len(articles)
	}

	if j.Feeds != nil {
		extra := j.Feeds.ReadAll(ctx, from)
		sum.FromFeed = len(extra)
		articles = append(articles, extra...)
	}
	news.Renumber(articles, started)

	if j.Enricher != nil && len(articles) > 0 {
		sum.Enriched = j.Enricher.Enrich(ctx, articles)
	}

	if len(articles) > 0 {
		data, err := ndjson.Encode(articles)
		if err != nil {
			return sum, err
		}
		name := ndjson.ObjectName(NewsPrefix, started)
		out := j.Policy.Do(ctx, "stage_news", func(ctx context.Context) error {
			return j.Staging.Put(ctx, name, data)
		})
		sum.Steps = append(sum.Steps, step("stage_news", out))
		if !out.OK() {
			return sum, &StepError{Step: "stage_news", Outcome: out}
		}
		metrics.ObjectsStaged.WithLabelValues(j.Staging.Name()).Inc()
		sum.Object = name
		logger.Info("staged news", "articles", len(articles), "bucket", j.Staging.Name(), "object", name)
	} else {
		logger.Info("no articles fetched")
	}

	// Load runs even with nothing new so leftovers from a failed run get archived.
	out := j.Policy.Do(ctx, "load_news", func(ctx context.Context) error {
		var err error
		sum.Load, err = j.Loader.LoadFromBucket(ctx, j.Staging, j.Archive, j.Table)
		return err
	})
	sum.Steps = append(sum.Steps, step("load_news", out))
	if !out.OK() {
		return sum, &StepError{Step: "load_news", Outcome: out}
	}
	return sum, nil
}

// TrackingSummary reports a tracking pull-and-load run.
type TrackingSummary struct {
	Pulls []PullResult `json:"pulls"`
	Load  LoadSummary  `json:"load"`
	Steps []Step       `json:"steps"`
}

// TrackingJob drains the tracking subscription into the staging bucket and
// loads it into the tracking table.
type TrackingJob struct {
	Puller  *Puller
	Archive staging.Bucket
	Loader  *Loader
	Table   string
	// MaxPulls bounds how many batches one run drains; zero means one.
	MaxPulls int

	Policy retry.Policy
	Logger *slog.Logger
}

// Run pulls until a batch comes back short or MaxPulls batches were staged,
// then loads the staging bucket.
func (j *TrackingJob) Run(ctx context.Context) (TrackingSummary, error) {
	var sum TrackingSummary
	maxPulls := j.MaxPulls
	if maxPulls <= 0 {
		maxPulls = 1
	}

	for i := 0; i < maxPulls; i++ {
		var res PullResult
		out := j.Policy.Do(ctx, "pull_tracking", func(ctx context.Context) error {
			var err error
			res, err = j.Puller.PullAndStage(ctx)
			return err
		})
		sum.Steps = append(sum.Steps, step("pull_tracking", out))
		if !out.OK() {
			return sum, &StepError{Step: "pull_tracking", Outcome: out}
		}
		sum.Pulls = append(sum.Pulls, res)
		if res.Messages < j.Puller.batchSize() {
			break
		}
	}

	out := j.Policy.Do(ctx, "load_tracking", func(ctx context.Context) error {
		var err error
		sum.Load, err = j.Loader.LoadFromBucket(ctx, j.Puller.Bucket, j.Archive, j.Table)
		return err
	})
	sum.Steps = append(sum.Steps, step("load_tracking", out))
	if !out.OK() {
		return sum, &StepError{Step: "load_tracking", Outcome: out}
	}
	return sum, nil
}
