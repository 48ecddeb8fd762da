package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/newssite/internal/config"
	"github.com/TobiSchelling/newssite/internal/ingest"
	natsclient "github.com/TobiSchelling/newssite/internal/messaging/nats"
	"github.com/TobiSchelling/newssite/internal/news"
	"github.com/TobiSchelling/newssite/internal/recommend"
	"github.com/TobiSchelling/newssite/internal/retry"
	"github.com/TobiSchelling/newssite/internal/staging"
	"github.com/TobiSchelling/newssite/internal/tracking"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

func openWarehouse() (*warehouse.DB, error) {
	db, err := warehouse.Open(cfg.WarehousePath(), tablesFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening warehouse: %w", err)
	}
	return db, nil
}

func tablesFrom(c *config.Config) warehouse.Tables {
	return warehouse.Tables{
		Articles:     c.Warehouse.ArticlesTable,
		Tracking:     c.Warehouse.TrackingTable,
		Personalized: c.Warehouse.PersonalizedTable,
	}
}

func retryPolicy() retry.Policy {
	return retry.Policy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay, Logger: logger}
}

// connectBroker dials NATS and makes sure the tracking stream exists.
func connectBroker(ctx context.Context) (*natsclient.Client, error) {
	b := cfg.Broker
	nc, err := natsclient.Connect(natsclient.Config{
		URL:           b.URL,
		Name:          b.ClientName,
		MaxReconnects: -1,
		ReconnectWait: b.ReconnectWait,
		Timeout:       natsclient.DefaultConfig().Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	err = nc.EnsureStream(ctx, natsclient.StreamConfig{
		Name:     b.Stream,
		Subjects: []string{b.Subject + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	return nc, nil
}

// connectStorageBroker connects only when buckets live in NATS.
func connectStorageBroker(ctx context.Context) (*natsclient.Client, error) {
	if cfg.Storage.Backend != "nats" {
		return nil, nil
	}
	return connectBroker(ctx)
}

func openBucket(ctx context.Context, nc *natsclient.Client, name string) (staging.Bucket, error) {
	if cfg.Storage.Backend == "nats" {
		if nc == nil {
			return nil, fmt.Errorf("bucket %s: nats storage backend needs a broker connection", name)
		}
		return staging.OpenObjectStore(ctx, nc.JetStream(), name)
	}
	return staging.OpenDir(cfg.StorageDir(), name)
}

// openSessions uses Redis when configured and reachable, memory otherwise.
func openSessions(ctx context.Context) tracking.Sessions {
	if cfg.Session.RedisURL == "" {
		logger.Info("no redis url configured, using in-memory sessions")
		return tracking.NewMemorySessions()
	}
	opts, err := redis.ParseURL(cfg.Session.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory sessions", "error", err)
		return tracking.NewMemorySessions()
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory sessions", "addr", opts.Addr, "error", err)
		client.Close()
		return tracking.NewMemorySessions()
	}
	logger.Info("using redis sessions", "addr", opts.Addr)
	return tracking.NewRedisSessions(client, cfg.Session.TTL)
}

func buildNewsJob(ctx context.Context, db *warehouse.DB, nc *natsclient.Client) (*ingest.NewsJob, error) {
	src := cfg.Sources
	stagingBucket, err := openBucket(ctx, nc, cfg.Storage.NewsStagingBucket)
	if err != nil {
		return nil, err
	}
	archive, err := openBucket(ctx, nc, cfg.Storage.NewsProcessedBucket)
	if err != nil {
		return nil, err
	}

	job := &ingest.NewsJob{
		Domains:  src.NewsAPI.Domains,
		DaysBack: src.NewsAPI.DaysBack,
		Staging:  stagingBucket,
		Archive:  archive,
		Loader:   &ingest.Loader{Store: db, Logger: logger},
		Table:    db.Tables().Articles,
		Policy:   retryPolicy(),
		Logger:   logger,
	}

	// Interface fields stay nil unless the source is really available.
	if src.NewsAPI.Enabled {
		client := news.NewClient(news.Options{
			APIKey:            cfg.NewsAPIKey(),
			BaseURL:           src.NewsAPI.BaseURL,
			Language:          src.NewsAPI.Language,
			PageSize:          src.NewsAPI.PageSize,
			RequestsPerSecond: src.NewsAPI.RequestsPerSecond,
			Logger:            logger,
		})
		if client.IsConfigured() {
			job.API = client
		} else {
			logger.Warn("newsapi enabled but no API key set", "env", src.NewsAPI.APIKeyEnv)
		}
	}
	if len(src.Feeds) > 0 {
		feeds := make([]news.Feed, len(src.Feeds))
		for i, f := range src.Feeds {
			feeds[i] = news.Feed{URL: f.URL, Name: f.Name}
		}
		job.Feeds = news.NewFeedReader(feeds, logger)
	}
	if src.Enrich.Enabled {
		job.Enricher = news.NewEnricher(src.Enrich.Timeout, logger)
	}
	return job, nil
}

func buildTrackingJob(ctx context.Context, db *warehouse.DB, nc *natsclient.Client) (*ingest.TrackingJob, error) {
	b := cfg.Broker
	sub, err := nc.PullSubscription(ctx, b.Stream, natsclient.ConsumerConfig{
		Name:          b.Consumer,
		FilterSubject: b.Subject + ".>",
		AckWait:       b.AckWait,
		MaxDeliver:    b.MaxDeliver,
	})
	if err != nil {
		return nil, err
	}
	stagingBucket, err := openBucket(ctx, nc, cfg.Storage.TrackingStagingBucket)
	if err != nil {
		return nil, err
	}
	archive, err := openBucket(ctx, nc, cfg.Storage.TrackingProcessedBucket)
	if err != nil {
		return nil, err
	}

	return &ingest.TrackingJob{
		Puller: &ingest.Puller{
			Sub:    sub,
			Bucket: stagingBucket,
			Prefix: ingest.TrackingPrefix,
			Batch:  b.BatchSize,
			Wait:   b.FetchWait,
			Logger: logger,
		},
		Archive:  archive,
		Loader:   &ingest.Loader{Store: db, Logger: logger},
		Table:    db.Tables().Tracking,
		MaxPulls: maxPulls,
		Policy:   retryPolicy(),
		Logger:   logger,
	}, nil
}

// maxPulls bounds one tracking run to a few hundred events.
const maxPulls = 50

func buildRecommender(db *warehouse.DB) *recommend.Recommender {
	r := cfg.Recommender
	var embedder recommend.Embedder
	switch r.Embedder {
	case "ollama":
		embedder = recommend.NewOllamaEmbedder(r.EmbeddingModel, r.OllamaURL)
	default:
		embedder = recommend.TermEmbedder{}
	}
	return recommend.New(db, embedder, r.DistanceThreshold, logger.With(slog.String("job", "recommend")))
}
