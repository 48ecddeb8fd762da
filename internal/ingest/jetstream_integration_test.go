//go:build integration

package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/TobiSchelling/newssite/internal/logging"
	natsclient "github.com/TobiSchelling/newssite/internal/messaging/nats"
	"github.com/TobiSchelling/newssite/internal/retry"
	"github.com/TobiSchelling/newssite/internal/staging"
)

func runJetStream(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("failed to create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestTrackingPipelineOverJetStream(t *testing.T) {
	ctx := context.Background()
	cfg := natsclient.DefaultConfig()
	cfg.URL = runJetStream(t)
	nc, err := natsclient.Connect(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })

	if err := nc.EnsureStream(ctx, natsclient.StreamConfig{Name: "NEWS_TRACKING", Subjects: []string{"news.tracking.>"}}); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	sub, err := nc.PullSubscription(ctx, "NEWS_TRACKING", natsclient.ConsumerConfig{
		Name:          "news-tracking-loader",
		FilterSubject: "news.tracking.>",
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		t.Fatalf("pull subscription: %v", err)
	}

	src, err := staging.OpenObjectStore(ctx, nc.JetStream(), "tracking-staging")
	if err != nil {
		t.Fatalf("open staging: %v", err)
	}
	dst, err := staging.OpenObjectStore(ctx, nc.JetStream(), "tracking-processed")
	if err != nil {
		t.Fatalf("open processed: %v", err)
	}

	payloads := []string{"not json"}
	for i := 0; i < 12; i++ {
		payloads = append(payloads, event(fmt.Sprintf("u%d", i%4), fmt.Sprintf("a%d", i)))
	}
	for _, p := range payloads {
		fut, err := nc.PublishAsync(ctx, "news.tracking.click", []byte(p))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if _, err := fut.Wait(ctx); err != nil {
			t.Fatalf("publish ack: %v", err)
		}
	}

	db := openTestDB(t)
	job := &TrackingJob{
		Puller: &Puller{
			Sub:    sub,
			Bucket: src,
			Prefix: TrackingPrefix,
			Batch:  10,
			Wait:   500 * time.Millisecond,
			Logger: logging.Discard(),
			Now:    fixedClock(),
		},
		Archive:  dst,
		Loader:   &Loader{Store: db, Logger: logging.Discard()},
		Table:    "tracking_events",
		MaxPulls: 5,
		Policy:   retry.Policy{Attempts: 1, Logger: logging.Discard()},
		Logger:   logging.Discard(),
	}

	// The first run meets the undecodable message and aborts its batch.
	for run := 0; run < 3; run++ {
		job.Run(ctx)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Clicks != 12 {
		t.Fatalf("expected all 12 valid clicks loaded, got %d", stats.Clicks)
	}

	left, err := src.List(ctx)
	if err != nil {
		t.Fatalf("list staging: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected staging emptied, got %+v", left)
	}
	archived, err := dst.List(ctx)
	if err != nil {
		t.Fatalf("list processed: %v", err)
	}
	if len(archived) == 0 {
		t.Error("expected archived tracking objects")
	}
	if len(archived) != stats.LoadedObjects {
		t.Errorf("expected one archive object per load, got %d archived and %d loaded", len(archived), stats.LoadedObjects)
	}
}
