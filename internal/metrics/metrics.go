package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Front end
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newssite_feed_requests_total",
			Help: "Total number of page renders by route",
		},
		[]string{"route"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newssite_events_published_total",
			Help: "Tracking events handed to the broker, by event type and publish outcome",
		},
		[]string{"event", "status"},
	)

	// Backend
	MessagesPulled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newssite_messages_pulled_total",
			Help: "Total number of tracking messages pulled and acknowledged",
		},
	)

	MessagesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newssite_messages_rejected_total",
			Help: "Tracking messages terminated because they were not JSON objects",
		},
	)

	ObjectsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newssite_objects_staged_total",
			Help: "Total number of NDJSON objects written to staging buckets",
		},
		[]string{"bucket"},
	)

	ObjectsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newssite_objects_loaded_total",
			Help: "Staged objects processed by the loader, by table and result",
		},
		[]string{"table", "result"},
	)

	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newssite_rows_loaded_total",
			Help: "Total number of rows inserted into warehouse tables",
		},
		[]string{"table"},
	)

	RetryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newssite_retry_outcomes_total",
			Help: "Final state of retried operations",
		},
		[]string{"operation", "state"},
	)

	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newssite_load_duration_seconds",
			Help:    "Duration of a single staged object load",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)
)
