// Package backend exposes the ingestion jobs and the recommender rebuild over HTTP.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TobiSchelling/newssite/internal/ingest"
	"github.com/TobiSchelling/newssite/internal/recommend"
)

// NewsRunner runs one news fetch-and-load.
type NewsRunner interface {
	Run(ctx context.Context) (ingest.NewsSummary, error)
}

// TrackingRunner runs one tracking pull-and-load.
type TrackingRunner interface {
	Run(ctx context.Context) (ingest.TrackingSummary, error)
}

// Rebuilder rebuilds the personalized table.
type Rebuilder interface {
	Rebuild(ctx context.Context) (recommend.Summary, error)
}

// Response is the JSON body of every job route.
type Response struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
	Summary  any    `json:"summary,omitempty"`
}

// Server is the backend HTTP server.
type Server struct {
	news      NewsRunner
	tracking  TrackingRunner
	recommend Rebuilder
	logger    *slog.Logger
	mux       *http.ServeMux

	// One lock per job; a second request while one runs gets 409.
	newsMu      sync.Mutex
	trackingMu  sync.Mutex
	recommendMu sync.Mutex
}

// New creates a backend server. Any runner may be nil, in which case its
// route answers 503.
func New(news NewsRunner, tracking TrackingRunner, rec Rebuilder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		news:      news,
		tracking:  tracking,
		recommend: rec,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	newsJob := s.job("get_and_load_news", &s.newsMu, func(ctx context.Context) (any, error) {
		if s.news == nil {
			return nil, errUnavailable
		}
		return s.news.Run(ctx)
	})
	trackingJob := s.job("get_and_load_tracking", &s.trackingMu, func(ctx context.Context) (any, error) {
		if s.tracking == nil {
			return nil, errUnavailable
		}
		return s.tracking.Run(ctx)
	})
	recommendJob := s.job("get_recommendations", &s.recommendMu, func(ctx context.Context) (any, error) {
		if s.recommend == nil {
			return nil, errUnavailable
		}
		return s.recommend.Rebuild(ctx)
	})

	s.mux.Handle("POST /get_and_load_news", newsJob)
	s.mux.Handle("GET /get_and_load_news", newsJob)
	s.mux.Handle("POST /get_and_load_tracking", trackingJob)
	s.mux.Handle("GET /get_and_load_tracking", trackingJob)
	s.mux.Handle("POST /get_recommendations", recommendJob)
}

var errUnavailable = errors.New("job not configured")

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Backend server running")
}

// job wraps run as a handler. The run outlives a disconnected client.
func (s *Server) job(name string, mu *sync.Mutex, run func(ctx context.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !mu.TryLock() {
			writeJSON(w, http.StatusConflict, Response{Status: "busy", Error: name + " is already running"})
			return
		}
		defer mu.Unlock()

		started := time.Now()
		summary, err := run(context.WithoutCancel(r.Context()))
		resp := Response{Status: "ok", Duration: time.Since(started).Round(time.Millisecond).String(), Summary: summary}

		code := http.StatusOK
		if err != nil {
			code = statusFor(err)
			resp.Status = "error"
			resp.Error = err.Error()
			s.logger.Error("job failed", "job", name, "status", code, "error", err)
		} else {
			s.logger.Info("job finished", "job", name, "duration", resp.Duration)
		}
		writeJSON(w, code, resp)
	}
}

// statusFor maps a job error to an HTTP status. A stage that gave up on an
// upstream (broker, bucket, news API, warehouse) is a gateway failure.
func statusFor(err error) int {
	var se *ingest.StepError
	switch {
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
