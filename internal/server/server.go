// Package server is the front end: it renders personalized feeds and tracks
// what each visitor sees and clicks.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/newssite/internal/metrics"
	"github.com/TobiSchelling/newssite/internal/tracking"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

//go:embed content/about.md
var aboutMarkdown []byte

var md = goldmark.New()

// Feeds reads articles from the warehouse.
type Feeds interface {
	Feed(ctx context.Context, userID string) ([]warehouse.FeedArticle, error)
	ArticleByID(ctx context.Context, articleID string) (*warehouse.FeedArticle, error)
}

// Tracker publishes impression and click events.
type Tracker interface {
	TrackImpressions(ctx context.Context, feed []warehouse.FeedArticle, userID string) int
	TrackClick(ctx context.Context, feed []warehouse.FeedArticle, articleID, userID string) (string, error)
}

// Server is the front-end HTTP server.
type Server struct {
	feeds    Feeds
	sessions tracking.Sessions
	tracker  Tracker
	logger   *slog.Logger
	pages    map[string]*template.Template
	about    template.HTML
	mux      *http.ServeMux
}

// New creates a new Server.
func New(feeds Feeds, sessions tracking.Sessions, tracker Tracker, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"year": func() int { return time.Now().Year() },
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not collide.
	pageNames := []string{"home.html", "about.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		feeds:    feeds,
		sessions: sessions,
		tracker:  tracker,
		logger:   logger,
		pages:    pages,
		about:    renderMarkdown(aboutMarkdown),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(staticSub))))
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /home", s.handleHome)
	s.mux.HandleFunc("GET /static/tracking/{article_id}", s.handleTrackClick)
	s.mux.HandleFunc("GET /about", s.handleAbout)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Server running")
}

// countHits returns the visitor's hit count, or 0 if the session store failed.
func (s *Server) countHits(ctx context.Context, userID string) int64 {
	hits, err := s.sessions.CountHits(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to count hits", "user_id", userID, "error", err)
		return 0
	}
	return hits
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics.FeedRequests.WithLabelValues("home").Inc()

	userID := tracking.UserID(w, r)
	hits := s.countHits(ctx, userID)

	feed, err := s.feeds.Feed(ctx, userID)
	if err != nil {
		s.logger.Error("failed to query feed", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	bySort := make(map[string][]warehouse.FeedArticle)
	for _, a := range feed {
		bySort[a.Sort] = append(bySort[a.Sort], a)
	}
	personalized := bySort[warehouse.SortPersonalized]
	if len(personalized) == 0 {
		personalized = bySort[warehouse.SortPopular]
	}

	if err := s.sessions.SaveFeed(ctx, userID, feed); err != nil {
		s.logger.Warn("failed to save feed to session", "user_id", userID, "error", err)
	}
	s.tracker.TrackImpressions(ctx, feed, userID)

	s.render(w, "home.html", map[string]any{
		"Title":        "Home",
		"UserID":       userID,
		"Hits":         hits,
		"Latest":       bySort[warehouse.SortLatest],
		"Personalized": personalized,
		"Random":       bySort[warehouse.SortRandom],
	})
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	articleID := r.PathValue("article_id")
	userID := tracking.UserID(w, r)

	feed, err := s.sessions.LoadFeed(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load feed from session", "user_id", userID, "error", err)
	}

	target, err := s.tracker.TrackClick(ctx, feed, articleID, userID)
	if errors.Is(err, tracking.ErrArticleNotFound) {
		// The click came from a page this session did not render.
		article, lookupErr := s.feeds.ArticleByID(ctx, articleID)
		if errors.Is(lookupErr, warehouse.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if lookupErr != nil {
			s.logger.Error("failed to look up article", "article_id", articleID, "error", lookupErr)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if article.Sort == "" {
			article.Sort = warehouse.SortLatest
		}
		target, err = s.tracker.TrackClick(ctx, []warehouse.FeedArticle{*article}, articleID, userID)
	}
	if err != nil || target == "" {
		http.NotFound(w, r)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	metrics.FeedRequests.WithLabelValues("about").Inc()
	userID := tracking.UserID(w, r)
	hits := s.countHits(r.Context(), userID)

	s.render(w, "about.html", map[string]any{
		"Title":  "About",
		"UserID": userID,
		"Hits":   hits,
		"Body":   s.about,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("error rendering template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text []byte) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert(text, &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(string(text)))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the server on addr until ctx is canceled.
func Serve(ctx context.Context, srv *Server, addr string, logger *slog.Logger) error {
	return ListenAndServe(ctx, srv.Handler(), addr, logger)
}

// ListenAndServe runs handler on addr and shuts it down gracefully when ctx ends.
func ListenAndServe(ctx context.Context, handler http.Handler, addr string, logger *slog.Logger) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server", "addr", addr)
		return httpSrv.Shutdown(shutdownCtx)
	}
}
