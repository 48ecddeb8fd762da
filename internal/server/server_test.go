package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/newssite/internal/logging"
	"github.com/TobiSchelling/newssite/internal/messaging/messagingtest"
	"github.com/TobiSchelling/newssite/internal/ndjson"
	"github.com/TobiSchelling/newssite/internal/tracking"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

type testEnv struct {
	db       *warehouse.DB
	broker   *messagingtest.Broker
	sessions *tracking.MemorySessions
	tracker  *tracking.Tracker
	srv      *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := warehouse.Open(filepath.Join(t.TempDir(), "test.db"), warehouse.DefaultTables())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	broker := messagingtest.NewBroker()
	sessions := tracking.NewMemorySessions()
	tracker := tracking.NewTracker(broker, "news.tracking", time.Second, logging.Discard())
	srv, err := New(db, sessions, tracker, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return &testEnv{db: db, broker: broker, sessions: sessions, tracker: tracker, srv: srv}
}

func (e *testEnv) loadArticles(t *testing.T, n int) {
	t.Helper()
	articles := make([]warehouse.Article, n)
	for i := range articles {
		articles[i] = warehouse.Article{
			ArticleID:     fmt.Sprintf("art-%02d", i),
			ArticleOrder:  i,
			LoadTimestamp: "2026-10-14T08:00:00Z",
			Title:         fmt.Sprintf("Story number %d", i),
			URL:           fmt.Sprintf("https://example.com/story/%d", i),
			Source:        "Example",
			PublishedAt:   "2026-10-14T07:00:00Z",
		}
	}
	data, err := ndjson.Encode(articles)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := e.db.LoadNDJSON(context.Background(), e.db.Tables().Articles, "news/batch.json", data); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func (e *testEnv) loadClick(t *testing.T, userID, articleID string) {
	t.Helper()
	data, err := ndjson.Encode([]tracking.Event{{
		UserID:    userID,
		Timestamp: "2026-10-14T09:00:00Z",
		Event:     warehouse.EventClick,
		ArticleID: articleID,
		Sort:      warehouse.SortLatest,
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := e.db.LoadNDJSON(context.Background(), e.db.Tables().Tracking, "tracking/click.json", data); err != nil {
		t.Fatalf("load click: %v", err)
	}
}

func (e *testEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) events(t *testing.T) []tracking.Event {
	t.Helper()
	e.tracker.Flush()
	var out []tracking.Event
	for _, data := range e.broker.Published() {
		var ev tracking.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestIndexRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "Server running" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.get("/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHomeEmptyWarehouse(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/home")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No articles loaded yet") {
		t.Error("expected empty-state message")
	}
	if len(env.events(t)) != 0 {
		t.Error("expected no impressions for an empty feed")
	}
}

func TestHomeRendersFeedAndTracksImpressions(t *testing.T) {
	env := newTestEnv(t)
	env.loadArticles(t, 25)

	rec := env.get("/home")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Story number 0") {
		t.Error("expected latest article title in page")
	}
	if !strings.Contains(body, "/static/tracking/art-00") {
		t.Error("expected tracking link in page")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != tracking.CookieName {
		t.Fatalf("expected user_id cookie, got %+v", cookies)
	}
	userID := cookies[0].Value

	events := env.events(t)
	// 20 latest + 6 random; without clicks nothing is popular or personalized.
	if len(events) != 26 {
		t.Fatalf("expected 26 impressions, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Event != warehouse.EventImpression || ev.UserID != userID {
			t.Errorf("unexpected event %+v", ev)
		}
	}

	feed, err := env.sessions.LoadFeed(context.Background(), userID)
	if err != nil || len(feed) != 26 {
		t.Errorf("expected feed saved to session, got %d rows (err %v)", len(feed), err)
	}
}

func TestHomeWithoutClicksShowsEmptyPicks(t *testing.T) {
	env := newTestEnv(t)
	env.loadArticles(t, 3)

	rec := env.get("/home")
	if !strings.Contains(rec.Body.String(), "Nothing here yet") {
		t.Error("expected empty picks when there is nothing popular or personalized")
	}
}

func TestHomeCountsHits(t *testing.T) {
	env := newTestEnv(t)

	first := env.get("/home")
	cookie := first.Result().Cookies()[0]
	env.get("/home", cookie)
	rec := env.get("/home", cookie)

	if !strings.Contains(rec.Body.String(), "visits: 3") {
		t.Error("expected third visit to be counted")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("expected no new cookie for a returning visitor")
	}
}

func TestTrackClickRedirects(t *testing.T) {
	env := newTestEnv(t)
	env.loadArticles(t, 5)

	cookie := env.get("/home").Result().Cookies()[0]
	env.events(t)
	for _, m := range must(env.broker.Fetch(context.Background(), 100, 0)) {
		m.Ack()
	}

	rec := env.get("/static/tracking/art-03", cookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/story/3" {
		t.Errorf("unexpected redirect %q", loc)
	}

	events := env.events(t)
	if len(events) != 1 {
		t.Fatalf("expected one click event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != warehouse.EventClick || ev.ArticleID != "art-03" || ev.UserID != cookie.Value {
		t.Errorf("unexpected click %+v", ev)
	}
	if ev.Sort == "" {
		t.Error("expected sort tag carried from the rendered feed")
	}
}

func TestTrackClickWithoutSessionFeed(t *testing.T) {
	env := newTestEnv(t)
	env.loadArticles(t, 3)

	rec := env.get("/static/tracking/art-01")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/story/1" {
		t.Errorf("unexpected redirect %q", loc)
	}
	events := env.events(t)
	if len(events) != 1 || events[0].Event != warehouse.EventClick {
		t.Fatalf("expected one click event, got %+v", events)
	}
	if events[0].Sort != warehouse.SortLatest {
		t.Errorf("expected click outside the session feed tagged %q, got %q", warehouse.SortLatest, events[0].Sort)
	}
}

func TestTrackClickUnknownArticle(t *testing.T) {
	env := newTestEnv(t)
	env.loadArticles(t, 3)

	rec := env.get("/static/tracking/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if len(env.events(t)) != 0 {
		t.Error("expected no click published for unknown article")
	}
}

func TestPersonalizedFallsBackToPopular(t *testing.T) {
	env := newTestEnv(t)
	env.loadArticles(t, 3)
	env.loadClick(t, "someone-else", "art-02")

	rec := env.get("/home")
	if strings.Contains(rec.Body.String(), "Nothing here yet") {
		t.Error("expected popular articles in place of missing recommendations")
	}
}

func TestAboutRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/about")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>About</h1>") {
		t.Error("expected markdown rendered to HTML")
	}
	if !strings.Contains(body, "<code>user_id</code>") {
		t.Error("expected inline code rendered")
	}
}

func TestStaticRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/assets/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for static CSS, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)
	env.get("/home")

	rec := env.get("/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "newssite_feed_requests_total") {
		t.Error("expected feed request counter exported")
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
