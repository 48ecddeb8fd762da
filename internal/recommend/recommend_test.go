package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/TobiSchelling/newssite/internal/logging"
	"github.com/TobiSchelling/newssite/internal/ndjson"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

func TestWardSeparatesGroups(t *testing.T) {
	vectors := [][]float64{
		{0, 0},
		{5, 5},
		{0, 0.1},
		{5, 5.1},
	}
	labels := Ward(vectors, 1.0)
	want := []int{0, 1, 0, 1}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, labels)
		}
	}
}

func TestWardThresholdExtremes(t *testing.T) {
	vectors := [][]float64{{0}, {1}, {3}, {10}}

	all := Ward(vectors, 100)
	for i, l := range all {
		if l != 0 {
			t.Errorf("point %d: expected single topic, got %v", i, all)
		}
	}

	none := Ward(vectors, 0.5)
	seen := map[int]bool{}
	for _, l := range none {
		seen[l] = true
	}
	if len(seen) != len(vectors) {
		t.Errorf("expected singletons, got %v", none)
	}
}

func TestWardEdgeCases(t *testing.T) {
	if got := Ward(nil, 1); got != nil {
		t.Errorf("expected nil for no vectors, got %v", got)
	}
	if got := Ward([][]float64{{1, 2}}, 1); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected single label, got %v", got)
	}
}

func TestTermEmbedderUnitVectors(t *testing.T) {
	vectors, err := TermEmbedder{}.Embed(context.Background(), []string{
		"Mars rover lands",
		"Mars rover lands",
		"Stock markets rally",
		"the and of",
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if d := squaredDistance(vectors[0], vectors[1]); d > 1e-9 {
		t.Errorf("identical texts should coincide, got %f", d)
	}
	if d := squaredDistance(vectors[0], vectors[2]); d < 1.999 || d > 2.001 {
		t.Errorf("disjoint texts should be orthogonal unit vectors, got %f", d)
	}
	for _, x := range vectors[3] {
		if x != 0 {
			t.Error("stop-word-only text should embed to zero")
		}
	}
}

func TestTopicLabel(t *testing.T) {
	got := topicLabel([]warehouse.Article{
		{Title: "Mars rover lands on Mars crater"},
		{Title: "Mars rover finds water"},
	})
	if got != "mars rover lands" {
		t.Errorf("unexpected label %q", got)
	}
	if got := topicLabel([]warehouse.Article{{Title: "The"}}); got != "general" {
		t.Errorf("expected fallback label, got %q", got)
	}
}

type fakeStore struct {
	latest  []warehouse.Article
	clicked []warehouse.Article
	clicks  []warehouse.Click
	rows    []warehouse.PersonalizedRow
	written bool
}

func (f *fakeStore) LatestArticles(context.Context) ([]warehouse.Article, error) { return f.latest, nil }
func (f *fakeStore) ClickedArticles(context.Context) ([]warehouse.Article, error) {
	return f.clicked, nil
}
func (f *fakeStore) Clicks(context.Context) ([]warehouse.Click, error) { return f.clicks, nil }
func (f *fakeStore) ReplacePersonalized(_ context.Context, rows []warehouse.PersonalizedRow) error {
	f.rows = rows
	f.written = true
	return nil
}

func article(id, title string) warehouse.Article {
	return warehouse.Article{ArticleID: id, Title: title, URL: "https://example.com/" + id}
}

func scenario() *fakeStore {
	a1 := article("a1", "Mars rover lands on Mars crater")
	a2 := article("a2", "Mars rover finds water")
	b1 := article("b1", "Stock markets rally")
	b2 := article("b2", "Stock markets fall")
	c1 := article("c1", "Local football team wins cup")
	old := article("o1", "Mars rover spotted")

	return &fakeStore{
		latest:  []warehouse.Article{a1, a2, b1, b2, c1},
		clicked: []warehouse.Article{old, a1, b1},
		clicks: []warehouse.Click{
			{UserID: "u1", ArticleID: "o1", URL: old.URL},
			{UserID: "u2", ArticleID: "b1", URL: b1.URL},
			{UserID: "u3", ArticleID: "a1", URL: a1.URL},
		},
	}
}

func rowsFor(rows []warehouse.PersonalizedRow, user string) map[string]warehouse.PersonalizedRow {
	out := map[string]warehouse.PersonalizedRow{}
	for _, r := range rows {
		if r.UserID == user {
			out[r.Article.ArticleID] = r
		}
	}
	return out
}

func TestRebuild(t *testing.T) {
	store := scenario()
	r := New(store, nil, 0, logging.Discard())

	sum, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if sum.Topics != 3 || sum.Users != 3 || sum.Rows != 6 || sum.Articles != 6 {
		t.Errorf("unexpected summary %+v", sum)
	}

	u1 := rowsFor(store.rows, "u1")
	if len(u1) != 2 || u1["a1"].Topic != "mars rover lands" {
		t.Fatalf("expected u1 to get the mars topic, got %+v", u1)
	}
	if u1["a1"].TotalClicks != 2 {
		t.Errorf("expected 2 clicks on mars topic, got %d", u1["a1"].TotalClicks)
	}
	if u1["a1"].UserAlreadyClicked {
		t.Error("u1 never clicked a1")
	}

	u3 := rowsFor(store.rows, "u3")
	if !u3["a1"].UserAlreadyClicked || u3["a2"].UserAlreadyClicked {
		t.Errorf("unexpected already-clicked flags %+v", u3)
	}

	u2 := rowsFor(store.rows, "u2")
	if len(u2) != 2 || u2["b2"].TotalClicks != 1 {
		t.Errorf("unexpected u2 rows %+v", u2)
	}
	if _, ok := u2["c1"]; ok {
		t.Error("unclicked topics must not be recommended")
	}
}

func TestRebuildMatchesStoriesAcrossBatchesByURL(t *testing.T) {
	current := article("new-id", "Mars rover lands")
	previous := current
	previous.ArticleID = "old-id"

	store := &fakeStore{
		latest:  []warehouse.Article{current},
		clicked: []warehouse.Article{previous},
		clicks:  []warehouse.Click{{UserID: "u1", ArticleID: "old-id", URL: previous.URL}},
	}
	if _, err := New(store, nil, 0, logging.Discard()).Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(store.rows) != 1 || !store.rows[0].UserAlreadyClicked {
		t.Errorf("expected the re-fetched story to count as clicked, got %+v", store.rows)
	}
}

func TestRebuildWithoutClicksClearsTable(t *testing.T) {
	store := scenario()
	store.clicks = nil

	sum, err := New(store, nil, 0, logging.Discard()).Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !store.written || len(store.rows) != 0 || sum.Rows != 0 {
		t.Errorf("expected empty rebuild, got %+v", sum)
	}
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("model not loaded")
}

func TestRebuildEmbedderFailureKeepsTable(t *testing.T) {
	store := scenario()
	if _, err := New(store, brokenEmbedder{}, 0, logging.Discard()).Rebuild(context.Background()); err == nil {
		t.Fatal("expected embed error")
	}
	if store.written {
		t.Error("personalized table must not be replaced on failure")
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float64, len(req.Input))
		for i := range out {
			out[i] = []float64{3, 4}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	vectors, err := NewOllamaEmbedder("nomic-embed-text", srv.URL).Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 || vectors[0][0] != 0.6 || vectors[0][1] != 0.8 {
		t.Errorf("expected normalized vectors, got %v", vectors)
	}
}

func TestRebuildAgainstWarehouse(t *testing.T) {
	db, err := warehouse.Open(filepath.Join(t.TempDir(), "w.db"), warehouse.DefaultTables())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	s := scenario()
	for i := range s.latest {
		s.latest[i].ArticleOrder = i
		s.latest[i].LoadTimestamp = "2026-10-14 09:00:00"
	}
	old := s.clicked[0]
	old.LoadTimestamp = "2026-10-13 09:00:00"

	load := func(table, object string, records any) {
		t.Helper()
		var data []byte
		var err error
		switch r := records.(type) {
		case []warehouse.Article:
			data, err = ndjson.Encode(r)
		case []map[string]string:
			data, err = ndjson.Encode(r)
		}
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := db.LoadNDJSON(ctx, table, object, data); err != nil {
			t.Fatalf("load %s: %v", object, err)
		}
	}
	load("articles", "news-1.ndjson", []warehouse.Article{old})
	load("articles", "news-2.ndjson", s.latest)

	var events []map[string]string
	for _, c := range s.clicks {
		events = append(events, map[string]string{
			"user_id": c.UserID, "event": "click", "timestamp": "2026-10-14T09:30:00Z", "article_id": c.ArticleID,
		})
	}
	load("tracking_events", "tracking-1.ndjson", events)

	sum, err := New(db, nil, 0, logging.Discard()).Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if sum.Rows != 6 {
		t.Errorf("expected 6 personalized rows, got %+v", sum)
	}

	feed, err := db.Feed(ctx, "u3")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	var personalized []string
	for _, a := range feed {
		if a.Sort == warehouse.SortPersonalized {
			personalized = append(personalized, a.ArticleID)
		}
	}
	if len(personalized) != 1 || personalized[0] != "a2" {
		t.Errorf("expected only the unclicked mars story for u3, got %v", personalized)
	}
}
