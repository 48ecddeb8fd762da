// Package recommend groups articles into topics and rebuilds each visitor's
// personalized article list from the topics they clicked.
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// DefaultDistanceThreshold is the Ward cut height for unit vectors.
const DefaultDistanceThreshold = 1.2

// Store is the warehouse access the recommender needs.
type Store interface {
	LatestArticles(ctx context.Context) ([]warehouse.Article, error)
	ClickedArticles(ctx context.Context) ([]warehouse.Article, error)
	Clicks(ctx context.Context) ([]warehouse.Click, error)
	ReplacePersonalized(ctx context.Context, rows []warehouse.PersonalizedRow) error
}

// Summary reports one rebuild.
type Summary struct {
	Articles int      `json:"articles"`
	Topics   int      `json:"topics"`
	Users    int      `json:"users"`
	Rows     int      `json:"rows"`
	Labels   []string `json:"labels,omitempty"`
}

// Recommender rebuilds the personalized articles table.
type Recommender struct {
	store     Store
	embedder  Embedder
	threshold float64
	logger    *slog.Logger
}

// New creates a Recommender. A nil embedder uses term-frequency vectors.
func New(store Store, embedder Embedder, threshold float64, logger *slog.Logger) *Recommender {
	if embedder == nil {
		embedder = TermEmbedder{}
	}
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{store: store, embedder: embedder, threshold: threshold, logger: logger}
}

func articleText(a warehouse.Article) string {
	return strings.Join([]string{a.Title, a.Description}, " ")
}

// Rebuild clusters the latest batch together with every clicked article, then
// writes, for each visitor and each latest article in a topic they clicked,
// one row carrying the topic's click count across all visitors and whether
// this visitor already clicked that story.
func (r *Recommender) Rebuild(ctx context.Context) (Summary, error) {
	var sum Summary

	latest, err := r.store.LatestArticles(ctx)
	if err != nil {
		return sum, fmt.Errorf("reading latest articles: %w", err)
	}
	clicked, err := r.store.ClickedArticles(ctx)
	if err != nil {
		return sum, fmt.Errorf("reading clicked articles: %w", err)
	}
	clicks, err := r.store.Clicks(ctx)
	if err != nil {
		return sum, fmt.Errorf("reading clicks: %w", err)
	}

	corpus := append([]warehouse.Article(nil), latest...)
	inCorpus := make(map[string]bool, len(latest))
	for _, a := range latest {
		inCorpus[a.ArticleID] = true
	}
	for _, a := range clicked {
		if !inCorpus[a.ArticleID] {
			corpus = append(corpus, a)
			inCorpus[a.ArticleID] = true
		}
	}
	sum.Articles = len(corpus)

	if len(latest) == 0 || len(clicks) == 0 {
		r.logger.Info("nothing to personalize", "latest", len(latest), "clicks", len(clicks))
		return sum, r.store.ReplacePersonalized(ctx, nil)
	}

	texts := make([]string, len(corpus))
	for i, a := range corpus {
		texts[i] = articleText(a)
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return sum, fmt.Errorf("embedding articles: %w", err)
	}
	if len(vectors) != len(corpus) {
		return sum, fmt.Errorf("got %d vectors for %d articles", len(vectors), len(corpus))
	}

	topicOf := Ward(vectors, r.threshold)
	groups := make(map[int][]warehouse.Article)
	byID := make(map[string]int, len(corpus))
	for i, a := range corpus {
		groups[topicOf[i]] = append(groups[topicOf[i]], a)
		byID[a.ArticleID] = topicOf[i]
	}
	labels := make(map[int]string, len(groups))
	for topic, members := range groups {
		labels[topic] = topicLabel(members)
	}
	sum.Topics = len(groups)

	topicClicks := make(map[int]int)
	userTopics := make(map[string]map[int]bool)
	userURLs := make(map[string]map[string]bool)
	for _, c := range clicks {
		topic, ok := byID[c.ArticleID]
		if !ok {
			continue
		}
		topicClicks[topic]++
		if userTopics[c.UserID] == nil {
			userTopics[c.UserID] = make(map[int]bool)
			userURLs[c.UserID] = make(map[string]bool)
		}
		userTopics[c.UserID][topic] = true
		userURLs[c.UserID][c.URL] = true
	}

	users := make([]string, 0, len(userTopics))
	for u := range userTopics {
		users = append(users, u)
	}
	sort.Strings(users)
	sum.Users = len(users)

	latestTopic := make([]int, len(latest))
	for i, a := range latest {
		latestTopic[i] = byID[a.ArticleID]
	}

	var rows []warehouse.PersonalizedRow
	for _, u := range users {
		for i, a := range latest {
			topic := latestTopic[i]
			if !userTopics[u][topic] {
				continue
			}
			rows = append(rows, warehouse.PersonalizedRow{
				UserID:             u,
				Topic:              labels[topic],
				TotalClicks:        topicClicks[topic],
				UserAlreadyClicked: userURLs[u][a.URL],
				Article:            a,
			})
		}
	}
	sum.Rows = len(rows)

	seen := make(map[string]bool)
	for _, row := range rows {
		if !seen[row.Topic] {
			seen[row.Topic] = true
			sum.Labels = append(sum.Labels, row.Topic)
		}
	}

	if err := r.store.ReplacePersonalized(ctx, rows); err != nil {
		return sum, fmt.Errorf("writing personalized articles: %w", err)
	}
	r.logger.Info("personalized articles rebuilt",
		"articles", sum.Articles, "topics", sum.Topics, "users", sum.Users, "rows", sum.Rows)
	return sum, nil
}
