package news

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

const maxPerFeed = 20

// Feed is one configured RSS or Atom feed.
type Feed struct {
	URL  string
	Name string
}

// FeedReader reads RSS/Atom feeds into article records.
type FeedReader struct {
	feeds  []Feed
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewFeedReader creates a FeedReader over feeds.
func NewFeedReader(feeds []Feed, logger *slog.Logger) *FeedReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedReader{feeds: feeds, parser: gofeed.NewParser(), logger: logger}
}

// ReadAll reads every feed and keeps entries published at or after since.
// A feed that fails to parse is logged and skipped.
func (r *FeedReader) ReadAll(ctx context.Context, since time.Time) []warehouse.Article {
	var all []warehouse.Article
	for _, fc := range r.feeds {
		name := fc.Name
		if name == "" {
			name = sourceName(fc.URL)
		}

		feed, err := r.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			r.logger.Warn("failed to parse feed", "url", fc.URL, "error", err)
			continue
		}

		entries := entriesFrom(feed, name, since)
		r.logger.Info("parsed feed", "source", name, "entries", len(entries))
		all = append(all, entries...)
	}
	return all
}

func entriesFrom(feed *gofeed.Feed, source string, since time.Time) []warehouse.Article {
	var entries []warehouse.Article
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}
		a, ok := itemArticle(item, source)
		if !ok {
			continue
		}
		if published := publishedTime(item); !published.IsZero() && published.Before(since) {
			continue
		}
		entries = append(entries, a)
	}
	return entries
}

func itemArticle(item *gofeed.Item, source string) (warehouse.Article, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return warehouse.Article{}, false
	}

	description, image := htmlSummary(item.Description)
	content := description
	if item.Content != "" {
		content, _ = htmlSummary(item.Content)
	}
	if item.Image != nil && item.Image.URL != "" {
		image = item.Image.URL
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	var published string
	if t := publishedTime(item); !t.IsZero() {
		published = t.UTC().Format(time.RFC3339)
	}

	return warehouse.Article{
		ArticleID:   uuid.NewString(),
		Title:       title,
		Author:      author,
		Description: description,
		Content:     content,
		URL:         link,
		URLToImage:  image,
		PublishedAt: published,
		Source:      source,
	}, true
}

func publishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// htmlSummary returns the text of an HTML fragment and its first image source.
func htmlSummary(fragment string) (text, image string) {
	if fragment == "" {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment), ""
	}
	if src, ok := doc.Find("img").First().Attr("src"); ok {
		image = src
	}
	return strings.Join(strings.Fields(doc.Text()), " "), image
}

func sourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
