package news

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// LoadTimestampLayout is the load_timestamp format shared by a batch.
const LoadTimestampLayout = "2006-01-02 15:04:05"

// FormatArticles turns a NewsAPI response into article records. Records keep
// response order, article_order counts from 0, and every record gets a fresh
// article_id and the same load_timestamp.
func FormatArticles(resp *Response, now time.Time) []warehouse.Article {
	if resp == nil {
		return nil
	}
	loadTS := now.UTC().Format(LoadTimestampLayout)

	articles := make([]warehouse.Article, 0, len(resp.Articles))
	for i, a := range resp.Articles {
		articles = append(articles, warehouse.Article{
			ArticleID:     uuid.NewString(),
			ArticleOrder:  i,
			LoadTimestamp: loadTS,
			Title:         a.Title,
			Author:        a.Author,
			Description:   a.Description,
			Content:       a.Content,
			URL:           a.URL,
			URLToImage:    a.URLToImage,
			PublishedAt:   a.PublishedAt,
			Source:        a.Source.Name,
		})
	}
	return articles
}

// Renumber reassigns article_order and load_timestamp so that articles from
// several sources form one batch.
func Renumber(articles []warehouse.Article, now time.Time) {
	loadTS := now.UTC().Format(LoadTimestampLayout)
	for i := range articles {
		articles[i].ArticleOrder = i
		articles[i].LoadTimestamp = loadTS
	}
}

// Removed reports whether NewsAPI has redacted the article.
func Removed(a warehouse.Article) bool {
	return strings.TrimSpace(a.Title) == "[Removed]" || a.URL == "https://removed.com"
}
