package tracking

import (
	"time"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// Event is the message published for an impression or click. Only the
// article fields listed here leave the front end.
type Event struct {
	UserID      string `json:"user_id"`
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	ArticleID   string `json:"article_id"`
	Title       string `json:"title"`
	PublishedAt string `json:"publishedAt"`
	Sort        string `json:"sort"`
}

func payload(kind string, a warehouse.FeedArticle, userID string, now time.Time) Event {
	return Event{
		UserID:      userID,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Event:       kind,
		ArticleID:   a.ArticleID,
		Title:       a.Title,
		PublishedAt: a.PublishedAt,
		Sort:        a.Sort,
	}
}

// ImpressionPayload builds the impression event for one rendered article.
func ImpressionPayload(a warehouse.FeedArticle, userID string, now time.Time) Event {
	return payload(warehouse.EventImpression, a, userID, now)
}

// ClickPayload builds the click event for one article.
func ClickPayload(a warehouse.FeedArticle, userID string, now time.Time) Event {
	return payload(warehouse.EventClick, a, userID, now)
}
