package warehouse

// Article is a row of the articles table.
type Article struct {
	ArticleID     string `json:"article_id"`
	ArticleOrder  int    `json:"article_order"`
	LoadTimestamp string `json:"load_timestamp"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	Content       string `json:"content"`
	URL           string `json:"url"`
	URLToImage    string `json:"urlToImage"`
	PublishedAt   string `json:"publishedAt"`
	Source        string `json:"source"`
}

// Sort tags attached to feed rows.
const (
	SortLatest       = "latest"
	SortPopular      = "popular"
	SortRandom       = "random"
	SortPersonalized = "personalized"
)

// Tracking event types.
const (
	EventImpression = "impression"
	EventClick      = "click"
)

// FeedArticle is an article as shown on the home page.
type FeedArticle struct {
	ArticleID   string `json:"article_id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	// PublishedAt is formatted "YYYY-MM-DD HH:MM:SS".
	PublishedAt string `json:"publishedAt"`
	Source      string `json:"source"`
	Sort        string `json:"sort"`
	Topic       string `json:"topic,omitempty"`
}

// Click is a click event joined with the article it refers to.
type Click struct {
	UserID      string
	ArticleID   string
	URL         string
	Title       string
	Description string
}

// PersonalizedRow is one recommendation for one user.
type PersonalizedRow struct {
	UserID             string
	Topic              string
	TotalClicks        int
	UserAlreadyClicked bool
	Article            Article
}

// Tables names the configurable warehouse tables.
type Tables struct {
	Articles     string
	Tracking     string
	Personalized string
}

// DefaultTables returns the default table names.
func DefaultTables() Tables {
	return Tables{
		Articles:     "articles",
		Tracking:     "tracking_events",
		Personalized: "personalized_articles",
	}
}

// LoadResult reports what a single staged-object load did.
type LoadResult struct {
	Object  string
	Rows    int
	Skipped bool
}

// Stats contains aggregate warehouse statistics.
type Stats struct {
	TotalArticles    int
	Batches          int
	LatestBatch      string
	LatestBatchSize  int
	Impressions      int
	Clicks           int
	Users            int
	PersonalizedRows int
	LoadedObjects    int
}
