package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Slice sizes of the home page feed.
const (
	LatestLimit       = 20
	PopularLimit      = 10
	RandomLimit       = 6
	PersonalizedLimit = 10
)

// PublishedLayout is how publication times are rendered on the feed.
const PublishedLayout = "2006-01-02 15:04:05"

var feedColumns = []string{
	"article_id", "title", "author", "description", "content",
	"url", "url_to_image", "published_at", "source",
}

func qualified(alias string) []string {
	cols := make([]string, len(feedColumns))
	for i, c := range feedColumns {
		cols[i] = alias + "." + c
	}
	return cols
}

func (db *DB) latestBatch(alias string) sq.Sqlizer {
	return sq.Expr(fmt.Sprintf("%s.load_timestamp = (SELECT MAX(load_timestamp) FROM %s)", alias, db.tables.Articles))
}

// feedQuery builds one statement that unions the latest, popular, random and
// personalized slices. The user id is always a bound parameter.
func (db *DB) feedQuery(userID string) (string, []any, error) {
	t := db.tables

	latest := sq.Select(qualified("a")...).
		Column(sq.Expr("? AS sort", SortLatest)).
		Column("'' AS topic").
		From(t.Articles + " a").
		Where(db.latestBatch("a")).
		OrderBy("a.article_order").
		Limit(LatestLimit)

	clicks := sq.Select("x.url", "COUNT(*) AS clicks").
		From(t.Tracking + " e").
		Join(t.Articles + " x ON x.article_id = e.article_id").
		Where(sq.Eq{"e.event": EventClick}).
		GroupBy("x.url")

	popular := sq.Select(qualified("a")...).
		Column(sq.Expr("? AS sort", SortPopular)).
		Column("'' AS topic").
		From(t.Articles + " a").
		JoinClause(clicks.Prefix("JOIN (").Suffix(") p ON p.url = a.url")).
		Where(db.latestBatch("a")).
		OrderBy("p.clicks DESC", "a.published_at DESC").
		Limit(PopularLimit)

	random := sq.Select(qualified("a")...).
		Column(sq.Expr("? AS sort", SortRandom)).
		Column("'' AS topic").
		From(t.Articles + " a").
		Where(db.latestBatch("a")).
		OrderBy("RANDOM()").
		Limit(RandomLimit)

	personalized := sq.Select(qualified("p")...).
		Column(sq.Expr("? AS sort", SortPersonalized)).
		Column("p.topic").
		From(t.Personalized + " p").
		Where(sq.Eq{"p.user_id": userID, "p.user_already_clicked": 0}).
		OrderBy("p.total_clicks DESC", "p.published_at DESC").
		Limit(PersonalizedLimit)

	var parts []string
	var args []any
	for i, slice := range []sq.SelectBuilder{latest, popular, random, personalized} {
		// SQLite only allows ORDER BY/LIMIT on a compound member inside a subquery.
		sub, subArgs, err := sq.Select("*").FromSelect(slice, fmt.Sprintf("s%d", i)).ToSql()
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sub)
		args = append(args, subArgs...)
	}
	return strings.Join(parts, "\nUNION ALL\n"), args, nil
}

// Feed returns the home page articles for userID, each tagged with its slice.
func (db *DB) Feed(ctx context.Context, userID string) ([]FeedArticle, error) {
	query, args, err := db.feedQuery(userID)
	if err != nil {
		return nil, fmt.Errorf("building feed query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("running feed query: %w", err)
	}
	defer rows.Close()

	var feed []FeedArticle
	for rows.Next() {
		var a FeedArticle
		var author, description, content, image, published, source sql.NullString
		if err := rows.Scan(&a.ArticleID, &a.Title, &author, &description, &content,
			&a.URL, &image, &published, &source, &a.Sort, &a.Topic); err != nil {
			return nil, err
		}
		a.Author = nullString(author)
		a.Description = nullString(description)
		a.Content = nullString(content)
		a.URLToImage = nullString(image)
		a.PublishedAt = FormatPublished(nullString(published))
		a.Source = nullString(source)
		feed = append(feed, a)
	}
	return feed, rows.Err()
}

// ArticleByID returns one article from the articles table.
func (db *DB) ArticleByID(ctx context.Context, articleID string) (*FeedArticle, error) {
	query, args, err := sq.Select(feedColumns...).
		From(db.tables.Articles).
		Where(sq.Eq{"article_id": articleID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var a FeedArticle
	var author, description, content, image, published, source sql.NullString
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&a.ArticleID, &a.Title, &author,
		&description, &content, &a.URL, &image, &published, &source)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Author = nullString(author)
	a.Description = nullString(description)
	a.Content = nullString(content)
	a.URLToImage = nullString(image)
	a.PublishedAt = FormatPublished(nullString(published))
	a.Source = nullString(source)
	return &a, nil
}

var publishedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	PublishedLayout,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatPublished renders a stored publication time as "YYYY-MM-DD HH:MM:SS"
// in UTC. Values that do not parse are returned unchanged.
func FormatPublished(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(PublishedLayout)
		}
	}
	return s
}
