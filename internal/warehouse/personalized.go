package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var articleColumnNames = []string{
	"article_id", "article_order", "load_timestamp", "title", "author", "description",
	"content", "url", "url_to_image", "published_at", "source",
}

// LatestArticles returns the newest batch in article order.
func (db *DB) LatestArticles(ctx context.Context) ([]Article, error) {
	query, args, err := sq.Select(articleColumnNames...).
		From(db.tables.Articles + " a").
		Where(db.latestBatch("a")).
		OrderBy("article_order").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// ClickedArticles returns distinct articles that received at least one click,
// from any batch.
func (db *DB) ClickedArticles(ctx context.Context) ([]Article, error) {
	clicked := sq.Select("DISTINCT article_id").
		From(db.tables.Tracking).
		Where(sq.Eq{"event": EventClick})
	query, args, err := sq.Select(articleColumnNames...).
		From(db.tables.Articles).
		Where(clicked.Prefix("article_id IN (").Suffix(")")).
		OrderBy("load_timestamp", "article_order").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// Clicks returns every click event joined with its article's URL.
func (db *DB) Clicks(ctx context.Context) ([]Click, error) {
	query, args, err := sq.Select("e.user_id", "e.article_id", "a.url", "a.title", "a.description").
		From(db.tables.Tracking + " e").
		Join(db.tables.Articles + " a ON a.article_id = e.article_id").
		Where(sq.Eq{"e.event": EventClick}).
		OrderBy("e.id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clicks []Click
	for rows.Next() {
		var c Click
		var description sql.NullString
		if err := rows.Scan(&c.UserID, &c.ArticleID, &c.URL, &c.Title, &description); err != nil {
			return nil, err
		}
		c.Description = nullString(description)
		clicks = append(clicks, c)
	}
	return clicks, rows.Err()
}

// ReplacePersonalized swaps the personalized table contents for rows in one transaction.
func (db *DB) ReplacePersonalized(ctx context.Context, rows []PersonalizedRow) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin personalized rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+db.tables.Personalized); err != nil {
		return fmt.Errorf("clearing %s: %w", db.tables.Personalized, err)
	}

	insert := sq.Insert(db.tables.Personalized).Columns(
		"user_id", "article_id", "topic", "total_clicks", "user_already_clicked",
		"article_order", "load_timestamp", "title", "author", "description",
		"content", "url", "url_to_image", "published_at", "source",
	)
	const chunk = 50
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		b := insert
		for _, r := range rows[start:end] {
			a := r.Article
			already := 0
			if r.UserAlreadyClicked {
				already = 1
			}
			b = b.Values(r.UserID, a.ArticleID, r.Topic, r.TotalClicks, already,
				a.ArticleOrder, a.LoadTimestamp, a.Title, a.Author, a.Description,
				a.Content, a.URL, a.URLToImage, a.PublishedAt, a.Source)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting personalized rows: %w", err)
		}
	}

	return tx.Commit()
}

// PersonalizedFor returns the stored recommendations for one user, best first.
func (db *DB) PersonalizedFor(ctx context.Context, userID string) ([]PersonalizedRow, error) {
	query, args, err := sq.Select("user_id", "topic", "total_clicks", "user_already_clicked",
		"article_id", "article_order", "load_timestamp", "title", "author", "description",
		"content", "url", "url_to_image", "published_at", "source").
		From(db.tables.Personalized).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("total_clicks DESC", "published_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersonalizedRow
	for rows.Next() {
		var r PersonalizedRow
		var already int
		var author, description, content, image, published, source sql.NullString
		if err := rows.Scan(&r.UserID, &r.Topic, &r.TotalClicks, &already,
			&r.Article.ArticleID, &r.Article.ArticleOrder, &r.Article.LoadTimestamp, &r.Article.Title,
			&author, &description, &content, &r.Article.URL, &image, &published, &source); err != nil {
			return nil, err
		}
		r.UserAlreadyClicked = already != 0
		fillOptional(&r.Article, author, description, content, image, published, source)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		var author, description, content, image, published, source sql.NullString
		if err := rows.Scan(&a.ArticleID, &a.ArticleOrder, &a.LoadTimestamp, &a.Title,
			&author, &description, &content, &a.URL, &image, &published, &source); err != nil {
			return nil, err
		}
		fillOptional(&a, author, description, content, image, published, source)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func fillOptional(a *Article, author, description, content, image, published, source sql.NullString) {
	a.Author = nullString(author)
	a.Description = nullString(description)
	a.Content = nullString(content)
	a.URLToImage = nullString(image)
	a.PublishedAt = nullString(published)
	a.Source = nullString(source)
}
