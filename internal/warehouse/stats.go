package warehouse

import (
	"context"
	"fmt"
)

// GetStats returns aggregate counts across all warehouse tables.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	t := db.tables
	s := &Stats{}

	queries := []struct {
		query string
		dest  any
	}{
		{fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Articles), &s.TotalArticles},
		{fmt.Sprintf("SELECT COUNT(DISTINCT load_timestamp) FROM %s", t.Articles), &s.Batches},
		{fmt.Sprintf("SELECT COALESCE(MAX(load_timestamp), '') FROM %s", t.Articles), &s.LatestBatch},
		{fmt.Sprintf("SELECT COUNT(*) FROM %[1]s WHERE load_timestamp = (SELECT MAX(load_timestamp) FROM %[1]s)", t.Articles), &s.LatestBatchSize},
		{fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE event = '%s'", t.Tracking, EventImpression), &s.Impressions},
		{fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE event = '%s'", t.Tracking, EventClick), &s.Clicks},
		{fmt.Sprintf("SELECT COUNT(DISTINCT user_id) FROM %s", t.Tracking), &s.Users},
		{fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Personalized), &s.PersonalizedRows},
		{"SELECT COUNT(*) FROM load_manifest", &s.LoadedObjects},
	}

	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return s, nil
}
