package warehouse

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, t Tables) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "articles, tracking events and personalized articles",
		Up: func(tx *sql.Tx, t Tables) error {
			_, err := tx.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    article_id TEXT PRIMARY KEY,
    article_order INTEGER NOT NULL,
    load_timestamp TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    author TEXT,
    description TEXT,
    content TEXT,
    url TEXT NOT NULL DEFAULT '',
    url_to_image TEXT,
    published_at TEXT,
    source TEXT
);

CREATE TABLE IF NOT EXISTS %[2]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    event TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    article_id TEXT NOT NULL,
    title TEXT,
    published_at TEXT,
    sort TEXT
);

CREATE TABLE IF NOT EXISTS %[3]s (
    user_id TEXT NOT NULL,
    article_id TEXT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    total_clicks INTEGER NOT NULL DEFAULT 0,
    user_already_clicked INTEGER NOT NULL DEFAULT 0,
    article_order INTEGER NOT NULL DEFAULT 0,
    load_timestamp TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    author TEXT,
    description TEXT,
    content TEXT,
    url TEXT NOT NULL DEFAULT '',
    url_to_image TEXT,
    published_at TEXT,
    source TEXT,
    PRIMARY KEY (user_id, article_id)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_load ON %[1]s(load_timestamp, article_order);
CREATE INDEX IF NOT EXISTS idx_%[1]s_url ON %[1]s(url);
CREATE INDEX IF NOT EXISTS idx_%[2]s_event ON %[2]s(event, article_id);
CREATE INDEX IF NOT EXISTS idx_%[2]s_user ON %[2]s(user_id);
`, t.Articles, t.Tracking, t.Personalized))
			return err
		},
	},
	{
		Version:     2,
		Description: "load manifest",
		Up: func(tx *sql.Tx, _ Tables) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS load_manifest (
    table_name TEXT NOT NULL,
    digest TEXT NOT NULL,
    object TEXT NOT NULL,
    rows INTEGER NOT NULL DEFAULT 0,
    loaded_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (table_name, digest)
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
