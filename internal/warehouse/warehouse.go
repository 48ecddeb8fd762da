// Package warehouse is the SQLite-backed analytics store that staged NDJSON
// objects are loaded into and the front end reads feeds from.
package warehouse

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB wraps a SQLite warehouse connection.
type DB struct {
	conn   *sql.DB
	path   string
	tables Tables
}

// Open creates or opens the warehouse at dbPath using the given table names.
func Open(dbPath string, tables Tables) (*DB, error) {
	for _, name := range []string{tables.Articles, tables.Tracking, tables.Personalized} {
		if !identifier.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; loads are transactional and SQLite serializes them anyway.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(conn, tables); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath, tables: tables}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Tables returns the table names this warehouse was opened with.
func (db *DB) Tables() Tables {
	return db.tables
}
