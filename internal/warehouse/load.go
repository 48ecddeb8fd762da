package warehouse

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/newssite/internal/ndjson"
)

// ErrUnknownTable is returned when a load targets a table with no column map.
var ErrUnknownTable = errors.New("unknown table")

// ErrMissingField is returned when a record lacks a required field.
var ErrMissingField = errors.New("missing required field")

// column maps one NDJSON field onto one table column.
type column struct {
	field    string
	name     string
	required bool
}

var articleColumns = []column{
	{field: "article_id", name: "article_id", required: true},
	{field: "article_order", name: "article_order", required: true},
	{field: "load_timestamp", name: "load_timestamp", required: true},
	{field: "title", name: "title"},
	{field: "author", name: "author"},
	{field: "description", name: "description"},
	{field: "content", name: "content"},
	{field: "url", name: "url"},
	{field: "urlToImage", name: "url_to_image"},
	{field: "publishedAt", name: "published_at"},
	{field: "source", name: "source"},
}

var trackingColumns = []column{
	{field: "user_id", name: "user_id", required: true},
	{field: "event", name: "event", required: true},
	{field: "timestamp", name: "timestamp", required: true},
	{field: "article_id", name: "article_id", required: true},
	{field: "title", name: "title"},
	{field: "publishedAt", name: "published_at"},
	{field: "sort", name: "sort"},
}

func (db *DB) columnsFor(table string) ([]column, error) {
	switch table {
	case db.tables.Articles:
		return articleColumns, nil
	case db.tables.Tracking:
		return trackingColumns, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
}

// Digest returns the content address used to recognise repeated loads.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadNDJSON inserts every record of one staged object into table. The rows
// and the manifest entry commit together, so an object whose content was
// already loaded is skipped instead of duplicated.
func (db *DB) LoadNDJSON(ctx context.Context, table, object string, data []byte) (LoadResult, error) {
	res := LoadResult{Object: object}

	cols, err := db.columnsFor(table)
	if err != nil {
		return res, err
	}

	records, err := ndjson.Decode(bytes.NewReader(data))
	if err != nil {
		return res, fmt.Errorf("decoding %s: %w", object, err)
	}

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		row, err := rowValues(cols, rec)
		if err != nil {
			return res, fmt.Errorf("%s record %d: %w", object, i+1, err)
		}
		rows = append(rows, row)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	digest := Digest(data)
	var seen int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM load_manifest WHERE table_name = ? AND digest = ?", table, digest,
	).Scan(&seen); err != nil {
		return res, fmt.Errorf("checking manifest: %w", err)
	}
	if seen > 0 {
		res.Skipped = true
		return res, nil
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertStatement(table, cols))
		if err != nil {
			return res, fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for i, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return res, fmt.Errorf("%s record %d: %w", object, i+1, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO load_manifest (table_name, digest, object, rows) VALUES (?, ?, ?, ?)",
		table, digest, object, len(rows),
	); err != nil {
		return res, fmt.Errorf("recording manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit load: %w", err)
	}
	res.Rows = len(rows)
	return res, nil
}

// LoadedObjects returns the objects recorded in the manifest for table, oldest first.
func (db *DB) LoadedObjects(ctx context.Context, table string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT object FROM load_manifest WHERE table_name = ? ORDER BY loaded_at, object", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

func insertStatement(table string, cols []column) string {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = "?"
	}
	// Table names are validated identifiers; see Open.
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", "))
}

func rowValues(cols []column, rec map[string]any) ([]any, error) {
	row := make([]any, len(cols))
	for i, c := range cols {
		v, ok := rec[c.field]
		if !ok || v == nil {
			if c.required {
				return nil, fmt.Errorf("%w %q", ErrMissingField, c.field)
			}
			row[i] = nil
			continue
		}
		val, err := sqlValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", c.field, err)
		}
		row[i] = val
	}
	return row, nil
}

func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	case map[string]any:
		// NewsAPI source objects are {"id": ..., "name": ...}.
		if name, ok := x["name"].(string); ok {
			return name, nil
		}
		b, err := json.Marshal(x)
		return string(b), err
	default:
		b, err := json.Marshal(x)
		return string(b), err
	}
}

// nullString converts a nullable column to a plain string.
func nullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
