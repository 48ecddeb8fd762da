// Package ndjson encodes and decodes newline-delimited JSON, the staging
// format for warehouse loads.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Extension is the file suffix used for staged objects.
const Extension = ".ndjson"

// maxLine bounds a single record; article content can be long.
const maxLine = 4 << 20

// Encode writes each record as one JSON line.
func Encode[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// EncodeRaw joins already-encoded JSON documents into NDJSON, compacting each
// so it fits on one line.
func EncodeRaw(docs []json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	for i, doc := range docs {
		if err := json.Compact(&buf, doc); err != nil {
			return nil, fmt.Errorf("compacting record %d: %w", i, err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// LineError reports a malformed record.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Decode reads every non-blank line of r as a JSON object.
func Decode(r io.Reader) ([]map[string]any, error) {
	var records []map[string]any
	err := Scan(r, func(line int, rec map[string]any) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

// Scan calls fn for every non-blank line of r decoded as a JSON object.
func Scan(r io.Reader, fn func(line int, rec map[string]any) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return &LineError{Line: line, Err: err}
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading ndjson: %w", err)
	}
	return nil
}

// ObjectName returns "<prefix>-<timestamp>.ndjson" for the given time.
// Microseconds keep names from one process distinct.
func ObjectName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s%s", prefix, t.UTC().Format("20060102T150405.000000Z"), Extension)
}
