package ndjson

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeOneRecordPerLine(t *testing.T) {
	type rec struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	data, err := Encode([]rec{{"a", "First <b>"}, {"b", "Second"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "First <b>") {
		t.Errorf("expected HTML not to be escaped, got %q", lines[0])
	}
}

func TestEncodeRawCompacts(t *testing.T) {
	docs := []json.RawMessage{
		json.RawMessage("{\n  \"a\": 1\n}"),
		json.RawMessage(`{"b": 2}`),
	}
	data, err := EncodeRaw(docs)
	if err != nil {
		t.Fatalf("encode raw: %v", err)
	}
	if string(data) != "{\"a\":1}\n{\"b\":2}\n" {
		t.Errorf("unexpected output %q", data)
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	input := "{\"a\":1}\n\n  \n{\"a\":2}\n"
	records, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1]["a"].(json.Number).String() != "2" {
		t.Errorf("expected second record a=2, got %v", records[1]["a"])
	}
}

func TestDecodeReportsLine(t *testing.T) {
	input := "{\"a\":1}\nnot json\n"
	_, err := Decode(strings.NewReader(input))
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected LineError, got %v", err)
	}
	if lineErr.Line != 2 {
		t.Errorf("expected line 2, got %d", lineErr.Line)
	}
}

func TestObjectName(t *testing.T) {
	ts := time.Date(2026, 2, 6, 9, 30, 15, 123456000, time.UTC)
	got := ObjectName("tracking", ts)
	want := "tracking-20260206T093015.123456Z.ndjson"
	if got != want {
		t.Errorf("ObjectName = %q, want %q", got, want)
	}
}
