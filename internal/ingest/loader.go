package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TobiSchelling/newssite/internal/metrics"
	"github.com/TobiSchelling/newssite/internal/ndjson"
	"github.com/TobiSchelling/newssite/internal/retry"
	"github.com/TobiSchelling/newssite/internal/staging"
	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// Store is the part of the warehouse the loader writes to.
type Store interface {
	LoadNDJSON(ctx context.Context, table, object string, data []byte) (warehouse.LoadResult, error)
}

// LoadSummary reports one pass over a staging bucket.
type LoadSummary struct {
	Table    string   `json:"table"`
	Objects  int      `json:"objects"`
	Loaded   int      `json:"loaded"`
	Skipped  int      `json:"skipped"`
	Rows     int      `json:"rows"`
	Archived []string `json:"archived,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// Loader loads staged objects into the warehouse and archives them.
type Loader struct {
	Store  Store
	Logger *slog.Logger
}

// LoadFromBucket processes every NDJSON object in source: load it into table,
// copy it to archive, confirm the archive copy, then delete the source.
// A crash at any step leaves the source object in place; the next run either
// loads it or, if its content is already in the manifest, skips straight to
// archiving. An object with malformed records stays in source and is
// reported in Failed.
func (l *Loader) LoadFromBucket(ctx context.Context, source, archive staging.Bucket, table string) (LoadSummary, error) {
	sum := LoadSummary{Table: table}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	objects, err := source.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("listing %s: %w", source.Name(), err)
	}

	var dataErrs, transientErrs []error
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, ndjson.Extension) {
			continue
		}
		sum.Objects++
		logger.Info("found staged object", "bucket", source.Name(), "object", obj.Name)

		res, err := l.loadOne(ctx, source, archive, table, obj.Name)
		if err != nil {
			sum.Failed = append(sum.Failed, obj.Name)
			if isDataError(err) {
				metrics.ObjectsLoaded.WithLabelValues(table, "rejected").Inc()
				dataErrs = append(dataErrs, err)
			} else {
				metrics.ObjectsLoaded.WithLabelValues(table, "failed").Inc()
				transientErrs = append(transientErrs, err)
			}
			logger.Error("failed to load staged object", "object", obj.Name, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if res.Skipped {
			sum.Skipped++
		} else {
			sum.Loaded++
			sum.Rows += res.Rows
		}
		sum.Archived = append(sum.Archived, obj.Name)
	}

	switch {
	case len(transientErrs) > 0:
		return sum, errors.Join(append(transientErrs, dataErrs...)...)
	case len(dataErrs) > 0:
		return sum, retry.Permanent(errors.Join(dataErrs...))
	}
	return sum, nil
}

func (l *Loader) loadOne(ctx context.Context, source, archive staging.Bucket, table, name string) (warehouse.LoadResult, error) {
	data, err := source.Get(ctx, name)
	if err != nil {
		return warehouse.LoadResult{}, fmt.Errorf("reading %s: %w", name, err)
	}

	start := time.Now()
	res, err := l.Store.LoadNDJSON(ctx, table, name, data)
	metrics.LoadDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	if err != nil {
		return res, fmt.Errorf("loading %s into %s: %w", name, table, err)
	}
	if res.Skipped {
		metrics.ObjectsLoaded.WithLabelValues(table, "skipped").Inc()
	} else {
		metrics.ObjectsLoaded.WithLabelValues(table, "loaded").Inc()
		metrics.RowsLoaded.WithLabelValues(table).Add(float64(res.Rows))
	}

	if err := staging.Copy(ctx, source, archive, name); err != nil {
		return res, fmt.Errorf("archiving %s: %w", name, err)
	}
	ok, err := staging.Exists(ctx, archive, name)
	if err != nil {
		return res, fmt.Errorf("verifying archive copy of %s: %w", name, err)
	}
	if !ok {
		return res, fmt.Errorf("archive copy of %s missing from %s", name, archive.Name())
	}

	if err := source.Delete(ctx, name); err != nil && !errors.Is(err, staging.ErrObjectNotFound) {
		return res, fmt.Errorf("deleting %s from %s: %w", name, source.Name(), err)
	}
	return res, nil
}

func isDataError(err error) bool {
	var lineErr *ndjson.LineError
	return errors.As(err, &lineErr) ||
		errors.Is(err, warehouse.ErrMissingField) ||
		errors.Is(err, warehouse.ErrUnknownTable)
}
