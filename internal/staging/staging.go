// Package staging holds the object-store buckets that act as a two-phase
// queue in front of warehouse loads.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrObjectNotFound is returned when a named object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Bucket is a flat namespace of immutable objects.
type Bucket interface {
	Name() string
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns objects ordered by name.
	List(ctx context.Context) ([]ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}

// Copy copies one object from src to dst under the same name.
func Copy(ctx context.Context, src, dst Bucket, name string) error {
	data, err := src.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("reading %s/%s: %w", src.Name(), name, err)
	}
	if err := dst.Put(ctx, name, data); err != nil {
		return fmt.Errorf("writing %s/%s: %w", dst.Name(), name, err)
	}
	return nil
}

// Exists reports whether name is present in b.
func Exists(ctx context.Context, b Bucket, name string) (bool, error) {
	objects, err := b.List(ctx)
	if err != nil {
		return false, err
	}
	for _, o := range objects {
		if o.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid object name %q", name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return fmt.Errorf("invalid object name %q", name)
		}
	}
	return nil
}
