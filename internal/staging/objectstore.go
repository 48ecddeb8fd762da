package staging

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStoreBucket is a Bucket backed by a NATS JetStream object store.
type ObjectStoreBucket struct {
	name  string
	store jetstream.ObjectStore
}

// OpenObjectStore binds to the named object store, creating it on first use.
func OpenObjectStore(ctx context.Context, js jetstream.JetStream, name string) (*ObjectStoreBucket, error) {
	store, err := js.ObjectStore(ctx, name)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      name,
			Description: "newssite staging bucket",
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("opening object store %s: %w", name, err)
	}
	return &ObjectStoreBucket{name: name, store: store}, nil
}

func (b *ObjectStoreBucket) Name() string { return b.name }

func (b *ObjectStoreBucket) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := b.store.PutBytes(ctx, name, data); err != nil {
		return fmt.Errorf("putting %s: %w", name, err)
	}
	return nil
}

func (b *ObjectStoreBucket) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := b.store.GetBytes(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", name, err)
	}
	return data, nil
}

func (b *ObjectStoreBucket) List(ctx context.Context) ([]ObjectInfo, error) {
	infos, err := b.store.List(ctx)
	if errors.Is(err, jetstream.ErrNoObjectsFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", b.name, err)
	}

	objects := make([]ObjectInfo, 0, len(infos))
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		objects = append(objects, ObjectInfo{
			Name:     info.Name,
			Size:     int64(info.Size),
			Modified: info.ModTime,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

func (b *ObjectStoreBucket) Delete(ctx context.Context, name string) error {
	err := b.store.Delete(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return ErrObjectNotFound
	}
	return err
}
