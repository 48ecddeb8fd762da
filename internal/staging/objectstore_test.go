package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// memObjectStore implements the parts of jetstream.ObjectStore the bucket uses.
type memObjectStore struct {
	jetstream.ObjectStore
	objects map[string][]byte
	deleted map[string]bool
	listErr error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte), deleted: make(map[string]bool)}
}

func (s *memObjectStore) PutBytes(_ context.Context, name string, data []byte) (*jetstream.ObjectInfo, error) {
	s.objects[name] = append([]byte(nil), data...)
	delete(s.deleted, name)
	return &jetstream.ObjectInfo{ObjectMeta: jetstream.ObjectMeta{Name: name}, Size: uint64(len(data))}, nil
}

func (s *memObjectStore) GetBytes(_ context.Context, name string, _ ...jetstream.GetObjectOpt) ([]byte, error) {
	data, ok := s.objects[name]
	if !ok {
		return nil, jetstream.ErrObjectNotFound
	}
	return data, nil
}

// List mimics the server: tombstones are listed, and an empty store is an error.
func (s *memObjectStore) List(_ context.Context, _ ...jetstream.ListObjectsOpt) ([]*jetstream.ObjectInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var infos []*jetstream.ObjectInfo
	for name, data := range s.objects {
		infos = append(infos, &jetstream.ObjectInfo{
			ObjectMeta: jetstream.ObjectMeta{Name: name},
			Size:       uint64(len(data)),
			ModTime:    time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		})
	}
	for name := range s.deleted {
		infos = append(infos, &jetstream.ObjectInfo{ObjectMeta: jetstream.ObjectMeta{Name: name}, Deleted: true})
	}
	if len(infos) == 0 {
		return nil, jetstream.ErrNoObjectsFound
	}
	return infos, nil
}

func (s *memObjectStore) Delete(_ context.Context, name string) error {
	if _, ok := s.objects[name]; !ok {
		return jetstream.ErrObjectNotFound
	}
	delete(s.objects, name)
	s.deleted[name] = true
	return nil
}

func TestObjectStoreEmptyListIsNotAnError(t *testing.T) {
	b := &ObjectStoreBucket{name: "tracking-staging", store: newMemObjectStore()}

	objs, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("expected empty store to list cleanly, got %v", err)
	}
	if len(objs) != 0 {
		t.Errorf("expected no objects, got %v", objs)
	}
}

func TestObjectStoreMissingObjectMapsToSentinel(t *testing.T) {
	b := &ObjectStoreBucket{name: "news-staging", store: newMemObjectStore()}
	ctx := context.Background()

	if _, err := b.Get(ctx, "news-1.ndjson"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound from Get, got %v", err)
	}
	if err := b.Delete(ctx, "news-1.ndjson"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound from Delete, got %v", err)
	}
	exists, err := Exists(ctx, b, "news-1.ndjson")
	if err != nil || exists {
		t.Errorf("expected missing object to not exist, got %v / %v", exists, err)
	}
}

func TestObjectStoreListSkipsTombstonesAndSorts(t *testing.T) {
	store := newMemObjectStore()
	b := &ObjectStoreBucket{name: "news-staging", store: store}
	ctx := context.Background()

	for _, name := range []string{"news-3.ndjson", "news-1.ndjson", "news-2.ndjson"} {
		if err := b.Put(ctx, name, []byte("{}\n")); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	if err := b.Delete(ctx, "news-2.ndjson"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	objs, err := b.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 || objs[0].Name != "news-1.ndjson" || objs[1].Name != "news-3.ndjson" {
		t.Errorf("expected live objects in name order, got %+v", objs)
	}
	if objs[0].Size != 3 {
		t.Errorf("expected size 3, got %d", objs[0].Size)
	}
}

func TestObjectStoreListError(t *testing.T) {
	store := newMemObjectStore()
	store.listErr = errors.New("stream unavailable")
	b := &ObjectStoreBucket{name: "news-staging", store: store}

	if _, err := b.List(context.Background()); err == nil {
		t.Error("expected list error to surface")
	}
}

func TestObjectStoreRejectsPathNames(t *testing.T) {
	b := &ObjectStoreBucket{name: "news-staging", store: newMemObjectStore()}
	if err := b.Put(context.Background(), "../escape.ndjson", []byte("{}")); err == nil {
		t.Error("expected error for path-like object name")
	}
}

func TestCopyBetweenDirAndObjectStore(t *testing.T) {
	ctx := context.Background()
	dir := openTestBucket(t, "news-staging")
	store := &ObjectStoreBucket{name: "news-processed", store: newMemObjectStore()}

	if err := dir.Put(ctx, "news-1.ndjson", []byte("{\"a\":1}\n")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := Copy(ctx, dir, store, "news-1.ndjson"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	got, err := store.Get(ctx, "news-1.ndjson")
	if err != nil || string(got) != "{\"a\":1}\n" {
		t.Errorf("unexpected archived copy %q (err %v)", got, err)
	}
}
