package storage_test

import (
	"context"
	"errors"
	"section-capture/internal/storage"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type memoryStorage struct {
	mu      sync.Mutex
	name    string
	objects map[string][]byte
	err     error
}

func newMemoryStorage(name string) *memoryStorage {
	return &memoryStorage{name: name, objects: map[string][]byte{}}
}

func (m *memoryStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return m.name + "://" + key, nil
}

func (m *memoryStorage) Get(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, data := range m.objects {
		if m.name+"://"+key == url {
			return data, nil
		}
	}
	return nil, errors.New("not found")
}

func TestTeeStorage(t *testing.T) {
	t.Parallel()

	primary := newMemoryStorage("file")
	first := newMemoryStorage("s3")
	second := newMemoryStorage("gcs")
	s := storage.NewTeeStorage(primary, first, second)

	url, err := s.Put(context.Background(), "site_full.png", []byte("png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("file://site_full.png", url); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	for _, m := range []*memoryStorage{primary, first, second} {
		if diff := cmp.Diff(map[string][]byte{"site_full.png": []byte("png")}, m.objects); diff != "" {
			t.Errorf("%s (-want +got):\n%s", m.name, diff)
		}
	}

	got, err := s.Get(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]byte("png"), got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTeeStorageMirrorFailure(t *testing.T) {
	t.Parallel()

	mirror := newMemoryStorage("s3")
	mirror.err = errors.New("access denied")
	s := storage.NewTeeStorage(newMemoryStorage("file"), mirror)

	if _, err := s.Put(context.Background(), "site_full.png", []byte("png")); !errors.Is(err, mirror.err) {
		t.Errorf("expected mirror error, got %v", err)
	}
}

func TestTeeStoragePrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := newMemoryStorage("file")
	primary.err = errors.New("disk full")
	mirror := newMemoryStorage("s3")
	s := storage.NewTeeStorage(primary, mirror)

	if _, err := s.Put(context.Background(), "site_full.png", []byte("png")); !errors.Is(err, primary.err) {
		t.Errorf("expected primary error, got %v", err)
	}
	if len(mirror.objects) != 0 {
		t.Errorf("mirror written after primary failure: %v", mirror.objects)
	}
}
