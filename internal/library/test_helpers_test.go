package library

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tabvault/tabvault/internal/storage"
)

var errStoreUnavailable = errors.New("store unavailable")

func newSQLiteStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// memoryStore is an in-process Store for tests that perform many writes,
// such as the capacity ceiling checks.
type memoryStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]json.RawMessage)}
}

func (m *memoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return value, nil
}

func (m *memoryStore) Put(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(json.RawMessage, len(value))
	copy(copied, value)
	m.values[key] = copied
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// failingStore reports errStoreUnavailable for every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (json.RawMessage, error) {
	return nil, errStoreUnavailable
}

func (failingStore) Put(context.Context, string, json.RawMessage) error {
	return errStoreUnavailable
}

func (failingStore) Delete(context.Context, string) error {
	return errStoreUnavailable
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func mustSpaceRepository(t *testing.T, cfg SpaceRepositoryConfig) *SpaceRepository {
	t.Helper()
	if cfg.IDProvider == nil {
		cfg.IDProvider = NewUUIDProvider()
	}
	repo, err := NewSpaceRepository(cfg)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	repo.Load(context.Background())
	return repo
}

func mustCollectionRepository(t *testing.T, cfg CollectionRepositoryConfig) *CollectionRepository {
	t.Helper()
	if cfg.IDProvider == nil {
		cfg.IDProvider = NewUUIDProvider()
	}
	repo, err := NewCollectionRepository(cfg)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	repo.Load(context.Background())
	return repo
}

func mustTabRepository(t *testing.T, cfg TabRepositoryConfig) *TabRepository {
	t.Helper()
	if cfg.IDProvider == nil {
		cfg.IDProvider = NewUUIDProvider()
	}
	repo, err := NewTabRepository(cfg)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	repo.Load(context.Background())
	return repo
}

func mustAddSpace(t *testing.T, repo *SpaceRepository, name string) Space {
	t.Helper()
	space, err := repo.Add(context.Background(), SpaceInput{Name: name})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	return space
}

func mustAddTab(t *testing.T, repo *TabRepository, collectionID string, input TabInput) Tab {
	t.Helper()
	tab, err := repo.Add(context.Background(), collectionID, input)
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	return tab
}
