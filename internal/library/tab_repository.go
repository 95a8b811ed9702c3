package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tabvault/tabvault/internal/storage"
	"go.uber.org/zap"
)

// MaxTabsPerCollection is the ceiling on non-deleted tabs in one collection.
const MaxTabsPerCollection = 1000

const (
	opTabsNew    = "library.tabs.new"
	opTabsLoad   = "library.tabs.load"
	opTabsAdd    = "library.tabs.add"
	opTabsUpdate = "library.tabs.update"
	opTabsDelete = "library.tabs.delete"
)

// TabRepositoryConfig configures a TabRepository.
type TabRepositoryConfig struct {
	Store      storage.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// TabRepository owns the tab record set. Within one collection, URLs are
// unique among surviving tabs: adding a duplicate merges into the existing
// record instead of inserting a second one.
type TabRepository struct {
	mu      sync.Mutex
	clock   func() time.Time
	ids     IDProvider
	logger  *zap.Logger
	records collection[Tab]
}

// NewTabRepository constructs a TabRepository from its configuration.
func NewTabRepository(cfg TabRepositoryConfig) (*TabRepository, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opTabsNew, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opTabsNew, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &TabRepository{
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
		records: collection[Tab]{
			store: cfg.Store,
			key:   storage.KeyTabs,
			view: recordView[Tab]{
				id:       func(t *Tab) string { return t.ID },
				parentID: func(t *Tab) string { return t.CollectionID },
				order:    func(t *Tab) int { return t.Order },
				deleted:  func(t *Tab) bool { return t.Deleted },
			},
		},
	}, nil
}

// Load reads the record set from the store without propagating failures.
func (r *TabRepository) Load(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records.load(ctx)
	if r.records.loadErr != nil {
		logError(r.logger, opTabsLoad, "store_read_failed", r.records.loadErr)
	}
}

// LoadError reports the failure recorded by the most recent Load, if any.
func (r *TabRepository) LoadError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.loadErr
}

// ListByCollection returns the surviving tabs under collectionID ascending by order.
func (r *TabRepository) ListByCollection(collectionID string) []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.list(collectionID)
}

// Get returns a surviving tab by identifier.
func (r *TabRepository) Get(id string) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 || r.records.records[idx].Deleted {
		return Tab{}, fmt.Errorf("%w: tab %s", ErrNotFound, id)
	}
	return r.records.records[idx], nil
}

// Add saves a tab into collectionID. When a surviving tab in the same
// collection already holds the URL, the call merges into that record,
// refreshing its title and favicon, and no new record is created — callers
// must not assume Add returns a fresh identifier. A collection at
// MaxTabsPerCollection rejects the insert with a CapacityError and nothing
// is written.
func (r *TabRepository) Add(ctx context.Context, collectionID string, input TabInput) (Tab, error) {
	if err := input.validate(); err != nil {
		return Tab{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.findByURL(collectionID, input.URL); idx >= 0 {
		updated := r.records.snapshot()
		existing := &updated[idx]
		existing.Title = input.Title
		existing.FaviconURL = input.FaviconURL
		existing.UpdatedAt = r.clock().UTC()
		if err := r.records.persist(ctx, updated); err != nil {
			logError(r.logger, opTabsAdd, "store_write_failed", err, zap.String("collection_id", collectionID))
			return Tab{}, err
		}
		return *existing, nil
	}

	if r.records.survivorCount(collectionID) >= MaxTabsPerCollection {
		return Tab{}, &CapacityError{CollectionID: collectionID, Limit: MaxTabsPerCollection}
	}

	id, err := r.ids.NewID()
	if err != nil {
		logError(r.logger, opTabsAdd, "id_generation_failed", err)
		return Tab{}, err
	}

	now := r.clock().UTC()
	tab := Tab{
		ID:           id,
		CollectionID: collectionID,
		Title:        input.Title,
		URL:          input.URL,
		FaviconURL:   input.FaviconURL,
		Description:  input.Description,
		Order:        r.records.survivorCount(collectionID),
		Tags:         input.Tags,
		Metadata:     input.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	updated := append(r.records.snapshot(), tab)
	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opTabsAdd, "store_write_failed", err, zap.String("collection_id", collectionID))
		return Tab{}, err
	}
	return tab, nil
}

// Update applies a patch to the tab matching id. Lookup is by identifier
// only, tombstones included.
func (r *TabRepository) Update(ctx context.Context, id string, patch TabPatch) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyPatch(ctx, id, patch, "")
}

// Move re-homes a tab to the end of newCollectionID's sibling list. The
// destination's capacity is checked before anything is written.
func (r *TabRepository) Move(ctx context.Context, id, newCollectionID string) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 || r.records.records[idx].Deleted {
		return Tab{}, fmt.Errorf("%w: tab %s", ErrNotFound, id)
	}

	destCount := r.records.survivorCount(newCollectionID)
	if r.records.records[idx].CollectionID == newCollectionID {
		destCount--
	}
	if destCount >= MaxTabsPerCollection {
		return Tab{}, &CapacityError{CollectionID: newCollectionID, Limit: MaxTabsPerCollection}
	}

	order := r.records.survivorCount(newCollectionID)
	return r.applyPatch(ctx, id, TabPatch{Order: &order}, newCollectionID)
}

// applyPatch mutates the tab matching id and persists the full record set.
// Callers hold the mutex. A non-empty newCollectionID re-homes the tab.
func (r *TabRepository) applyPatch(ctx context.Context, id string, patch TabPatch, newCollectionID string) (Tab, error) {
	idx := r.records.indexOf(id)
	if idx < 0 {
		return Tab{}, fmt.Errorf("%w: tab %s", ErrNotFound, id)
	}

	updated := r.records.snapshot()
	tab := &updated[idx]
	if newCollectionID != "" {
		tab.CollectionID = newCollectionID
	}
	if patch.Title != nil {
		tab.Title = *patch.Title
	}
	if patch.URL != nil {
		tab.URL = *patch.URL
	}
	if patch.FaviconURL != nil {
		tab.FaviconURL = *patch.FaviconURL
	}
	if patch.Description != nil {
		tab.Description = *patch.Description
	}
	if patch.Order != nil {
		tab.Order = *patch.Order
	}
	if patch.Tags != nil {
		tab.Tags = *patch.Tags
	}
	if patch.Metadata != nil {
		tab.Metadata = patch.Metadata
	}
	if patch.SyncedAt != nil {
		tab.SyncedAt = patch.SyncedAt
	}
	tab.UpdatedAt = r.clock().UTC()

	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opTabsUpdate, "store_write_failed", err, zap.String("tab_id", id))
		return Tab{}, err
	}
	return *tab, nil
}

// Delete soft-deletes the tab matching id. Absent or already-deleted
// identifiers are a no-op. Sibling order values keep their gaps.
func (r *TabRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 || r.records.records[idx].Deleted {
		return nil
	}

	updated := r.records.snapshot()
	updated[idx].Deleted = true
	updated[idx].UpdatedAt = r.clock().UTC()

	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opTabsDelete, "store_write_failed", err, zap.String("tab_id", id))
		return err
	}
	return nil
}

// findByURL locates a surviving tab in collectionID holding url. Callers
// hold the mutex.
func (r *TabRepository) findByURL(collectionID, url string) int {
	for i := range r.records.records {
		tab := &r.records.records[i]
		if tab.Deleted || tab.CollectionID != collectionID {
			continue
		}
		if tab.URL == url {
			return i
		}
	}
	return -1
}
