package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tabvault/tabvault/internal/storage"
	"go.uber.org/zap"
)

const (
	opCollectionsNew    = "library.collections.new"
	opCollectionsLoad   = "library.collections.load"
	opCollectionsAdd    = "library.collections.add"
	opCollectionsUpdate = "library.collections.update"
	opCollectionsDelete = "library.collections.delete"
)

// CollectionRepositoryConfig configures a CollectionRepository.
type CollectionRepositoryConfig struct {
	Store      storage.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// CollectionRepository owns the collection record set. Collections reference
// their parent space by identifier only; nothing here checks that the space
// exists or survives.
type CollectionRepository struct {
	mu      sync.Mutex
	clock   func() time.Time
	ids     IDProvider
	logger  *zap.Logger
	records collection[Collection]
}

// NewCollectionRepository constructs a CollectionRepository from its configuration.
func NewCollectionRepository(cfg CollectionRepositoryConfig) (*CollectionRepository, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opCollectionsNew, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opCollectionsNew, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &CollectionRepository{
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
		records: collection[Collection]{
			store: cfg.Store,
			key:   storage.KeyCollections,
			view: recordView[Collection]{
				id:       func(c *Collection) string { return c.ID },
				parentID: func(c *Collection) string { return c.SpaceID },
				order:    func(c *Collection) int { return c.Order },
				deleted:  func(c *Collection) bool { return c.Deleted },
			},
		},
	}, nil
}

// Load reads the record set from the store without propagating failures.
func (r *CollectionRepository) Load(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records.load(ctx)
	if r.records.loadErr != nil {
		logError(r.logger, opCollectionsLoad, "store_read_failed", r.records.loadErr)
	}
}

// LoadError reports the failure recorded by the most recent Load, if any.
func (r *CollectionRepository) LoadError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.loadErr
}

// ListBySpace returns the surviving collections under spaceID ascending by order.
func (r *CollectionRepository) ListBySpace(spaceID string) []Collection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.list(spaceID)
}

// Get returns a surviving collection by identifier.
func (r *CollectionRepository) Get(id string) (Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 || r.records.records[idx].Deleted {
		return Collection{}, fmt.Errorf("%w: collection %s", ErrNotFound, id)
	}
	return r.records.records[idx], nil
}

// Add appends a new collection at the end of its space's sibling list.
func (r *CollectionRepository) Add(ctx context.Context, spaceID string, input CollectionInput) (Collection, error) {
	if err := input.validate(); err != nil {
		return Collection{}, err
	}
	viewMode := input.ViewMode
	if viewMode == "" {
		viewMode = ViewModeList
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.ids.NewID()
	if err != nil {
		logError(r.logger, opCollectionsAdd, "id_generation_failed", err)
		return Collection{}, err
	}

	now := r.clock().UTC()
	record := Collection{
		ID:          id,
		SpaceID:     spaceID,
		Name:        input.Name,
		Description: input.Description,
		Icon:        input.Icon,
		Color:       input.Color,
		ViewMode:    viewMode,
		Order:       r.records.survivorCount(spaceID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	updated := append(r.records.snapshot(), record)
	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opCollectionsAdd, "store_write_failed", err, zap.String("space_id", spaceID))
		return Collection{}, err
	}
	return record, nil
}

// Update applies a patch to the collection matching id. Lookup is by
// identifier only, tombstones included.
func (r *CollectionRepository) Update(ctx context.Context, id string, patch CollectionPatch) (Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 {
		return Collection{}, fmt.Errorf("%w: collection %s", ErrNotFound, id)
	}

	updated := r.records.snapshot()
	record := &updated[idx]
	if patch.Name != nil {
		record.Name = *patch.Name
	}
	if patch.Description != nil {
		record.Description = *patch.Description
	}
	if patch.Icon != nil {
		record.Icon = *patch.Icon
	}
	if patch.Color != nil {
		record.Color = *patch.Color
	}
	if patch.ViewMode != nil {
		record.ViewMode = *patch.ViewMode
	}
	if patch.Order != nil {
		record.Order = *patch.Order
	}
	if patch.IsDefault != nil {
		record.IsDefault = *patch.IsDefault
	}
	if patch.SyncedAt != nil {
		record.SyncedAt = patch.SyncedAt
	}
	record.UpdatedAt = r.clock().UTC()

	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opCollectionsUpdate, "store_write_failed", err, zap.String("collection_id", id))
		return Collection{}, err
	}
	return *record, nil
}

// Delete soft-deletes the collection matching id. Absent or already-deleted
// identifiers are a no-op. Tabs under the collection are not touched.
func (r *CollectionRepository) Delete(ctx context.Context, id string) error {
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
		logError(r.logger, opCollectionsDelete, "store_write_failed", err, zap.String("collection_id", id))
		return err
	}
	return nil
}
