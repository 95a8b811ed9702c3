package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tabvault/tabvault/internal/storage"
	"go.uber.org/zap"
)

const (
	opSpacesNew      = "library.spaces.new"
	opSpacesLoad     = "library.spaces.load"
	opSpacesAdd      = "library.spaces.add"
	opSpacesUpdate   = "library.spaces.update"
	opSpacesDelete   = "library.spaces.delete"
	opSpacesActivate = "library.spaces.activate"
)

// SpaceRepositoryConfig configures a SpaceRepository.
type SpaceRepositoryConfig struct {
	Store      storage.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// SpaceRepository owns the space record set and the active-space pointer.
// At most one space is active at a time; the pointer lives under its own
// store key, outside the record set.
type SpaceRepository struct {
	mu       sync.Mutex
	store    storage.Store
	clock    func() time.Time
	ids      IDProvider
	logger   *zap.Logger
	records  collection[Space]
	activeID string
}

// NewSpaceRepository constructs a SpaceRepository from its configuration.
func NewSpaceRepository(cfg SpaceRepositoryConfig) (*SpaceRepository, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opSpacesNew, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opSpacesNew, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &SpaceRepository{
		store:  cfg.Store,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
		records: collection[Space]{
			store: cfg.Store,
			key:   storage.KeySpaces,
			view: recordView[Space]{
				id:       func(s *Space) string { return s.ID },
				parentID: func(*Space) string { return "" },
				order:    func(s *Space) int { return s.Order },
				deleted:  func(s *Space) bool { return s.Deleted },
			},
		},
	}, nil
}

// Load reads the record set and the active pointer from the store. Failures
// never propagate; the view degrades to empty and the error is retained on
// LoadError.
func (r *SpaceRepository) Load(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records.load(ctx)
	if r.records.loadErr != nil {
		logError(r.logger, opSpacesLoad, "store_read_failed", r.records.loadErr)
	}

	r.activeID = ""
	raw, err := r.store.Get(ctx, storage.KeyActiveSpaceID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return
	}
	if err != nil {
		logError(r.logger, opSpacesLoad, "active_pointer_read_failed", err)
		return
	}
	var activeID string
	if err := json.Unmarshal(raw, &activeID); err != nil {
		logError(r.logger, opSpacesLoad, "active_pointer_decode_failed", err)
		return
	}
	r.activeID = activeID
}

// LoadError reports the failure recorded by the most recent Load, if any.
func (r *SpaceRepository) LoadError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.loadErr
}

// List returns the surviving spaces ascending by order.
func (r *SpaceRepository) List() []Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.list("")
}

// Get returns a surviving space by identifier.
func (r *SpaceRepository) Get(id string) (Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 || r.records.records[idx].Deleted {
		return Space{}, fmt.Errorf("%w: space %s", ErrNotFound, id)
	}
	return r.records.records[idx], nil
}

// ActiveSpaceID returns the active space identifier, or "" when none is set.
func (r *SpaceRepository) ActiveSpaceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Activate points the active-space pointer at a surviving space.
func (r *SpaceRepository) Activate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 || r.records.records[idx].Deleted {
		return fmt.Errorf("%w: space %s", ErrNotFound, id)
	}
	if err := r.persistActive(ctx, id); err != nil {
		logError(r.logger, opSpacesActivate, "active_pointer_write_failed", err, zap.String("space_id", id))
		return err
	}
	return nil
}

// Add appends a new space at the end of the list. The first space created
// while no active pointer is set becomes the active space.
func (r *SpaceRepository) Add(ctx context.Context, input SpaceInput) (Space, error) {
	if err := input.validate(); err != nil {
		return Space{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.ids.NewID()
	if err != nil {
		logError(r.logger, opSpacesAdd, "id_generation_failed", err)
		return Space{}, err
	}

	now := r.clock().UTC()
	space := Space{
		ID:          id,
		Name:        input.Name,
		Description: input.Description,
		Icon:        input.Icon,
		Color:       input.Color,
		Order:       r.records.survivorCount(""),
		IsDefault:   input.IsDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	updated := append(r.records.snapshot(), space)
	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opSpacesAdd, "store_write_failed", err)
		return Space{}, err
	}

	if r.activeID == "" {
		if err := r.persistActive(ctx, space.ID); err != nil {
			logError(r.logger, opSpacesAdd, "active_pointer_write_failed", err, zap.String("space_id", space.ID))
			return Space{}, err
		}
	}
	return space, nil
}

// Update applies a patch to the space matching id. Lookup is by identifier
// only, tombstones included: patching a deleted space is allowed and leaves
// its tombstone flag untouched.
func (r *SpaceRepository) Update(ctx context.Context, id string, patch SpacePatch) (Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.records.indexOf(id)
	if idx < 0 {
		return Space{}, fmt.Errorf("%w: space %s", ErrNotFound, id)
	}

	updated := r.records.snapshot()
	space := &updated[idx]
	if patch.Name != nil {
		space.Name = *patch.Name
	}
	if patch.Description != nil {
		space.Description = *patch.Description
	}
	if patch.Icon != nil {
		space.Icon = *patch.Icon
	}
	if patch.Color != nil {
		space.Color = *patch.Color
	}
	if patch.Order != nil {
		space.Order = *patch.Order
	}
	if patch.IsDefault != nil {
		space.IsDefault = *patch.IsDefault
	}
	if patch.SyncedAt != nil {
		space.SyncedAt = patch.SyncedAt
	}
	space.UpdatedAt = r.clock().UTC()

	if err := r.records.persist(ctx, updated); err != nil {
		logError(r.logger, opSpacesUpdate, "store_write_failed", err, zap.String("space_id", id))
		return Space{}, err
	}
	return *space, nil
}

// Delete soft-deletes the space matching id. Absent or already-deleted
// identifiers are a no-op. Deleting the active space promotes the next
// surviving space by list order, or clears the pointer when none remain.
// Sibling order values are not renumbered.
func (r *SpaceRepository) Delete(ctx context.Context, id string) error {
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
		logError(r.logger, opSpacesDelete, "store_write_failed", err, zap.String("space_id", id))
		return err
	}

	if r.activeID == id {
		nextID := ""
		if survivors := r.records.list(""); len(survivors) > 0 {
			nextID = survivors[0].ID
		}
		if err := r.persistActive(ctx, nextID); err != nil {
			logError(r.logger, opSpacesDelete, "active_pointer_write_failed", err, zap.String("space_id", id))
			return err
		}
	}
	return nil
}

func (r *SpaceRepository) persistActive(ctx context.Context, id string) error {
	if id == "" {
		if err := r.store.Delete(ctx, storage.KeyActiveSpaceID); err != nil {
			return err
		}
		r.activeID = ""
		return nil
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, storage.KeyActiveSpaceID, raw); err != nil {
		return err
	}
	r.activeID = id
	return nil
}
