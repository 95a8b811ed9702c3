package library

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/tabvault/tabvault/internal/storage"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// recordView exposes the fields the generic collection core needs from an
// entity kind. Spaces have no parent; their parentID accessor returns "".
type recordView[T any] struct {
	id       func(*T) string
	parentID func(*T) string
	order    func(*T) int
	deleted  func(*T) bool
}

// collection holds one entity kind's full record set, tombstones included,
// backed by a single store key. Every mutation persists the whole set in one
// write and then swaps the in-memory state.
type collection[T any] struct {
	store   storage.Store
	key     string
	view    recordView[T]
	records []T
	loadErr error
}

// load reads the record set from the store. It never fails to the caller:
// a missing key yields an empty set, and any other store failure is recorded
// on loadErr while the in-memory view degrades to empty, so dependent reads
// stay usable.
func (c *collection[T]) load(ctx context.Context) {
	c.records = nil
	c.loadErr = nil

	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return
	}
	if err != nil {
		c.loadErr = err
		return
	}

	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		c.loadErr = err
		return
	}
	c.records = records
}

// persist writes the full updated record set, then replaces in-memory state.
func (c *collection[T]) persist(ctx context.Context, updated []T) error {
	raw, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, c.key, raw); err != nil {
		return err
	}
	c.records = updated
	return nil
}

// list returns the surviving records under parentID, ascending by order.
// Order values are a total order, not contiguous indexes: deletions leave
// gaps, and the stable sort tolerates duplicates.
func (c *collection[T]) list(parentID string) []T {
	result := make([]T, 0, len(c.records))
	for i := range c.records {
		record := &c.records[i]
		if c.view.deleted(record) {
			continue
		}
		if c.view.parentID(record) != parentID {
			continue
		}
		result = append(result, *record)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return c.view.order(&result[i]) < c.view.order(&result[j])
	})
	return result
}

// indexOf locates a record by identifier, tombstones included.
func (c *collection[T]) indexOf(id string) int {
	for i := range c.records {
		if c.view.id(&c.records[i]) == id {
			return i
		}
	}
	return -1
}

// survivorCount counts non-deleted records under parentID. New records are
// appended at this rank.
func (c *collection[T]) survivorCount(parentID string) int {
	count := 0
	for i := range c.records {
		record := &c.records[i]
		if c.view.deleted(record) {
			continue
		}
		if c.view.parentID(record) != parentID {
			continue
		}
		count++
	}
	return count
}

// snapshot returns a copy of the full record set for mutation.
func (c *collection[T]) snapshot() []T {
	copied := make([]T, len(c.records))
	copy(copied, c.records)
	return copied
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("library repository error", attrs...)
}
