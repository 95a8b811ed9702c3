package library

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that no record matches the requested identifier.
	ErrNotFound = errors.New("library: record not found")
	// ErrCollectionFull matches any CapacityError via errors.Is.
	ErrCollectionFull = errors.New("library: collection is full")
)

// CapacityError reports a collection at its non-deleted tab ceiling.
type CapacityError struct {
	CollectionID string
	Limit        int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("library: collection %s holds the maximum of %d tabs", e.CollectionID, e.Limit)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCollectionFull
}
