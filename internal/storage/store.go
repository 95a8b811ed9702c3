package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrKeyNotFound indicates that no value is stored under the requested key.
var ErrKeyNotFound = errors.New("storage: key not found")

// Persisted key names. Each entity list key holds every record of its kind,
// tombstones included.
const (
	KeySpaces        = "spaces"
	KeyCollections   = "collections"
	KeyTabs          = "tabs"
	KeyActiveSpaceID = "active_space_id"
	KeyAuthUser      = "auth_user"
	KeyAuthToken     = "auth_token"
	KeyAuthExpiresAt = "auth_expires_at"
	// Reserved for a future sync engine; nothing reads or writes these yet.
	KeyPendingSyncQueue = "pending_sync_queue"
	KeyLastSyncedAt     = "last_synced_at"
)

// Store is the local persistent store: string keys mapped to JSON values.
// Put replaces the whole value under a key with no version check, so two
// processes performing read-modify-write on the same key can clobber each
// other (last writer wins). This interface is the seam where a
// compare-and-swap write could be added without changing callers.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Put(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}
