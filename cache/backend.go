package cache

import (
	"context"
	"time"
)

// Usage reports a backend's aggregate entry size against its bound. A
// MaxSize <= 0 means the backend is unbounded; a Size of -1 means the
// backend does not track usage.
type Usage struct {
	Size    int64
	MaxSize int64
}

// Backend is the key-value store a Cache delegates entry storage to.
// Implementations must treat entries as opaque and immutable. All methods
// must be safe for concurrent use.
//
// Serialized backends (Redis, SQLite) surface entry values as []byte; use
// GetAs to decode them into concrete types.
type Backend interface {
	// Get returns the entry for key, or nil when absent. Backends do not
	// interpret freshness; expired entries may still be returned and are
	// filtered by the Cache.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry under key, replacing any existing entry.
	Set(ctx context.Context, key string, entry *Entry) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Lock attempts to acquire a best-effort fetch lock on key for at most
	// ttl (a ttl <= 0 means no expiry, where supported). It reports whether
	// the lock was acquired.
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases a fetch lock on key. Unlocking an unheld lock is not
	// an error.
	Unlock(ctx context.Context, key string) error

	// Next advances a lazy forward iteration over live entries by one step.
	// An empty cursor starts the iteration; the returned cursor resumes it.
	// An empty key with a nil entry signals the end. The iteration is finite
	// and tolerates concurrent writes and deletes.
	Next(ctx context.Context, cursor string) (key string, entry *Entry, next string, err error)

	// Usage reports the backend's size accounting.
	Usage(ctx context.Context) (Usage, error)

	// Close releases backend resources.
	Close() error
}
