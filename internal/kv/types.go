// Package kv defines the synchronous string-keyed stores that back
// per-user local persistence.
package kv

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by stores that cap their total size.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Store is a synchronous string key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set writes value under key.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys lists every key beginning with prefix.
	Keys(prefix string) ([]string, error)
}

// Batcher is implemented by stores that can write several keys at once.
type Batcher interface {
	SetMany(entries map[string]string) error
}

// Watcher is implemented by stores that announce writes, including writes
// made by other processes sharing the same backing store.
type Watcher interface {
	// Watch streams change events until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Change, error)
}

// Change announces that a key was written or removed.
type Change struct {
	Key     string
	Removed bool
}

// SetAll writes entries through a Batcher when the store supports one,
// otherwise one key at a time.
func SetAll(s Store, entries map[string]string) error {
	if b, ok := s.(Batcher); ok {
		return b.SetMany(entries)
	}
	for k, v := range entries {
		if err := s.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
