// Package engine defines the uniform storage-engine contract every concrete
// engine (array, hash, RB-tree, B+Tree, LSM) satisfies, plus the factory that
// selects among them by types.EngineKind.
package engine

import "github.com/Lzww0608/ConcordKV-sub005/pkg/types"

// Engine is the capability set every storage engine must implement.
// Keys and values returned to
// the caller are freshly owned copies unless a method's doc says otherwise.
type Engine interface {
	// Put inserts or overwrites key with value.
	Put(key types.Key, value types.Value) error
	// Get returns a fresh copy of the value stored for key, or NotFound.
	Get(key types.Key) (types.Value, error)
	// Delete removes key, returning NotFound if it was already absent.
	Delete(key types.Key) error
	// Update overwrites an existing key's value, returning NotFound if key
	// is absent (unlike Put, Update never inserts).
	Update(key types.Key, value types.Value) error
	// Count returns the number of unique keys currently stored.
	Count() int
	// BatchPut inserts or overwrites every (keys[i], values[i]) pair. It is
	// not transactional: a failure partway through leaves prior pairs
	// applied.
	BatchPut(keys []types.Key, values []types.Value) error
	// Close releases engine resources. Idempotent.
	Close() error
}
