package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrKeyExists is returned by a create-only ConditionalPut when the key
	// is already present. The value was not overwritten.
	ErrKeyExists = errors.New("kvstore: key already exists")

	// ErrVersionConflict is returned when a ConditionalPut loses a race:
	// the key's current version differs from the expected one.
	ErrVersionConflict = errors.New("kvstore: version conflict")
)

// Entry is a versioned value.
type Entry struct {
	Version uint64
	Value   []byte
}

// Store is the durable key/value contract the pipeline builds on.
//
// There are no multi-key transactions; every guarantee is per key. Listing
// returns keys in ascending lexicographic order with cursor pagination so a
// caller can bound per-call work.
type Store interface {
	// Get returns the current entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// ConditionalPut writes value iff the key's current version equals
	// expectedVersion. expectedVersion 0 means "create only": the put fails
	// with ErrKeyExists if the key is present. Returns the new version.
	ConditionalPut(ctx context.Context, key string, expectedVersion uint64, value []byte) (uint64, error)

	// ListByPrefix returns up to limit keys that start with prefix and sort
	// strictly after the cursor, in ascending lexicographic order. The
	// returned cursor is empty once the range is drained.
	ListByPrefix(ctx context.Context, prefix, after string, limit int) (keys []string, next string, err error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Mutator is the serialized read-modify-write capability. For any given key,
// concurrent Mutate calls run one at a time; fn sees the latest value (nil if
// the key is absent) and its return value becomes the new value atomically.
type Mutator interface {
	Mutate(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error
}

// MutableStore combines Store with per-key serialized mutation. The in-process
// backends implement it; object-store backends implement only Store and are
// suitable for the append-only log, not for projections.
type MutableStore interface {
	Store
	Mutator
}
