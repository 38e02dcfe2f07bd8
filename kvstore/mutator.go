package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// casMutateRetries bounds the optimistic retry loop.
const casMutateRetries = 16

// CASMutable upgrades a Store with version-aware conditional puts to a
// MutableStore by running mutations as an optimistic read-modify-write loop.
// Use it for backends like DynamoDB that enforce versions server-side but
// have no native serialized mutation.
type CASMutable struct {
	Store
}

// NewCASMutable wraps a store with an optimistic Mutate implementation.
func NewCASMutable(store Store) *CASMutable {
	return &CASMutable{Store: store}
}

// Mutate applies fn to the current value of key and writes the result back
// conditioned on the version it read. On a version conflict it rereads and
// retries.
func (m *CASMutable) Mutate(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	for attempt := 0; attempt < casMutateRetries; attempt++ {
		var (
			cur     []byte
			version uint64
		)

		entry, err := m.Get(ctx, key)
		if err == nil {
			cur = entry.Value
			version = entry.Version
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		_, err = m.ConditionalPut(ctx, key, version, next)
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrKeyExists) {
			return err
		}
	}

	return fmt.Errorf("kvstore: mutate %q: %w after %d attempts", key, ErrVersionConflict, casMutateRetries)
}
