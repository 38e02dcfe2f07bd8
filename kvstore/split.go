package kvstore

import (
	"context"
	"strings"
)

// Split routes keys under the given prefixes to one store and everything
// else to another. The typical deployment keeps the append-only log on an
// object store and the projections, which replay can always rebuild, on a
// fast mutable store.
//
// Mutations are only supported on the fallback store; the log is append-only
// and never mutated in place. ListByPrefix resolves against the store the
// prefix routes to, so listings never span both sides.
type Split struct {
	routed   Store
	fallback MutableStore
	prefixes []string
}

// NewSplit creates a split store routing the given key prefixes.
func NewSplit(routed Store, fallback MutableStore, prefixes ...string) *Split {
	return &Split{routed: routed, fallback: fallback, prefixes: prefixes}
}

func (s *Split) route(key string) Store {
	for _, p := range s.prefixes {
		if strings.HasPrefix(key, p) {
			return s.routed
		}
	}

	return s.fallback
}

func (s *Split) Get(ctx context.Context, key string) (Entry, error) {
	return s.route(key).Get(ctx, key)
}

func (s *Split) ConditionalPut(ctx context.Context, key string, expectedVersion uint64, value []byte) (uint64, error) {
	return s.route(key).ConditionalPut(ctx, key, expectedVersion, value)
}

func (s *Split) ListByPrefix(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	return s.route(prefix).ListByPrefix(ctx, prefix, after, limit)
}

func (s *Split) Delete(ctx context.Context, key string) error {
	return s.route(key).Delete(ctx, key)
}

func (s *Split) Mutate(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	return s.fallback.Mutate(ctx, key, fn)
}
