package kvstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreConditionalPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	version, err := store.ConditionalPut(ctx, "a", 0, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	// Create-only put against an existing key must fail.
	_, err = store.ConditionalPut(ctx, "a", 0, []byte("two"))
	assert.ErrorIs(t, err, ErrKeyExists)

	// Stale version must fail.
	_, err = store.ConditionalPut(ctx, "a", 7, []byte("two"))
	assert.ErrorIs(t, err, ErrVersionConflict)

	version, err = store.ConditionalPut(ctx, "a", 1, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	entry, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), entry.Value)
	assert.Equal(t, uint64(2), entry.Version)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMutateSerialized(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const writers = 32

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := store.Mutate(ctx, "counter", func(cur []byte) ([]byte, error) {
				n := 0
				if cur != nil {
					fmt.Sscanf(string(cur), "%d", &n)
				}
				return []byte(fmt.Sprintf("%d", n+1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", writers), string(entry.Value))
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{"wal/2025-01-01/b", "wal/2025-01-01/a", "wal/2025-01-02/c", "other/x"} {
		_, err := store.ConditionalPut(ctx, key, 0, []byte("v"))
		require.NoError(t, err)
	}

	keys, next, err := store.ListByPrefix(ctx, "wal/", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"wal/2025-01-01/a", "wal/2025-01-01/b"}, keys)
	require.NotEmpty(t, next)

	keys, next, err = store.ListByPrefix(ctx, "wal/", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"wal/2025-01-02/c"}, keys)
	assert.Empty(t, next)
}

func TestCASMutableRetries(t *testing.T) {
	ctx := context.Background()
	store := NewCASMutable(NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := store.Mutate(ctx, "counter", func(cur []byte) ([]byte, error) {
				n := 0
				if cur != nil {
					fmt.Sscanf(string(cur), "%d", &n)
				}
				return []byte(fmt.Sprintf("%d", n+1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "8", string(entry.Value))
}

func TestSplitRouting(t *testing.T) {
	ctx := context.Background()

	routed := NewMemoryStore()
	fallback := NewMemoryStore()
	split := NewSplit(routed, fallback, "wal/")

	_, err := split.ConditionalPut(ctx, "wal/2025-01-01/a", 0, []byte("log"))
	require.NoError(t, err)

	_, err = split.ConditionalPut(ctx, "feeds/f1", 0, []byte("state"))
	require.NoError(t, err)

	_, err = routed.Get(ctx, "wal/2025-01-01/a")
	assert.NoError(t, err)
	_, err = fallback.Get(ctx, "feeds/f1")
	assert.NoError(t, err)

	// Each side only sees its own keys.
	_, err = routed.Get(ctx, "feeds/f1")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, _, err := split.ListByPrefix(ctx, "wal/", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"wal/2025-01-01/a"}, keys)
}
