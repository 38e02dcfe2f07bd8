package kvstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process MutableStore. Every key has its own lock, so
// Mutate calls on the same key are applied one at a time in acquisition order
// while different keys proceed in parallel.
//
// Thread-safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex owning key, creating it on first use.
func (m *MemoryStore) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Get returns the current entry for key.
func (m *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}

	// Copy to prevent external mutation.
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	return Entry{Version: e.Version, Value: value}, nil
}

// ConditionalPut writes value iff the current version matches.
func (m *MemoryStore) ConditionalPut(_ context.Context, key string, expectedVersion uint64, value []byte) (uint64, error) {
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.entries[key]
	if expectedVersion == 0 && exists {
		return 0, ErrKeyExists
	}
	if expectedVersion > 0 && (!exists || cur.Version != expectedVersion) {
		return 0, ErrVersionConflict
	}

	copied := make([]byte, len(value))
	copy(copied, value)
	next := cur.Version + 1
	m.entries[key] = Entry{Version: next, Value: copied}
	return next, nil
}

// ListByPrefix returns keys matching prefix after the cursor, ascending.
func (m *MemoryStore) ListByPrefix(_ context.Context, prefix, after string, limit int) ([]string, string, error) {
	m.mu.RLock()
	var matched []string
	for key := range m.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix && key > after {
			matched = append(matched, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(matched)
	if limit > 0 && len(matched) > limit {
		return matched[:limit], matched[limit-1], nil
	}
	return matched, "", nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Mutate applies fn to the key's current value under the key's lock. fn
// receives nil if the key is absent; its return value becomes the new value.
func (m *MemoryStore) Mutate(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	cur, exists := m.entries[key]
	m.mu.RUnlock()

	var in []byte
	if exists {
		in = make([]byte, len(cur.Value))
		copy(in, cur.Value)
	}

	out, err := fn(in)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[key] = Entry{Version: cur.Version + 1, Value: out}
	m.mu.Unlock()
	return nil
}

var _ MutableStore = (*MemoryStore)(nil)
