package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const localHeaderLen = 8 // version, little-endian

// LocalStore is a MutableStore keeping one file per key under a root
// directory. Slashes in keys map to subdirectories. Writes go through a
// temp-file rename so a crash never leaves a torn value, and an 8-byte
// version header provides the conditional-put check.
type LocalStore struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalStore creates a store rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &LocalStore{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *LocalStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) read(key string) (Entry, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if len(data) < localHeaderLen {
		return Entry{}, fmt.Errorf("kvstore: corrupt entry %q: short header", key)
	}
	return Entry{
		Version: binary.LittleEndian.Uint64(data[:localHeaderLen]),
		Value:   data[localHeaderLen:],
	}, nil
}

func (s *LocalStore) write(key string, version uint64, value []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	buf := make([]byte, localHeaderLen+len(value))
	binary.LittleEndian.PutUint64(buf[:localHeaderLen], version)
	copy(buf[localHeaderLen:], value)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".kv-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Get returns the current entry for key.
func (s *LocalStore) Get(_ context.Context, key string) (Entry, error) {
	return s.read(key)
}

// ConditionalPut writes value iff the current version matches.
func (s *LocalStore) ConditionalPut(_ context.Context, key string, expectedVersion uint64, value []byte) (uint64, error) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	cur, err := s.read(key)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	if expectedVersion == 0 && exists {
		return 0, ErrKeyExists
	}
	if expectedVersion > 0 && (!exists || cur.Version != expectedVersion) {
		return 0, ErrVersionConflict
	}

	next := cur.Version + 1
	if err := s.write(key, next, value); err != nil {
		return 0, err
	}
	return next, nil
}

// ListByPrefix walks the tree and returns matching keys, ascending.
func (s *LocalStore) ListByPrefix(_ context.Context, prefix, after string, limit int) ([]string, string, error) {
	var matched []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".kv-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > after {
			matched = append(matched, key)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", err
	}

	sort.Strings(matched)
	if limit > 0 && len(matched) > limit {
		return matched[:limit], matched[limit-1], nil
	}
	return matched, "", nil
}

// Delete removes a key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Mutate applies fn under the key's lock.
func (s *LocalStore) Mutate(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	cur, err := s.read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	out, err := fn(cur.Value)
	if err != nil {
		return err
	}
	return s.write(key, cur.Version+1, out)
}

var _ MutableStore = (*LocalStore)(nil)
