// Package minio implements kvstore.Store on MinIO and other S3-compatible
// object stores.
//
// Create-only puts use a stat-then-put sequence: MinIO deployments without
// a strict If-None-Match guarantee can race two writers onto the same key,
// which degrades to a duplicate append that the replay layer dedupes by
// event id anyway.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/feedpulse/kvstore"
)

// ErrCASUnsupported is returned for conditional puts with a non-zero
// expected version.
var ErrCASUnsupported = errors.New("minio store: version compare-and-swap not supported")

// Store implements kvstore.Store for MinIO.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a new MinIO store. rootPrefix is prepended to all keys.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

func (s *Store) trim(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	trimmed := strings.TrimPrefix(objectKey, s.prefix)
	return strings.TrimPrefix(trimmed, "/")
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

// Get returns the object's bytes.
func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("minio get: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return kvstore.Entry{}, kvstore.ErrNotFound
		}
		return kvstore.Entry{}, fmt.Errorf("minio read: %w", err)
	}
	return kvstore.Entry{Version: 1, Value: data}, nil
}

// ConditionalPut creates the object iff it does not already exist.
func (s *Store) ConditionalPut(ctx context.Context, key string, expectedVersion uint64, value []byte) (uint64, error) {
	if expectedVersion != 0 {
		return 0, ErrCASUnsupported
	}

	objectKey := s.objectKey(key)
	if _, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{}); err == nil {
		return 0, kvstore.ErrKeyExists
	} else if !isNotFound(err) {
		return 0, fmt.Errorf("minio stat: %w", err)
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("minio put: %w", err)
	}
	return 1, nil
}

// ListByPrefix streams object names in ascending order.
func (s *Store) ListByPrefix(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	opts := minio.ListObjectsOptions{
		Prefix:     s.objectKey(prefix),
		Recursive:  true,
		StartAfter: s.objectKey(after),
	}
	if after == "" {
		opts.StartAfter = ""
	}

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, "", fmt.Errorf("minio list: %w", obj.Err)
		}
		key := s.trim(obj.Key)
		if key == "" {
			continue
		}
		keys = append(keys, key)
		if limit > 0 && len(keys) == limit {
			return keys, keys[len(keys)-1], nil
		}
	}
	return keys, "", nil
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("minio delete: %w", err)
	}
	return nil
}

var _ kvstore.Store = (*Store)(nil)
