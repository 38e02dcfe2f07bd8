// Package s3 implements kvstore.Store on Amazon S3.
//
// S3's conditional writes (If-None-Match) cover the create-only put the
// append-only log needs; version CAS beyond create is not supported, so this
// backend carries the WAL while projections stay on a MutableStore.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/feedpulse/kvstore"
)

// ErrCASUnsupported is returned for conditional puts with a non-zero expected
// version; S3 has no compare-and-swap on object content.
var ErrCASUnsupported = errors.New("s3 store: version compare-and-swap not supported")

// Store implements kvstore.Store for S3.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewStore creates a new S3 store. rootPrefix is prepended to all keys.
func NewStore(client *s3.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   rootPrefix,
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

// Get returns the object's bytes. S3 objects are write-once here, so the
// reported version is always 1.
func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return kvstore.Entry{}, kvstore.ErrNotFound
		}
		return kvstore.Entry{}, fmt.Errorf("s3 get: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("s3 read: %w", err)
	}
	return kvstore.Entry{Version: 1, Value: data}, nil
}

// ConditionalPut creates the object iff it does not exist, using an
// If-None-Match upload. The manager uploader handles multipart for large
// values transparently.
func (s *Store) ConditionalPut(ctx context.Context, key string, expectedVersion uint64, value []byte) (uint64, error) {
	if expectedVersion != 0 {
		return 0, ErrCASUnsupported
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(value),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return 0, kvstore.ErrKeyExists
		}
		return 0, fmt.Errorf("s3 put: %w", err)
	}
	return 1, nil
}

// ListByPrefix pages through object keys in ascending order via StartAfter.
func (s *Store) ListByPrefix(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	}
	if after != "" {
		input.StartAfter = aws.String(s.objectKey(after))
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	resp, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("s3 list: %w", err)
	}

	keys := make([]string, 0, len(resp.Contents))
	for _, obj := range resp.Contents {
		keys = append(keys, s.trim(aws.ToString(obj.Key)))
	}
	if aws.ToBool(resp.IsTruncated) && len(keys) > 0 {
		return keys, keys[len(keys)-1], nil
	}
	return keys, "", nil
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

var _ kvstore.Store = (*Store)(nil)
