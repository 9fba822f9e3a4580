// Package storage is the blob store for PDFs, CSVs, images and metadata
// artifacts, namespaced by bucket ("extractions", "datasets") and key.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

const (
	BucketExtractions = "extractions"
	BucketDatasets    = "datasets"
)

var (
	ErrNotFound   = errors.New("storage: object not found")
	ErrExists     = errors.New("storage: object already exists")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
}

// PutOptions tunes a write.
type PutOptions struct {
	ContentType string
	IfAbsent    bool // fail with ErrExists instead of overwriting
}

// Store is implemented by the local filesystem and GCS backends.
type Store interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (ObjectInfo, error)
}

// Presigner is implemented by backends that can hand out direct-upload URLs.
type Presigner interface {
	SignedPutURL(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
}

// CleanKey rejects empty, absolute and parent-escaping keys.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return c, nil
}

// PutBytes stores b.
func PutBytes(ctx context.Context, s Store, bucket, key string, b []byte, contentType string) error {
	_, err := s.Put(ctx, bucket, key, bytes.NewReader(b), PutOptions{ContentType: contentType})
	return err
}

// GetBytes reads a whole object.
func GetBytes(ctx context.Context, s Store, bucket, key string) ([]byte, error) {
	rc, _, err := s.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DeletePrefix removes every object under prefix, continuing past failures.
// It returns the number removed and the individual errors.
func DeletePrefix(ctx context.Context, s Store, bucket, prefix string) (int, []error) {
	objs, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return 0, []error{err}
	}
	var (
		n    int
		errs []error
	)
	for _, o := range objs {
		if err := s.Delete(ctx, bucket, o.Key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s/%s: %w", bucket, o.Key, err))
			continue
		}
		n++
	}
	return n, errs
}
