package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCS maps each logical bucket onto a Cloud Storage bucket named
// prefix+bucket (e.g. "thermo-" + "extractions").
type GCS struct {
	client      *storage.Client
	prefix      string
	signerEmail string
	logger      *slog.Logger
}

func NewGCS(client *storage.Client, bucketPrefix, signerEmail string, logger *slog.Logger) *GCS {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCS{client: client, prefix: bucketPrefix, signerEmail: signerEmail, logger: logger}
}

func (g *GCS) object(bucket, key string) (*storage.ObjectHandle, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	return g.client.Bucket(g.prefix + bucket).Object(k), nil
}

func (g *GCS) Put(ctx context.Context, bucket, key string, r io.Reader, opts PutOptions) (ObjectInfo, error) {
	obj, err := g.object(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if opts.IfAbsent {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return ObjectInfo{}, g.mapError(bucket, key, err)
	}
	if err := w.Close(); err != nil {
		g.logger.Error("storage.gcs.put_failed", "bucket", bucket, "key", key, "error", err)
		return ObjectInfo{}, g.mapError(bucket, key, err)
	}
	attrs := w.Attrs()
	g.logger.Debug("storage.gcs.put", "bucket", bucket, "key", key, "bytes", attrs.Size)
	return toInfo(bucket, attrs), nil
}

func (g *GCS) Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := g.object(bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	rd, err := obj.NewReader(ctx)
	if err != nil {
		return nil, ObjectInfo{}, g.mapError(bucket, key, err)
	}
	return rd, ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        rd.Attrs.Size,
		ContentType: rd.Attrs.ContentType,
		Updated:     rd.Attrs.LastModified,
	}, nil
}

func (g *GCS) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	obj, err := g.object(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, g.mapError(bucket, key, err)
	}
	return toInfo(bucket, attrs), nil
}

func (g *GCS) Delete(ctx context.Context, bucket, key string) error {
	obj, err := g.object(bucket, key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil {
		return g.mapError(bucket, key, err)
	}
	g.logger.Debug("storage.gcs.delete", "bucket", bucket, "key", key)
	return nil
}

func (g *GCS) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	it := g.client.Bucket(g.prefix+bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		out = append(out, toInfo(bucket, attrs))
	}
	return out, nil
}

func (g *GCS) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (ObjectInfo, error) {
	src, err := g.object(srcBucket, srcKey)
	if err != nil {
		return ObjectInfo{}, err
	}
	dst, err := g.object(dstBucket, dstKey)
	if err != nil {
		return ObjectInfo{}, err
	}
	attrs, err := dst.CopierFrom(src).Run(ctx)
	if err != nil {
		return ObjectInfo{}, g.mapError(srcBucket, srcKey, err)
	}
	return toInfo(dstBucket, attrs), nil
}

// SignedPutURL returns a V4 URL the browser can PUT the PDF to directly.
func (g *GCS) SignedPutURL(_ context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	}
	if g.signerEmail != "" {
		opts.GoogleAccessID = g.signerEmail
	}
	u, err := g.client.Bucket(g.prefix+bucket).SignedURL(k, opts)
	if err != nil {
		return "", fmt.Errorf("sign upload url: %w", err)
	}
	return u, nil
}

func (g *GCS) mapError(bucket, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrExists)
		case http.StatusNotFound:
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
	}
	return err
}

func toInfo(bucket string, a *storage.ObjectAttrs) ObjectInfo {
	if a == nil {
		return ObjectInfo{Bucket: bucket}
	}
	return ObjectInfo{
		Bucket:      bucket,
		Key:         a.Name,
		Size:        a.Size,
		ContentType: a.ContentType,
		Updated:     a.Updated,
	}
}
