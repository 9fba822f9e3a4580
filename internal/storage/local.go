package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/thermo-extraction/constants"
)

// Local keeps objects under root/<bucket>/<key>.
type Local struct {
	root   string
	logger *slog.Logger
}

func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: root, logger: logger}, nil
}

func (l *Local) path(bucket, key string) (string, error) {
	b, err := CleanKey(bucket)
	if err != nil || strings.Contains(b, "/") {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidKey, bucket)
	}
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, b, filepath.FromSlash(k)), nil
}

func (l *Local) Put(ctx context.Context, bucket, key string, r io.Reader, opts PutOptions) (ObjectInfo, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if opts.IfAbsent {
		if _, err := os.Stat(p); err == nil {
			return ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrExists)
		}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return ObjectInfo{}, err
	}
	// write to a temp file in the same dir, then rename
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return ObjectInfo{}, err
	}
	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		l.logger.Error("storage.local.put_failed", "bucket", bucket, "key", key, "error", err)
		return ObjectInfo{}, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return ObjectInfo{}, err
	}
	l.logger.Debug("storage.local.put", "bucket", bucket, "key", key, "bytes", n)
	return l.Stat(ctx, bucket, key)
}

func (l *Local) Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := l.Stat(ctx, bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	p, _ := l.path(bucket, key)
	f, err := os.Open(p)
	if err != nil {
		return nil, ObjectInfo{}, mapFSError(bucket, key, err)
	}
	return f, info, nil
}

func (l *Local) Stat(_ context.Context, bucket, key string) (ObjectInfo, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return ObjectInfo{}, mapFSError(bucket, key, err)
	}
	if st.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        st.Size(),
		ContentType: constants.ContentTypeFor(key),
		Updated:     st.ModTime(),
	}, nil
}

func (l *Local) Delete(_ context.Context, bucket, key string) error {
	p, err := l.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return mapFSError(bucket, key, err)
	}
	l.logger.Debug("storage.local.delete", "bucket", bucket, "key", key)
	return nil
}

func (l *Local) List(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	base, err := l.path(bucket, ".keep")
	if err != nil {
		return nil, err
	}
	base = filepath.Dir(base)
	var out []ObjectInfo
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{
			Bucket:      bucket,
			Key:         key,
			Size:        info.Size(),
			ContentType: constants.ContentTypeFor(key),
			Updated:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *Local) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (ObjectInfo, error) {
	rc, _, err := l.Get(ctx, srcBucket, srcKey)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer rc.Close()
	return l.Put(ctx, dstBucket, dstKey, rc, PutOptions{})
}

func mapFSError(bucket, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return err
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
