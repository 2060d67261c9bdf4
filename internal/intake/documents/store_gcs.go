// Package documents stores insurance card images. Objects are keyed under a
// per-case prefix so a purge can remove every image of a case at once.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"intakehub/pkg/platform/sentinel"
)

const (
	writeTimeout = 2 * time.Minute
	listTimeout  = 30 * time.Second
)

// GCSStore keeps card images in a private Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCS opens a storage client for bucket. Credentials come from the
// environment unless opts override them.
func NewGCS(ctx context.Context, bucket string, logger *slog.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("documents bucket is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, logger: logger}, nil
}

func (s *GCSStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-store"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("object %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, "", fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", key, err)
	}
	return body, r.Attrs.ContentType, nil
}

// DeletePrefix removes every object under prefix. A missing object is not an
// error; any other failure is reported after the remaining deletes are tried.
func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, fmt.Errorf("delete object %s: %w", key, err))
		}
	}
	if len(keys) > 0 {
		s.logger.DebugContext(ctx, "deleted case documents",
			"prefix", prefix,
			"objects", len(keys),
			"failed", len(errs),
		)
	}
	return errors.Join(errs...)
}

func (s *GCSStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
