// Package gcs uploads report artifacts to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"cloud.google.com/go/storage"
)

// DefaultCacheControl keeps browsers and the GCS edge from serving a stale
// report when the same object is overwritten by the next run.
const DefaultCacheControl = "no-cache, max-age=0"

// Config selects the bucket and the attributes stamped on every object.
type Config struct {
	Bucket string
	// CacheControl defaults to DefaultCacheControl.
	CacheControl string
	// Metadata is copied into each object's custom metadata, e.g. run_id.
	Metadata map[string]string
}

// BlobStore writes report objects into one bucket.
type BlobStore struct {
	bucket       *storage.BucketHandle
	name         string
	cacheControl string
	metadata     map[string]string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	cc := cfg.CacheControl
	if cc == "" {
		cc = DefaultCacheControl
	}
	return &BlobStore{
		bucket:       client.Bucket(name),
		name:         name,
		cacheControl: cc,
		metadata:     maps.Clone(cfg.Metadata),
	}, nil
}

// URI returns the gs:// address of object in this store's bucket.
func (s *BlobStore) URI(object string) string {
	return "gs://" + s.name + "/" + object
}

// PutObject uploads data and returns its gs:// URI. A failed copy cancels the
// upload so no partial report replaces the previous object.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(path).NewWriter(uploadCtx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	if len(s.metadata) > 0 {
		w.Metadata = maps.Clone(s.metadata)
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", s.URI(path), err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", s.URI(path), err)
	}
	return s.URI(path), nil
}
