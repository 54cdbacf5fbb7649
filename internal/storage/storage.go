// Package storage resolves a report output location to a blob store.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JakeFAU/shotbatch/internal/screenshot"
	"github.com/JakeFAU/shotbatch/internal/storage/gcs"
	"github.com/JakeFAU/shotbatch/internal/storage/local"
	"github.com/JakeFAU/shotbatch/internal/storage/memory"
)

const (
	gcsScheme    = "gs://"
	memoryScheme = "memory://"
)

// Target is an opened output location.
type Target struct {
	Store screenshot.BlobStore
	// Object is the path to pass to Store.PutObject.
	Object string

	closeFn func() error
}

// Close releases clients held by the target.
func (t *Target) Close() error {
	if t == nil || t.closeFn == nil {
		return nil
	}
	return t.closeFn()
}

// Open resolves location. gs://bucket/object writes to Cloud Storage,
// memory://name keeps the artifact in process, and anything else is a local
// file path whose directory is created when missing. attrs become object
// metadata on Cloud Storage and are ignored elsewhere. opts are passed to the
// Cloud Storage client.
func Open(ctx context.Context, location string, attrs map[string]string, opts ...option.ClientOption) (*Target, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, fmt.Errorf("output location is required")
	case strings.HasPrefix(location, gcsScheme):
		return openGCS(ctx, strings.TrimPrefix(location, gcsScheme), attrs, opts)
	case strings.HasPrefix(location, memoryScheme):
		name := strings.TrimPrefix(location, memoryScheme)
		if name == "" {
			return nil, fmt.Errorf("memory output %q has no object name", location)
		}
		return &Target{Store: memory.NewBlobStore(), Object: name}, nil
	default:
		store, err := local.New(local.Config{BaseDir: filepath.Dir(location)})
		if err != nil {
			return nil, fmt.Errorf("open local output %s: %w", location, err)
		}
		return &Target{Store: store, Object: filepath.Base(location)}, nil
	}
}

func openGCS(ctx context.Context, rest string, attrs map[string]string, opts []option.ClientOption) (*Target, error) {
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return nil, fmt.Errorf("gcs output must look like gs://bucket/object, got %q", gcsScheme+rest)
	}
	client, err := gstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := gcs.New(client, gcs.Config{Bucket: bucket, Metadata: attrs})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Target{Store: store, Object: object, closeFn: client.Close}, nil
}
