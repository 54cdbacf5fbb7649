package gcs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/shotbatch/internal/storage/gcs"
)

// newTestStore creates a BlobStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	return newTestStoreWithConfig(t, handler, gcs.Config{Bucket: "reports"})
}

func newTestStoreWithConfig(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	client, err := gstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = gcs.New(client, gcs.Config{})
	require.ErrorContains(t, err, "bucket")
	_, err = gcs.New(client, gcs.Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket")
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	payload := []byte("<html>report</html>")
	// This handler simulates the GCS JSON API for multipart uploads.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/reports/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "text/html")
		assert.Contains(t, string(body), `"cacheControl":"no-cache, max-age=0"`)
		assert.Contains(t, string(body), `"run_id":"run-1"`)

		fmt.Fprintln(w, `{"bucket":"reports","name":"runs/result.html"}`)
	})
	meta := map[string]string{"run_id": "run-1"}
	store := newTestStoreWithConfig(t, handler, gcs.Config{Bucket: "reports", Metadata: meta})
	meta["run_id"] = "mutated"

	uri, err := store.PutObject(context.Background(), "/runs/result.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://reports/runs/result.html", uri)
}

func TestPutObjectCustomCacheControl(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"cacheControl":"public, max-age=60"`)
		fmt.Fprintln(w, `{"bucket":"reports","name":"result.html"}`)
	})
	store := newTestStoreWithConfig(t, handler, gcs.Config{Bucket: "reports", CacheControl: "public, max-age=60"})

	_, err := store.PutObject(context.Background(), "result.html", "text/html", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestPutObjectReaderErrorAbortsUpload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "result.html", "text/html", failingReader{})
	require.ErrorContains(t, err, "upload gs://reports/result.html")
}

func TestURI(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	require.Equal(t, "gs://reports/a/b.html", store.URI("a/b.html"))
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "result.html", "text/html", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "", "text/html", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path is required")
}
