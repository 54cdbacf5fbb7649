package screenshot

import (
	"context"
	"io"
	"time"
)

// Backend launches browser sessions. Each worker owns exactly one Session.
type Backend interface {
	Launch(ctx context.Context) (Session, error)
}

// Session captures pages sequentially with a single browser process.
type Session interface {
	// Capture renders url in an isolated browsing context and returns a
	// full-page image. The context is always disposed before returning.
	Capture(ctx context.Context, url string) (Capture, error)
	Close() error
}

// Queue holds pending jobs for one pass.
type Queue interface {
	Enqueue(job Job) error
	// Dequeue returns ok=false when nothing arrived within timeout.
	Dequeue(ctx context.Context, timeout time.Duration) (job Job, ok bool, err error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests of captured images.
type Hasher interface {
	Hash(data []byte) (string, error)
}
