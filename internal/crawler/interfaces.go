package crawler

import (
	"context"
	"io"
	"time"
)

// StreamFetcher issues a GET and hands back the unread body. Non-2xx
// statuses are returned as responses, not errors.
type StreamFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*StreamResponse, error)
}

// PageFetcher fetches an HTML page and returns its absolute anchor targets.
// HTTP error statuses are returned as *FetchError.
type PageFetcher interface {
	FetchLinks(ctx context.Context, req FetchRequest) (PageLinks, error)
}

// Limiter gates requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces resolution IDs.
type IDGenerator interface {
	NewID() (string, error)
}
