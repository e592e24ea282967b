package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns the outcome of the attempt. Transport
// errors are returned so callers can classify and decide on fallbacks.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchOutcome, error)
}

// PageStore is the persistence collaborator for fetch records and the cached
// page lookup used by cache-first visits.
type PageStore interface {
	UpsertFetchRecord(ctx context.Context, record PageRecord) error
	LoadCachedPage(ctx context.Context, rawURL string) (*FetchOutcome, error)
}

// PageCache is a PageStore that also keeps full outcomes, body included,
// so cache-seeded visits can replay pages without network access.
type PageCache interface {
	PageStore
	Store(ctx context.Context, outcome FetchOutcome) error
}

// BlobStore archives raw page bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes terminal outcome notifications to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swap for a fake in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
