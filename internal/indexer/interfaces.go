package indexer

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a plain HTTP GET for a sitemap document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Resolver expands a sitemap tree into its set of leaf URLs.
type Resolver interface {
	Resolve(ctx context.Context, rootURL string) ([]string, error)
}

// Submitter notifies the external indexing endpoint about a URL.
type Submitter interface {
	// Submit reports true only when the endpoint accepted the notification.
	Submit(ctx context.Context, pageURL string) bool
	// Ready reports whether usable credentials are available.
	Ready(ctx context.Context) error
}

// URLRepository is the persisted state the workflow reads and writes.
type URLRepository interface {
	ListSites(ctx context.Context) ([]Site, error)
	UpsertURL(ctx context.Context, siteID int64, rawURL string) error
	SelectEligible(ctx context.Context, cooldown time.Duration, limit int) ([]URL, error)
	MarkSubmitted(ctx context.Context, urlID int64, ts time.Time) error
}

// Catalog extends URLRepository with the registration and listing surface.
type Catalog interface {
	URLRepository
	AddSite(ctx context.Context, name, sitemapURL string) (Site, error)
	// TouchSite sets a site's UpdatedAt so the next run re-crawls it.
	TouchSite(ctx context.Context, siteID int64, at time.Time) error
	ListURLs(ctx context.Context, filter URLFilter) ([]URL, error)
}

// Queue buffers runs waiting for a worker.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// BlobStore persists raw documents.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher emits run notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
