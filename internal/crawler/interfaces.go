package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher renders a URL and returns the hyperlink targets found on it, in document order.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]string, error)
}

// JobStore persists crawl jobs.
//
// ClaimAtomic must be mutually exclusive across concurrent callers: at most one
// caller ever observes a successful claim for a given job. It returns
// ErrNotClaimable when the job is missing or not in the submitted state.
type JobStore interface {
	Create(ctx context.Context, url string) (Job, error)
	ClaimAtomic(ctx context.Context, jobID string) (Job, error)
	Finalize(ctx context.Context, jobID string, result CrawlResult, status JobStatus) error
	List(ctx context.Context, filter ListFilter) ([]Job, error)
}

// Publisher pushes completion events to Pub/Sub, Kafka, or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResultArchive writes finalized result documents and returns a URI.
type ResultArchive interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
