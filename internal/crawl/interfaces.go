package crawl

import (
	"context"
	"io"
	"time"
)

// JobStore persists crawl job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// FrontierStore persists CrawlURL entries for a job and hands them out to
// workers. Claim must atomically transition up to limit entries from pending
// (or retrying) to in_progress so that two workers never hold the same URL.
type FrontierStore interface {
	Add(ctx context.Context, entries []CrawlURL) (int, error)
	Claim(ctx context.Context, jobID string, limit int) ([]CrawlURL, error)
	Resolve(ctx context.Context, jobID, url string, status URLStatus, kind ErrorKind, attemptAt time.Time) error
	PendingCount(ctx context.Context, jobID string) (int, error)
	List(ctx context.Context, jobID string) ([]CrawlURL, error)
}

// PageStore persists page snapshots. RecordPage returns the stored page and
// whether a new snapshot was written; an unchanged content hash must not
// create a duplicate.
type PageStore interface {
	RecordPage(ctx context.Context, page Page) (Page, bool, error)
	GetPageByURL(ctx context.Context, url string) (Page, error)
}

// BlobStore archives raw fetched documents. PutObject stores the content
// under path and returns a URI for retrieval.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error)
}

// Fetcher performs one rate-limited, retried GET per URL. The returned error
// is non-nil only for conditions outside the fetch taxonomy (e.g. context
// cancellation); fetch failures come back as a FetchResult.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and page IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue hands submitted jobs to crawl runners. Enqueue blocks when the
// queue is full until the context ends.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}
