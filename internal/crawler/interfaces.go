package crawler

import (
	"context"
	"time"
)

// JobStore persists job rows. Implementations must make Claim a conditional
// update that only succeeds while the job is still pending.
type JobStore interface {
	Insert(ctx context.Context, job Job) error
	Claim(ctx context.Context, jobID string, startedAt time.Time) (Job, error)
	OldestPending(ctx context.Context) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Job, error)
	FindActiveByGroupingKey(ctx context.Context, groupingKey string) (Job, error)
	ListRunning(ctx context.Context) ([]Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	Complete(ctx context.Context, jobID string, completedAt time.Time) error
	Fail(ctx context.Context, jobID string, message string, completedAt time.Time) error
}

// CrawlRunner crawls one site and returns pages in discovery order.
type CrawlRunner interface {
	Run(ctx context.Context, request CrawlRequest) ([]PageRecord, CrawlStats, error)
}

// ResultSink persists the final graph for a grouping key.
type ResultSink interface {
	Persist(ctx context.Context, groupingKey string, graph Graph, counts ResultCounts) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job lifecycle events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ProgressFunc records a progress checkpoint for the job it was created for.
type ProgressFunc func(ctx context.Context, progress int) error
