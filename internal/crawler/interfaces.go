package crawler

import (
	"context"
	"io"
	"time"
)

// ProviderClient performs exactly one call against the scraping provider.
type ProviderClient interface {
	Fetch(ctx context.Context, request FetchRequest, tier Tier) (ProviderResponse, error)
}

// UsageRecorder accumulates provider usage.
type UsageRecorder interface {
	RecordAttempt(tier Tier, costCredits int)
	RecordOutcome(success bool)
	Snapshot() UsageStats
}

// JobStore persists batch jobs and their results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordResult(ctx context.Context, jobID string, result FetchResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListResults(ctx context.Context, jobID string) ([]FetchResult, error)
}

// BlobStore reads and writes raw artifacts by path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// AttemptStore persists one row per provider call.
type AttemptStore interface {
	StoreAttempt(ctx context.Context, record AttemptRecord) error
	Close()
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for batch jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter throttles outbound provider calls.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for request fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request and job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
