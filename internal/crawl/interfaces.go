package crawl

import (
	"context"
	"time"
)

// Store persists jobs, websites, and content snapshots.
type Store interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJob(ctx context.Context, jobID string, status JobStatus, errText string, counters Counters, currentDepth int) error

	// UpsertWebsite returns the single Website row for the canonical URL,
	// creating it on first sight.
	UpsertWebsite(ctx context.Context, canonicalURL, domain string) (Website, error)
	// RecordWebsiteVisit bumps scrape_count and last_scraped_at for every
	// attempt that reached the network.
	RecordWebsiteVisit(ctx context.Context, websiteID string, at time.Time) error
	UpdateWebsiteRobots(ctx context.Context, websiteID string, robots RobotsRecord) error

	InsertSnapshot(ctx context.Context, snap ContentSnapshot) error
	SnapshotsByJob(ctx context.Context, jobID string) ([]ContentSnapshot, error)
	SnapshotsByWebsite(ctx context.Context, websiteID string) ([]ContentSnapshot, error)
}

// FetchRequest is one network attempt for a canonical URL.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
}

// FetchResult is the raw result of a single fetch attempt.
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher performs exactly one fetch attempt; retry and fallback logic live
// above it in the Engine.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// RobotsPolicy answers path-level allow checks and exposes the declared
// crawl-delay for a host.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) (allowed bool, crawlDelay time.Duration)
	// Record returns the cached policy for a host, when one exists, so it
	// can be persisted onto the Website row.
	Record(host string) (RobotsRecord, bool)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and snapshot IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes terminal-job events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw page bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes content digests for snapshot integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
