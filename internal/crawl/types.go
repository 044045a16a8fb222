package crawl

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final one.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// PolicyKind selects one of the three supported domain admission policies.
type PolicyKind string

// Supported domain policy variants. The set is closed.
const (
	PolicySameDomain   PolicyKind = "same_domain"
	PolicyAllowTLDList PolicyKind = "allow_tld_list"
	PolicyExcludeList  PolicyKind = "exclude_list"
)

// Seed is one depth-1 frontier input supplied by the search stage. Snippet
// carries previously known short text used as fallback content when the full
// page cannot be fetched.
type Seed struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// PolicyConfig captures the domain policy variant and its parameters.
type PolicyConfig struct {
	Kind           PolicyKind `json:"kind"`
	AllowTLDs      []string   `json:"allow_tlds,omitempty"`
	ExcludeDomains []string   `json:"exclude_domains,omitempty"`
}

// JobConfig is the per-job configuration requested by the client.
type JobConfig struct {
	Seeds        []Seed        `json:"seeds"`
	MaxDepth     int           `json:"max_depth"`
	Policy       PolicyConfig  `json:"policy"`
	DelayMin     time.Duration `json:"delay_min"`
	DelayMax     time.Duration `json:"delay_max"`
	MaxRetries   int           `json:"max_retries"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
	Workers      int           `json:"workers"`
}

// Counters tracks per-job URL accounting. The invariant
// Scraped+Failed+Skipped <= Total holds at every instant; equality holds when
// a non-cancelled job reaches a terminal status. Counters is always mutated
// as a whole under a single lock, never per field.
type Counters struct {
	Total   int `json:"total_urls"`
	Scraped int `json:"scraped"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Job represents one crawl run.
type Job struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id,omitempty"`
	Config       JobConfig  `json:"config"`
	Status       JobStatus  `json:"status"`
	CurrentDepth int        `json:"current_depth"`
	Counters     Counters   `json:"counters"`
	ErrorText    string     `json:"error_text,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RobotsRecord is the cached robots.txt policy for a website's host.
type RobotsRecord struct {
	Body       string        `json:"body"`
	CrawlDelay time.Duration `json:"crawl_delay"`
	FetchedAt  time.Time     `json:"fetched_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// Expired reports whether the cached policy should be refreshed.
func (r RobotsRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Website is the canonical identity for a URL, deduplicated across jobs and
// time. Exactly one row exists per canonical URL.
type Website struct {
	ID            string        `json:"id"`
	CanonicalURL  string        `json:"canonical_url"`
	Domain        string        `json:"domain"`
	Robots        *RobotsRecord `json:"robots,omitempty"`
	LastScrapedAt *time.Time    `json:"last_scraped_at,omitempty"`
	ScrapeCount   int           `json:"scrape_count"`
}

// Outcome classifies the terminal result of one fetch attempt chain.
type Outcome string

// Snapshot outcomes.
const (
	OutcomeSuccess         Outcome = "success"
	OutcomeSuccessFallback Outcome = "success_fallback"
	OutcomeFailed          Outcome = "failed"
	OutcomeSkipped         Outcome = "skipped"
)

// Usable reports whether the snapshot carries content downstream consumers
// can read.
func (o Outcome) Usable() bool {
	return o == OutcomeSuccess || o == OutcomeSuccessFallback
}

// ContentSnapshot records the outcome of one fetch attempt, versioned per
// (Website, Job, time). Snapshots are immutable once written.
type ContentSnapshot struct {
	ID            string        `json:"id"`
	WebsiteID     string        `json:"website_id"`
	JobID         string        `json:"job_id"`
	FetchedAt     time.Time     `json:"fetched_at"`
	Depth         int           `json:"depth"`
	Outcome       Outcome       `json:"outcome"`
	Text          string        `json:"text,omitempty"`
	Language      string        `json:"language,omitempty"`
	WordCount     int           `json:"word_count"`
	ErrorText     string        `json:"error_text,omitempty"`
	FetchDuration time.Duration `json:"fetch_duration"`
	ContentHash   string        `json:"content_hash,omitempty"`
	BlobURI       string        `json:"blob_uri,omitempty"`
}

// Entry is a frontier entry: an admitted, deduplicated URL awaiting fetch.
// Entries are transient; they are never persisted beyond job completion.
type Entry struct {
	// URL is the canonical form produced at admission.
	URL string
	// Domain is the URL's lowercased host.
	Domain string
	// Depth is the discovery depth, seeds being depth 1.
	Depth int
	// Lineage is the registrable domain of the depth-1 ancestor; the
	// same_domain policy compares discovered links against it.
	Lineage string
	// Snippet is fallback content, populated for seed entries only.
	Snippet string
}

// Statistics are the read-side aggregate metrics derived from a job's
// snapshots.
type Statistics struct {
	SuccessRate         float64        `json:"success_rate"`
	AverageFetchTime    time.Duration  `json:"average_fetch_time"`
	ContentByLanguage   map[string]int `json:"content_by_language"`
	TotalWords          int            `json:"total_words"`
	AverageWordsPerPage float64        `json:"average_words_per_page"`
}
