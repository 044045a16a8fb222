// Package postgres provides the Postgres-backed Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkhorn/webharvest/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the slice of pgxpool.Pool the store uses; pgxmock satisfies it too.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists jobs, websites, and snapshots in Postgres.
type Store struct {
	pool pool
	ids  crawl.IDGenerator
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config, ids crawl.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, ids: ids}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, ids crawl.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) CreateJob(ctx context.Context, job crawl.Job) error {
	const query = `
INSERT INTO jobs (
	id, session_id, config, status, current_depth,
	total_urls, scraped, failed, skipped, error_text, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.SessionID,
		configJSON,
		string(job.Status),
		job.CurrentDepth,
		job.Counters.Total,
		job.Counters.Scraped,
		job.Counters.Failed,
		job.Counters.Skipped,
		job.ErrorText,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	const query = `
SELECT id, session_id, config, status, current_depth,
	total_urls, scraped, failed, skipped, error_text,
	created_at, started_at, completed_at
FROM jobs WHERE id = $1`
	var (
		job        crawl.Job
		configJSON []byte
		status     string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.SessionID,
		&configJSON,
		&status,
		&job.CurrentDepth,
		&job.Counters.Total,
		&job.Counters.Scraped,
		&job.Counters.Failed,
		&job.Counters.Skipped,
		&job.ErrorText,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.Job{}, fmt.Errorf("job %s: %w", jobID, crawl.ErrNotFound)
	}
	if err != nil {
		return crawl.Job{}, fmt.Errorf("select job: %w", err)
	}
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return crawl.Job{}, fmt.Errorf("unmarshal job config: %w", err)
	}
	job.Status = crawl.JobStatus(status)
	return job, nil
}

func (s *Store) UpdateJob(ctx context.Context, jobID string, status crawl.JobStatus, errText string, counters crawl.Counters, currentDepth int) error {
	const query = `
UPDATE jobs SET
	status = $2,
	error_text = $3,
	total_urls = $4,
	scraped = $5,
	failed = $6,
	skipped = $7,
	current_depth = $8,
	started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
	completed_at = CASE WHEN $2 IN ('completed','failed','cancelled') AND completed_at IS NULL THEN now() ELSE completed_at END
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		counters.Total,
		counters.Scraped,
		counters.Failed,
		counters.Skipped,
		currentDepth,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawl.ErrNotFound)
	}
	return nil
}

func (s *Store) UpsertWebsite(ctx context.Context, canonicalURL, domain string) (crawl.Website, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawl.Website{}, fmt.Errorf("generate website id: %w", err)
	}
	// The no-op update makes the upsert return the existing row.
	const query = `
INSERT INTO websites (id, canonical_url, domain, scrape_count)
VALUES ($1,$2,$3,0)
ON CONFLICT (canonical_url) DO UPDATE SET domain = websites.domain
RETURNING id, canonical_url, domain, last_scraped_at, scrape_count`
	var site crawl.Website
	err = s.pool.QueryRow(ctx, query, id, canonicalURL, domain).Scan(
		&site.ID,
		&site.CanonicalURL,
		&site.Domain,
		&site.LastScrapedAt,
		&site.ScrapeCount,
	)
	if err != nil {
		return crawl.Website{}, fmt.Errorf("upsert website: %w", err)
	}
	return site, nil
}

func (s *Store) RecordWebsiteVisit(ctx context.Context, websiteID string, at time.Time) error {
	const query = `
UPDATE websites SET scrape_count = scrape_count + 1, last_scraped_at = $2
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, websiteID, at)
	if err != nil {
		return fmt.Errorf("record website visit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("website %s: %w", websiteID, crawl.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateWebsiteRobots(ctx context.Context, websiteID string, robots crawl.RobotsRecord) error {
	const query = `
UPDATE websites SET
	robots_body = $2,
	robots_crawl_delay_ms = $3,
	robots_fetched_at = $4,
	robots_expires_at = $5
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		websiteID,
		robots.Body,
		robots.CrawlDelay.Milliseconds(),
		robots.FetchedAt,
		robots.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("update website robots: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("website %s: %w", websiteID, crawl.ErrNotFound)
	}
	return nil
}

func (s *Store) InsertSnapshot(ctx context.Context, snap crawl.ContentSnapshot) error {
	const query = `
INSERT INTO content_snapshots (
	id, website_id, job_id, fetched_at, depth, outcome,
	text, language, word_count, error_text,
	fetch_duration_ms, content_hash, blob_uri
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := s.pool.Exec(ctx, query,
		snap.ID,
		snap.WebsiteID,
		snap.JobID,
		snap.FetchedAt,
		snap.Depth,
		string(snap.Outcome),
		snap.Text,
		snap.Language,
		snap.WordCount,
		snap.ErrorText,
		snap.FetchDuration.Milliseconds(),
		snap.ContentHash,
		snap.BlobURI,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) SnapshotsByJob(ctx context.Context, jobID string) ([]crawl.ContentSnapshot, error) {
	return s.selectSnapshots(ctx, "job_id", jobID)
}

func (s *Store) SnapshotsByWebsite(ctx context.Context, websiteID string) ([]crawl.ContentSnapshot, error) {
	return s.selectSnapshots(ctx, "website_id", websiteID)
}

func (s *Store) selectSnapshots(ctx context.Context, column, value string) ([]crawl.ContentSnapshot, error) {
	query := fmt.Sprintf(`
SELECT id, website_id, job_id, fetched_at, depth, outcome,
	text, language, word_count, error_text,
	fetch_duration_ms, content_hash, blob_uri
FROM content_snapshots WHERE %s = $1
ORDER BY fetched_at, id`, column)
	rows, err := s.pool.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer rows.Close()

	var out []crawl.ContentSnapshot
	for rows.Next() {
		var (
			snap    crawl.ContentSnapshot
			outcome string
			durMS   int64
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.WebsiteID,
			&snap.JobID,
			&snap.FetchedAt,
			&snap.Depth,
			&outcome,
			&snap.Text,
			&snap.Language,
			&snap.WordCount,
			&snap.ErrorText,
			&durMS,
			&snap.ContentHash,
			&snap.BlobURI,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Outcome = crawl.Outcome(outcome)
		snap.FetchDuration = time.Duration(durMS) * time.Millisecond
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
