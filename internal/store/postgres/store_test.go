package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/inkhorn/webharvest/internal/crawl"
)

type fixedIDs struct{ id string }

func (g fixedIDs) NewID() (string, error) { return g.id, nil }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, fixedIDs{id: "gen-1"})
	require.NoError(t, err)
	return store, mock
}

func testJobConfig() crawl.JobConfig {
	return crawl.JobConfig{
		Seeds:        []crawl.Seed{{URL: "https://example.com/"}},
		MaxDepth:     2,
		Policy:       crawl.PolicyConfig{Kind: crawl.PolicySameDomain},
		DelayMin:     time.Second,
		DelayMax:     3 * time.Second,
		MaxRetries:   2,
		FetchTimeout: 15 * time.Second,
	}
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	cfg := testJobConfig()
	configJSON, err := json.Marshal(cfg)
	require.NoError(t, err)

	job := crawl.Job{
		ID:        "job-1",
		SessionID: "sess-9",
		Config:    cfg,
		Status:    crawl.JobStatusPending,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			job.ID,
			job.SessionID,
			configJSON,
			"pending",
			0,
			0, 0, 0, 0,
			"",
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobRoundTripsConfig(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Second)
	cfg := testJobConfig()
	configJSON, err := json.Marshal(cfg)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "session_id", "config", "status", "current_depth",
		"total_urls", "scraped", "failed", "skipped", "error_text",
		"created_at", "started_at", "completed_at",
	}).AddRow(
		"job-1", "sess-9", configJSON, "processing", 2,
		10, 6, 1, 3, "",
		now, &started, (*time.Time)(nil),
	)
	mock.ExpectQuery("FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusProcessing, job.Status)
	require.Equal(t, cfg, job.Config)
	require.Equal(t, crawl.Counters{Total: 10, Scraped: 6, Failed: 1, Skipped: 3}, job.Counters)
	require.Equal(t, 2, job.CurrentDepth)
	require.NotNil(t, job.StartedAt)
	require.Nil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobMapsZeroRowsToNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("missing", "completed", "", 5, 4, 1, 0, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJob(context.Background(), "missing", crawl.JobStatusCompleted, "",
		crawl.Counters{Total: 5, Scraped: 4, Failed: 1}, 2)
	require.ErrorIs(t, err, crawl.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobPersistsCounters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("job-1", "failed", "fatal job error: boom", 3, 1, 1, 1, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateJob(context.Background(), "job-1", crawl.JobStatusFailed, "fatal job error: boom",
		crawl.Counters{Total: 3, Scraped: 1, Failed: 1, Skipped: 1}, 2)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWebsiteReturnsExistingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	last := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "canonical_url", "domain", "last_scraped_at", "scrape_count",
	}).AddRow("site-7", "https://example.com/a", "example.com", &last, 4)
	mock.ExpectQuery("INSERT INTO websites").
		WithArgs("gen-1", "https://example.com/a", "example.com").
		WillReturnRows(rows)

	site, err := store.UpsertWebsite(context.Background(), "https://example.com/a", "example.com")
	require.NoError(t, err)
	// Conflict path: the returned row keeps its original ID, not gen-1.
	require.Equal(t, "site-7", site.ID)
	require.Equal(t, 4, site.ScrapeCount)
	require.NotNil(t, site.LastScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWebsiteVisit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE websites SET scrape_count").
		WithArgs("site-7", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordWebsiteVisit(context.Background(), "site-7", at))

	mock.ExpectExec("UPDATE websites SET scrape_count").
		WithArgs("missing", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.RecordWebsiteVisit(context.Background(), "missing", at), crawl.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWebsiteRobotsStoresDelayMillis(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetched := time.Unix(1700000000, 0).UTC()
	rec := crawl.RobotsRecord{
		Body:       "User-agent: *\nCrawl-delay: 2",
		CrawlDelay: 2 * time.Second,
		FetchedAt:  fetched,
		ExpiresAt:  fetched.Add(time.Hour),
	}

	mock.ExpectExec("UPDATE websites SET").
		WithArgs("site-7", rec.Body, int64(2000), rec.FetchedAt, rec.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateWebsiteRobots(context.Background(), "site-7", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetched := time.Unix(1700000000, 0).UTC()
	snap := crawl.ContentSnapshot{
		ID:            "snap-1",
		WebsiteID:     "site-7",
		JobID:         "job-1",
		FetchedAt:     fetched,
		Depth:         2,
		Outcome:       crawl.OutcomeSuccess,
		Text:          "article body",
		Language:      "eng",
		WordCount:     2,
		FetchDuration: 250 * time.Millisecond,
		ContentHash:   "abc123",
		BlobURI:       "gs://bucket/pages/job-1/abc123.html",
	}

	mock.ExpectExec("INSERT INTO content_snapshots").
		WithArgs(
			snap.ID, snap.WebsiteID, snap.JobID, snap.FetchedAt, snap.Depth, "success",
			snap.Text, snap.Language, snap.WordCount, "",
			int64(250), snap.ContentHash, snap.BlobURI,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertSnapshot(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotsByJobScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetched := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "website_id", "job_id", "fetched_at", "depth", "outcome",
		"text", "language", "word_count", "error_text",
		"fetch_duration_ms", "content_hash", "blob_uri",
	}).
		AddRow("s1", "site-1", "job-1", fetched, 1, "success",
			"first page", "eng", 2, "", int64(100), "h1", "gs://b/1").
		AddRow("s2", "site-2", "job-1", fetched.Add(time.Second), 2, "failed",
			"", "", 0, "transient fetch error: timeout", int64(0), "", "")
	mock.ExpectQuery("FROM content_snapshots WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(rows)

	snaps, err := store.SnapshotsByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, crawl.OutcomeSuccess, snaps[0].Outcome)
	require.Equal(t, 100*time.Millisecond, snaps[0].FetchDuration)
	require.Equal(t, crawl.OutcomeFailed, snaps[1].Outcome)
	require.Contains(t, snaps[1].ErrorText, "timeout")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotsByWebsiteFiltersColumn(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{
		"id", "website_id", "job_id", "fetched_at", "depth", "outcome",
		"text", "language", "word_count", "error_text",
		"fetch_duration_ms", "content_hash", "blob_uri",
	})
	mock.ExpectQuery("FROM content_snapshots WHERE website_id").
		WithArgs("site-1").
		WillReturnRows(rows)

	snaps, err := store.SnapshotsByWebsite(context.Background(), "site-1")
	require.NoError(t, err)
	require.Empty(t, snaps)
	require.NoError(t, mock.ExpectationsWereMet())
}
