package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/inkhorn/webharvest/internal/config"
	"github.com/inkhorn/webharvest/internal/crawl"
	"github.com/inkhorn/webharvest/internal/dispatcher"
	queuememory "github.com/inkhorn/webharvest/internal/queue/memory"
	storememory "github.com/inkhorn/webharvest/internal/store/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

type noopRunner struct{}

func (noopRunner) Run(context.Context, crawl.Job, *crawl.CancelFlag) {}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, TimeoutSeconds: 60},
		Crawler: config.CrawlerConfig{
			Concurrency:     1,
			WorkersDefault:  2,
			MaxDepthDefault: 2,
			DelayMinMs:      10,
			DelayMaxMs:      20,
		},
		HTTP: config.HTTPConfig{TimeoutSeconds: 15, MaxRetries: 2},
	}
}

type testServer struct {
	server  *Server
	store   *storememory.Store
	manager *crawl.Manager
	queue   *queuememory.Queue
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	ids := &seqIDs{}
	clock := frozenClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storememory.New(ids, clock)
	manager := crawl.NewManager()
	q := queuememory.NewQueue(8)
	disp := dispatcher.New(q, noopRunner{}, manager, 1, nil)
	srv := NewServer(store, disp, manager, ids, clock, cfg, prometheus.NewRegistry(), nil)
	return &testServer{server: srv, store: store, manager: manager, queue: q}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitJobAcceptsAndEnqueues(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"session_id": "sess-1",
		"seeds": []map[string]string{
			{"url": "https://example.com/", "snippet": "known text"},
		},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	jobID, ok := body["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)
	require.Equal(t, string(crawl.JobStatusPending), body["status"])

	// The job row exists with defaults from process config applied.
	job, err := ts.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, "sess-1", job.SessionID)
	require.Equal(t, 2, job.Config.MaxDepth)
	require.Equal(t, crawl.PolicySameDomain, job.Config.Policy.Kind)
	require.Equal(t, 10*time.Millisecond, job.Config.DelayMin)
	require.Equal(t, 15*time.Second, job.Config.FetchTimeout)
	require.Equal(t, "known text", job.Config.Seeds[0].Snippet)

	// The job waits in the queue with its cancel flag registered.
	item, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, item.Job.ID)
	_, registered := ts.manager.Flag(jobID)
	require.True(t, registered)
}

func TestSubmitJobOverridesDefaults(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"seeds":        []map[string]string{{"url": "https://example.edu/"}},
		"max_depth":    3,
		"policy_kind":  "allow_tld_list",
		"allow_tlds":   []string{"edu", "gov"},
		"delay_min_ms": 5,
		"delay_max_ms": 9,
		"max_retries":  0,
		"workers":      8,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobID := decodeBody(t, rec)["job_id"].(string)
	job, err := ts.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, 3, job.Config.MaxDepth)
	require.Equal(t, crawl.PolicyAllowTLDList, job.Config.Policy.Kind)
	require.Equal(t, []string{"edu", "gov"}, job.Config.Policy.AllowTLDs)
	require.Equal(t, 5*time.Millisecond, job.Config.DelayMin)
	require.Equal(t, 9*time.Millisecond, job.Config.DelayMax)
	require.Zero(t, job.Config.MaxRetries)
	require.Equal(t, 8, job.Config.Workers)
}

func TestSubmitJobValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())

	cases := []struct {
		name string
		body any
	}{
		{"no seeds", map[string]any{"seeds": []map[string]string{}}},
		{"empty seed url", map[string]any{"seeds": []map[string]string{{"url": ""}}}},
		{"depth too deep", map[string]any{
			"seeds":     []map[string]string{{"url": "https://example.com/"}},
			"max_depth": 5,
		}},
		{"tld policy without tlds", map[string]any{
			"seeds":       []map[string]string{{"url": "https://example.com/"}},
			"policy_kind": "allow_tld_list",
		}},
		{"unknown policy", map[string]any{
			"seeds":       []map[string]string{{"url": "https://example.com/"}},
			"policy_kind": "everything",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/jobs", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, decodeBody(t, rec), "error")
		})
	}
}

func TestSubmitJobRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.CreateJob(context.Background(), crawl.Job{
		ID:     "job-1",
		Status: crawl.JobStatusProcessing,
		Counters: crawl.Counters{
			Total: 10, Scraped: 4, Failed: 1, Skipped: 2,
		},
	}))

	rec := ts.do(t, http.MethodGet, "/v1/jobs/job-1/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	job := body["job"].(map[string]any)
	require.Equal(t, "processing", job["status"])

	rec = ts.do(t, http.MethodGet, "/v1/jobs/missing/status", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobStatistics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ctx := context.Background()
	require.NoError(t, ts.store.CreateJob(ctx, crawl.Job{
		ID:       "job-1",
		Status:   crawl.JobStatusCompleted,
		Counters: crawl.Counters{Total: 2, Scraped: 1, Failed: 1},
	}))

	site, err := ts.store.UpsertWebsite(ctx, "https://example.com/", "example.com")
	require.NoError(t, err)
	require.NoError(t, ts.store.InsertSnapshot(ctx, crawl.ContentSnapshot{
		ID: "s1", WebsiteID: site.ID, JobID: "job-1",
		Outcome: crawl.OutcomeSuccess, Language: "eng", WordCount: 50,
		FetchDuration: 100 * time.Millisecond,
	}))
	require.NoError(t, ts.store.InsertSnapshot(ctx, crawl.ContentSnapshot{
		ID: "s2", WebsiteID: site.ID, JobID: "job-1",
		Outcome: crawl.OutcomeFailed, FetchDuration: 50 * time.Millisecond,
	}))

	rec := ts.do(t, http.MethodGet, "/v1/jobs/job-1/statistics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	stats := body["statistics"].(map[string]any)
	require.InDelta(t, 0.5, stats["success_rate"].(float64), 1e-9)
	require.EqualValues(t, 50, stats["total_words"])

	rec = ts.do(t, http.MethodGet, "/v1/jobs/missing/statistics", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobSnapshots(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ctx := context.Background()
	require.NoError(t, ts.store.CreateJob(ctx, crawl.Job{ID: "job-1", Status: crawl.JobStatusCompleted}))
	site, err := ts.store.UpsertWebsite(ctx, "https://example.com/", "example.com")
	require.NoError(t, err)
	require.NoError(t, ts.store.InsertSnapshot(ctx, crawl.ContentSnapshot{
		ID: "s1", WebsiteID: site.ID, JobID: "job-1", Outcome: crawl.OutcomeSuccess,
	}))

	rec := ts.do(t, http.MethodGet, "/v1/jobs/job-1/snapshots", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	snaps := body["snapshots"].([]any)
	require.Len(t, snaps, 1)
}

func TestCancelTerminalJobIsNoOp(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.CreateJob(context.Background(), crawl.Job{
		ID: "job-1", Status: crawl.JobStatusCompleted,
	}))

	rec := ts.do(t, http.MethodPost, "/v1/jobs/job-1/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", decodeBody(t, rec)["status"])
}

func TestCancelPendingJobTransitionsDirectly(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.CreateJob(context.Background(), crawl.Job{
		ID: "job-1", Status: crawl.JobStatusPending,
	}))
	flag := ts.manager.Register("job-1")

	rec := ts.do(t, http.MethodPost, "/v1/jobs/job-1/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", decodeBody(t, rec)["status"])
	require.True(t, flag.Requested())

	job, err := ts.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCancelled, job.Status)
}

func TestCancelProcessingJobLatchesFlag(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.CreateJob(context.Background(), crawl.Job{
		ID: "job-1", Status: crawl.JobStatusProcessing,
	}))
	flag := ts.manager.Register("job-1")

	rec := ts.do(t, http.MethodPost, "/v1/jobs/job-1/cancel", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "processing", body["status"])
	require.True(t, flag.Requested())

	// The status transition happens when the job winds down, not here.
	job, err := ts.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusProcessing, job.Status)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(t, http.MethodPost, "/v1/jobs/missing/cancel", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	ts := newTestServer(t, cfg)

	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/healthz", nil, map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/healthz", nil, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}
