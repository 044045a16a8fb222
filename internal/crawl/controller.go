package crawl

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkhorn/webharvest/internal/progress"
)

// PageFetcher drives one frontier entry to a terminal outcome; Engine is the
// production implementation.
type PageFetcher interface {
	FetchPage(ctx context.Context, entry Entry, cfg JobConfig) PageResult
}

// ControllerConfig carries process-level defaults applied to jobs that do
// not specify their own.
type ControllerConfig struct {
	DefaultWorkers int
	// Topic is the publisher topic for terminal-job events; empty disables
	// publishing.
	Topic string
	// BlobPrefix is the path prefix for raw-page archives.
	BlobPrefix string
	// BlobContentType is the content type recorded for archived pages.
	BlobContentType string
}

// Controller owns the job lifecycle: it seeds the frontier, runs the worker
// pool, aggregates counters under a single lock, honors cooperative
// cancellation, and persists the final state. One Controller serves all
// jobs; per-job state lives in a jobRun.
type Controller struct {
	store      Store
	fetcher    PageFetcher
	robots     RobotsPolicy
	politeness *Politeness
	canon      *Canonicalizer
	ids        IDGenerator
	clock      Clock
	hasher     Hasher
	blobs      BlobStore
	publisher  Publisher
	emitter    progress.Emitter
	logger     *zap.Logger
	cfg        ControllerConfig
}

// NewController constructs a Controller. hasher, blobs, publisher, and
// emitter are optional.
func NewController(
	store Store,
	fetcher PageFetcher,
	robots RobotsPolicy,
	politeness *Politeness,
	canon *Canonicalizer,
	ids IDGenerator,
	clock Clock,
	hasher Hasher,
	blobs BlobStore,
	publisher Publisher,
	emitter progress.Emitter,
	cfg ControllerConfig,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if cfg.DefaultWorkers <= 0 {
		cfg.DefaultWorkers = 4
	}
	if cfg.BlobContentType == "" {
		cfg.BlobContentType = "text/html; charset=utf-8"
	}
	return &Controller{
		store:      store,
		fetcher:    fetcher,
		robots:     robots,
		politeness: politeness,
		canon:      canon,
		ids:        ids,
		clock:      clock,
		hasher:     hasher,
		blobs:      blobs,
		publisher:  publisher,
		emitter:    emitter,
		logger:     logger,
		cfg:        cfg,
	}
}

// ValidateJobConfig enforces the configuration limits a job must satisfy
// before processing starts.
func ValidateJobConfig(cfg JobConfig) error {
	if len(cfg.Seeds) == 0 {
		return fmt.Errorf("at least one seed URL is required")
	}
	if cfg.MaxDepth < 1 || cfg.MaxDepth > 3 {
		return fmt.Errorf("max_depth must be between 1 and 3, got %d", cfg.MaxDepth)
	}
	if cfg.DelayMin < 0 || cfg.DelayMax < cfg.DelayMin {
		return fmt.Errorf("politeness window [%s, %s] is invalid", cfg.DelayMin, cfg.DelayMax)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be > 0")
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if _, err := NewDomainPolicy(cfg.Policy); err != nil {
		return err
	}
	return nil
}

// Run processes one job to a terminal state. It blocks until the job
// completes, fails, or observes cancellation; in-flight fetches always finish
// and their results are recorded.
func (c *Controller) Run(ctx context.Context, job Job, cancel *CancelFlag) {
	logger := c.logger.With(zap.String("job_id", job.ID))

	if err := ValidateJobConfig(job.Config); err != nil {
		c.finish(ctx, job.ID, JobStatusFailed, (&FatalError{Err: err}).Error(), Counters{}, 0, time.Time{}, logger)
		return
	}
	if cancel.Requested() {
		c.finish(ctx, job.ID, JobStatusCancelled, "", Counters{}, 0, time.Time{}, logger)
		return
	}

	policy, _ := NewDomainPolicy(job.Config.Policy)
	workers := job.Config.Workers
	if workers <= 0 {
		workers = c.cfg.DefaultWorkers
	}

	started := c.clock.Now()
	if err := c.store.UpdateJob(ctx, job.ID, JobStatusProcessing, "", Counters{}, 1); err != nil {
		logger.Error("job start transition failed", zap.Error(err))
		c.finish(ctx, job.ID, JobStatusFailed, (&FatalError{Err: err}).Error(), Counters{}, 0, time.Time{}, logger)
		return
	}
	c.emitter.Emit(progress.Event{
		JobID: job.ID, TS: started, Stage: progress.StageJobStart, Depth: 1,
	})
	logger.Info("job started",
		zap.Int("seeds", len(job.Config.Seeds)),
		zap.Int("max_depth", job.Config.MaxDepth),
		zap.Int("workers", workers),
		zap.String("policy", string(job.Config.Policy.Kind)),
	)

	run := &jobRun{
		c:        c,
		job:      job,
		policy:   policy,
		frontier: newFrontier(job.Config.MaxDepth),
		dedup:    newDedupSet(),
		cancel:   cancel,
		logger:   logger,
		depth:    1,
	}
	for _, seed := range job.Config.Seeds {
		run.admit(seed.URL, seed.Snippet, 1, "")
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			run.work(ctx, index)
		}(i)
	}
	wg.Wait()

	status := JobStatusCompleted
	errText := ""
	switch {
	case run.fatal() != nil:
		status = JobStatusFailed
		errText = run.fatal().Error()
	case cancel.Requested() || ctx.Err() != nil:
		status = JobStatusCancelled
	}
	c.finish(ctx, job.ID, status, errText, run.counters(), run.currentDepth(), started, logger)
}

// finish persists the terminal state, emits the JOB_DONE event, and publishes
// the completion payload for downstream consumers.
func (c *Controller) finish(
	ctx context.Context,
	jobID string,
	status JobStatus,
	errText string,
	counters Counters,
	depth int,
	started time.Time,
	logger *zap.Logger,
) {
	// Terminal persistence must survive request-scoped cancellation.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancelPersist()

	if err := c.store.UpdateJob(persistCtx, jobID, status, errText, counters, depth); err != nil {
		logger.Error("terminal job transition failed",
			zap.String("status", string(status)), zap.Error(err))
	}

	now := c.clock.Now()
	var runtime time.Duration
	if !started.IsZero() {
		runtime = now.Sub(started)
	}
	c.emitter.Emit(progress.Event{
		JobID:  jobID,
		TS:     now,
		Stage:  progress.StageJobDone,
		Status: string(status),
		Dur:    runtime,
		Note:   errText,
	})
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("total", counters.Total),
		zap.Int("scraped", counters.Scraped),
		zap.Int("failed", counters.Failed),
		zap.Int("skipped", counters.Skipped),
		zap.Duration("runtime", runtime),
	)

	if c.publisher != nil && c.cfg.Topic != "" {
		payload := map[string]any{
			"job_id":       jobID,
			"status":       string(status),
			"total_urls":   counters.Total,
			"scraped":      counters.Scraped,
			"failed":       counters.Failed,
			"skipped":      counters.Skipped,
			"completed_at": now.Format(time.RFC3339),
		}
		if _, err := c.publisher.Publish(persistCtx, c.cfg.Topic, payload); err != nil {
			logger.Warn("completion publish failed", zap.Error(err))
		}
	}
}

// jobRun holds the mutable per-job crawl state shared by the worker pool.
type jobRun struct {
	c        *Controller
	job      Job
	policy   DomainPolicy
	frontier *frontier
	dedup    *dedupSet
	cancel   *CancelFlag
	logger   *zap.Logger

	mu     sync.Mutex
	cnt    Counters
	depth  int
	fatalE error
}

// work is one worker's loop: observe cancellation, pop, process, repeat.
func (r *jobRun) work(ctx context.Context, index int) {
	logger := r.logger.With(zap.Int("worker", index))
	for {
		if r.cancel.Requested() || ctx.Err() != nil {
			// Stop dequeuing; entries already popped by peers finish
			// normally and stay recorded.
			r.frontier.Close()
			return
		}
		entry, ok := r.frontier.Pop()
		if !ok {
			return
		}
		r.observeDepth(entry.Depth)
		r.process(ctx, entry, logger)
		r.frontier.Done()
		r.flush(ctx)
	}
}

// process drives a single frontier entry through robots, politeness, fetch,
// persistence, and link discovery.
func (r *jobRun) process(ctx context.Context, entry Entry, logger *zap.Logger) {
	allowed, crawlDelay := r.c.robots.Allowed(ctx, entry.URL)
	if !allowed {
		r.recordSkipped(ctx, entry, "disallowed by robots.txt", logger)
		return
	}

	window := DelayWindow{Min: r.job.Config.DelayMin, Max: r.job.Config.DelayMax}
	if err := r.c.politeness.Wait(ctx, entry.Domain, window, crawlDelay); err != nil {
		// Process shutdown while waiting; the entry was never attempted.
		return
	}

	result := r.c.fetcher.FetchPage(ctx, entry, r.job.Config)

	site, err := r.c.store.UpsertWebsite(ctx, entry.URL, entry.Domain)
	if err != nil {
		r.setFatal(fmt.Errorf("upsert website: %w", err))
		return
	}
	now := r.c.clock.Now()
	if err := r.c.store.RecordWebsiteVisit(ctx, site.ID, now); err != nil {
		r.setFatal(fmt.Errorf("record website visit: %w", err))
		return
	}
	if rec, ok := r.c.robots.Record(entry.Domain); ok {
		if err := r.c.store.UpdateWebsiteRobots(ctx, site.ID, rec); err != nil {
			logger.Warn("robots cache persist failed", zap.String("url", entry.URL), zap.Error(err))
		}
	}

	snap := ContentSnapshot{
		WebsiteID:     site.ID,
		JobID:         r.job.ID,
		FetchedAt:     now,
		Depth:         entry.Depth,
		Outcome:       result.Outcome,
		FetchDuration: result.Duration,
	}
	if result.Err != nil {
		snap.ErrorText = result.Err.Error()
	}
	if result.Outcome.Usable() {
		snap.Text = result.Content.Text
		snap.Language = result.Content.Language
		snap.WordCount = result.Content.WordCount
		r.archive(ctx, &snap, result, logger)
	}
	if err := r.insertSnapshot(ctx, snap); err != nil {
		r.setFatal(err)
		return
	}

	switch result.Outcome {
	case OutcomeFailed:
		r.mark(func(c *Counters) { c.Failed++ })
	default:
		r.mark(func(c *Counters) { c.Scraped++ })
	}

	if result.Outcome == OutcomeSuccess && entry.Depth+1 <= r.job.Config.MaxDepth {
		for _, link := range result.Content.Links {
			r.admit(link, "", entry.Depth+1, entry.Lineage)
		}
	}

	r.c.emitter.Emit(progress.Event{
		JobID:   r.job.ID,
		TS:      now,
		Stage:   progress.StageFetchDone,
		Domain:  entry.Domain,
		URL:     entry.URL,
		Depth:   entry.Depth,
		Outcome: string(result.Outcome),
		Words:   snap.WordCount,
		Dur:     result.Duration,
		Note:    snap.ErrorText,
	})
	logger.Debug("entry processed",
		zap.String("url", entry.URL),
		zap.Int("depth", entry.Depth),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", result.Attempts),
	)
}

// admit runs the admission pipeline for a candidate URL: canonicalize,
// domain policy, job-scoped dedup. Rejections are counted as skipped and
// never enter the frontier.
func (r *jobRun) admit(rawURL, snippet string, depth int, lineage string) {
	canonical, err := r.c.canon.Canonicalize(rawURL)
	if err != nil {
		r.mark(func(c *Counters) { c.Total++; c.Skipped++ })
		return
	}
	parsed, err := url.Parse(canonical)
	if err != nil {
		r.mark(func(c *Counters) { c.Total++; c.Skipped++ })
		return
	}
	host := parsed.Hostname()
	if lineage == "" {
		lineage = RegistrableDomain(host)
	}
	if !r.policy.Admit(host, lineage) {
		r.mark(func(c *Counters) { c.Total++; c.Skipped++ })
		return
	}
	if !r.dedup.MarkIfNew(canonical) {
		r.mark(func(c *Counters) { c.Total++; c.Skipped++ })
		return
	}
	entry := Entry{
		URL:     canonical,
		Domain:  host,
		Depth:   depth,
		Lineage: lineage,
		Snippet: snippet,
	}
	if !r.frontier.Push(entry) {
		return
	}
	r.mark(func(c *Counters) { c.Total++ })
}

// recordSkipped writes the lightweight audit snapshot for a robots-disallowed
// entry; no network fetch happened, so the Website visit counters stay put.
func (r *jobRun) recordSkipped(ctx context.Context, entry Entry, reason string, logger *zap.Logger) {
	site, err := r.c.store.UpsertWebsite(ctx, entry.URL, entry.Domain)
	if err != nil {
		r.setFatal(fmt.Errorf("upsert website: %w", err))
		return
	}
	now := r.c.clock.Now()
	snap := ContentSnapshot{
		WebsiteID: site.ID,
		JobID:     r.job.ID,
		FetchedAt: now,
		Depth:     entry.Depth,
		Outcome:   OutcomeSkipped,
		ErrorText: (&PolicyError{Reason: reason}).Error(),
	}
	if err := r.insertSnapshot(ctx, snap); err != nil {
		r.setFatal(err)
		return
	}
	r.mark(func(c *Counters) { c.Skipped++ })
	r.c.emitter.Emit(progress.Event{
		JobID:   r.job.ID,
		TS:      now,
		Stage:   progress.StageFetchDone,
		Domain:  entry.Domain,
		URL:     entry.URL,
		Depth:   entry.Depth,
		Outcome: string(OutcomeSkipped),
		Note:    reason,
	})
	logger.Debug("entry skipped", zap.String("url", entry.URL), zap.String("reason", reason))
}

// archive hashes the raw page and writes it to the blob store when one is
// configured.
func (r *jobRun) archive(ctx context.Context, snap *ContentSnapshot, result PageResult, logger *zap.Logger) {
	if r.c.hasher == nil || len(result.RawBody) == 0 {
		return
	}
	hash, err := r.c.hasher.Hash(result.RawBody)
	if err != nil {
		logger.Warn("content hash failed", zap.Error(err))
		return
	}
	snap.ContentHash = hash
	if r.c.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.html", r.job.ID, hash)
	if prefix := r.c.cfg.BlobPrefix; prefix != "" {
		path = fmt.Sprintf("%s/%s", prefix, path)
	}
	uri, err := r.c.blobs.PutObject(ctx, path, r.c.cfg.BlobContentType, result.RawBody)
	if err != nil {
		logger.Warn("raw page archive failed", zap.Error(err))
		return
	}
	snap.BlobURI = uri
}

func (r *jobRun) insertSnapshot(ctx context.Context, snap ContentSnapshot) error {
	id, err := r.c.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate snapshot id: %w", err)
	}
	snap.ID = id
	if err := r.c.store.InsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// mark applies one counter mutation under the single job-wide lock so the
// composite invariant is never observed torn.
func (r *jobRun) mark(mutate func(*Counters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.cnt)
}

func (r *jobRun) counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cnt
}

func (r *jobRun) observeDepth(depth int) {
	r.mu.Lock()
	advanced := depth > r.depth
	if advanced {
		r.depth = depth
	}
	r.mu.Unlock()
	if advanced {
		r.c.emitter.Emit(progress.Event{
			JobID: r.job.ID,
			TS:    r.c.clock.Now(),
			Stage: progress.StageDepthAdvance,
			Depth: depth,
		})
	}
}

func (r *jobRun) currentDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth
}

func (r *jobRun) setFatal(err error) {
	r.mu.Lock()
	if r.fatalE == nil {
		r.fatalE = &FatalError{Err: err}
	}
	r.mu.Unlock()
	r.frontier.Close()
}

func (r *jobRun) fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalE
}

// flush persists live counters and depth so status queries see fresh numbers
// while the job is processing.
func (r *jobRun) flush(ctx context.Context) {
	if r.fatal() != nil || r.cancel.Requested() || ctx.Err() != nil {
		return
	}
	if err := r.c.store.UpdateJob(ctx, r.job.ID, JobStatusProcessing, "", r.counters(), r.currentDepth()); err != nil {
		r.logger.Warn("live counter flush failed", zap.Error(err))
	}
}
