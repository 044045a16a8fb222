// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inkhorn/webharvest/internal/config"
	"github.com/inkhorn/webharvest/internal/crawl"
	"github.com/inkhorn/webharvest/internal/dispatcher"
	"github.com/inkhorn/webharvest/internal/queue"
)

// Server wires HTTP handlers to the dispatcher and store.
type Server struct {
	router     chi.Router
	store      crawl.Store
	dispatcher *dispatcher.Dispatcher
	manager    *crawl.Manager
	idGen      crawl.IDGenerator
	clock      crawl.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. registry backs
// the /metrics endpoint.
func NewServer(
	store crawl.Store,
	disp *dispatcher.Dispatcher,
	manager *crawl.Manager,
	idGen crawl.IDGenerator,
	clock crawl.Clock,
	cfg config.Config,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		dispatcher: disp,
		manager:    manager,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/statistics", s.getJobStatistics)
				r.Get("/snapshots", s.getJobSnapshots)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Probe the store; memory backends always answer, postgres surfaces
	// connectivity trouble here.
	if _, err := s.store.GetJob(r.Context(), "readyz-probe"); err != nil && !errors.Is(err, crawl.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.toJobConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), req.SessionID, cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(crawl.JobStatusPending),
	})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobStatistics(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snaps, err := s.store.SnapshotsByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     jobID,
		"status":     job.Status,
		"counters":   job.Counters,
		"statistics": crawl.ComputeStatistics(job, snaps),
	})
}

func (s *Server) getJobSnapshots(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snaps, err := s.store.SnapshotsByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "snapshots": snaps})
}

// cancelJob requests cooperative cancellation. A running job latches its
// cancel flag and winds down; a job still pending in the queue is marked
// cancelled directly. Terminal jobs are left untouched.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(job.Status)})
		return
	}
	s.manager.Cancel(jobID)
	if job.Status == crawl.JobStatusPending {
		if err := s.store.UpdateJob(r.Context(), jobID, crawl.JobStatusCancelled, "", job.Counters, job.CurrentDepth); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to cancel job")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawl.JobStatusCancelled)})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(job.Status),
		"note":   "cancellation requested",
	})
}

func (s *Server) enqueueJob(ctx context.Context, sessionID string, cfg crawl.JobConfig) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := crawl.Job{
		ID:        jobID,
		SessionID: sessionID,
		Config:    cfg,
		Status:    crawl.JobStatusPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	s.manager.Register(jobID)
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, queue.Item{Job: job}); err != nil {
		s.manager.Release(jobID)
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

type seedRequest struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type jobRequest struct {
	SessionID           string        `json:"session_id"`
	Seeds               []seedRequest `json:"seeds"`
	MaxDepth            *int          `json:"max_depth"`
	PolicyKind          string        `json:"policy_kind"`
	AllowTLDs           []string      `json:"allow_tlds"`
	ExcludeDomains      []string      `json:"exclude_domains"`
	DelayMinMs          *int          `json:"delay_min_ms"`
	DelayMaxMs          *int          `json:"delay_max_ms"`
	MaxRetries          *int          `json:"max_retries"`
	FetchTimeoutSeconds *int          `json:"fetch_timeout_seconds"`
	Workers             *int          `json:"workers"`
}

func (s *Server) toJobConfig(req jobRequest) (crawl.JobConfig, error) {
	if len(req.Seeds) == 0 {
		return crawl.JobConfig{}, errors.New("seeds required")
	}
	seeds := make([]crawl.Seed, 0, len(req.Seeds))
	for _, seed := range req.Seeds {
		if seed.URL == "" {
			return crawl.JobConfig{}, errors.New("seed url must not be empty")
		}
		seeds = append(seeds, crawl.Seed{URL: seed.URL, Snippet: seed.Snippet})
	}
	kind := crawl.PolicyKind(req.PolicyKind)
	if req.PolicyKind == "" {
		kind = crawl.PolicySameDomain
	}
	delayMin, delayMax := s.cfg.DelayWindow()
	cfg := crawl.JobConfig{
		Seeds:    seeds,
		MaxDepth: valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		Policy: crawl.PolicyConfig{
			Kind:           kind,
			AllowTLDs:      req.AllowTLDs,
			ExcludeDomains: req.ExcludeDomains,
		},
		DelayMin:     durationOrDefault(req.DelayMinMs, time.Millisecond, delayMin),
		DelayMax:     durationOrDefault(req.DelayMaxMs, time.Millisecond, delayMax),
		MaxRetries:   valueOrDefault(req.MaxRetries, s.cfg.HTTP.MaxRetries),
		FetchTimeout: durationOrDefault(req.FetchTimeoutSeconds, time.Second, s.cfg.FetchTimeout()),
		Workers:      valueOrDefault(req.Workers, s.cfg.Crawler.WorkersDefault),
	}
	if err := crawl.ValidateJobConfig(cfg); err != nil {
		return crawl.JobConfig{}, err
	}
	return cfg, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func durationOrDefault(ptr *int, unit time.Duration, def time.Duration) time.Duration {
	if ptr == nil {
		return def
	}
	return time.Duration(*ptr) * unit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
