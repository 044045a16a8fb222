package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const robotsMaxBodyBytes = 1 << 20

// RobotsEnforcer enforces robots.txt directives per host, caching parsed
// policies with an expiry so they are periodically refreshed. The cache is
// shared across jobs and safe for concurrent workers.
type RobotsEnforcer struct {
	client    *http.Client
	ttl       time.Duration
	userAgent string
	clock     Clock
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*robotsEntry
}

type robotsEntry struct {
	data   *robotstxt.RobotsData
	record RobotsRecord
}

// NewRobotsEnforcer builds an enforcer. When respect is false a permissive
// policy is returned instead.
func NewRobotsEnforcer(respect bool, userAgent string, ttl time.Duration, clock Clock, logger *zap.Logger) RobotsPolicy {
	if !respect {
		return allowAllRobots{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RobotsEnforcer{
		client:    &http.Client{Timeout: 10 * time.Second},
		ttl:       ttl,
		userAgent: userAgent,
		clock:     clock,
		logger:    logger,
		cache:     make(map[string]*robotsEntry),
	}
}

// Allowed reports whether the URL's path may be fetched and the crawl-delay
// the host declares for our user agent (zero when none).
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) (bool, time.Duration) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, 0
	}
	entry := r.load(ctx, parsed)
	if entry == nil || entry.data == nil {
		// Unreachable robots.txt never blocks the crawl.
		return true, 0
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return true, 0
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path), group.CrawlDelay
}

// Record returns the cached policy for a host so callers can persist it onto
// the Website row. ok is false when the host has never been looked up.
func (r *RobotsEnforcer) Record(host string) (RobotsRecord, bool) {
	key := strings.ToLower(host)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return RobotsRecord{}, false
	}
	return entry.record, true
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) *robotsEntry {
	key := strings.ToLower(parsed.Host)
	now := r.clock.Now()

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && !entry.record.Expired(now) {
		return entry
	}

	entry, err := r.fetch(ctx, parsed, now)
	if err != nil {
		r.logger.Warn("robots fetch failed; treating host as allowed",
			zap.String("host", parsed.Host), zap.Error(err))
		entry = &robotsEntry{record: RobotsRecord{FetchedAt: now, ExpiresAt: now.Add(r.ttl)}}
	}

	r.mu.Lock()
	r.cache[key] = entry
	r.mu.Unlock()
	return entry
}

func (r *RobotsEnforcer) fetch(ctx context.Context, parsed *url.URL, now time.Time) (*robotsEntry, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	var crawlDelay time.Duration
	if group := data.FindGroup(r.userAgent); group != nil {
		crawlDelay = group.CrawlDelay
	}
	return &robotsEntry{
		data: data,
		record: RobotsRecord{
			Body:       string(body),
			CrawlDelay: crawlDelay,
			FetchedAt:  now,
			ExpiresAt:  now.Add(r.ttl),
		},
	}, nil
}

type allowAllRobots struct{}

func (allowAllRobots) Allowed(context.Context, string) (bool, time.Duration) { return true, 0 }

func (allowAllRobots) Record(string) (RobotsRecord, bool) { return RobotsRecord{}, false }
