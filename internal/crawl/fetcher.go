package crawl

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPFetcher performs single fetch attempts over net/http. Retry, backoff,
// and fallback decisions live in the Engine above it.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPFetcher builds a fetcher. maxBodyBytes caps how much of a response
// is read (default 5 MiB).
func NewHTTPFetcher(userAgent string, maxBodyBytes int64) *HTTPFetcher {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 5 << 20
	}
	return &HTTPFetcher{
		client:       &http.Client{},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch performs one attempt bounded by req.Timeout.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return FetchResult{Duration: time.Since(start)}, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	duration := time.Since(start)
	if err != nil {
		return FetchResult{Duration: duration}, fmt.Errorf("read body: %w", err)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return FetchResult{
		URL:         req.URL,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Duration:    duration,
	}, nil
}

// backoffPolicy produces jittered exponential delays between retries.
type backoffPolicy struct {
	base time.Duration
	max  time.Duration
}

func defaultBackoffPolicy() backoffPolicy {
	return backoffPolicy{base: 250 * time.Millisecond, max: 5 * time.Second}
}

// delay returns the wait before retry number attempt (0-based).
func (p backoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.base) * math.Pow(2, float64(attempt))
	if d > float64(p.max) {
		d = float64(p.max)
	}
	half := time.Duration(d / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// PageResult is the terminal per-URL outcome the engine hands back to the
// job controller. Exactly one result exists per frontier entry.
type PageResult struct {
	Outcome    Outcome
	StatusCode int
	Content    PageContent
	RawBody    []byte
	Duration   time.Duration
	Attempts   int
	Err        error
}

// Engine runs the fetch/classify/retry/fallback algorithm for one frontier
// entry: transient errors retry with exponential backoff up to the job's
// max_retries, block signatures get at most one retry before falling back to
// snippet content, parse errors get a single retry, and a fallback snippet
// turns any would-be failure into a degraded success.
type Engine struct {
	fetcher  Fetcher
	detector ChallengeDetector
	backoff  backoffPolicy
	logger   *zap.Logger
}

// NewEngine wires an Engine around a single-attempt Fetcher.
func NewEngine(fetcher Fetcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher: fetcher,
		backoff: defaultBackoffPolicy(),
		logger:  logger,
	}
}

// FetchPage drives one entry to a terminal outcome.
func (e *Engine) FetchPage(ctx context.Context, entry Entry, cfg JobConfig) PageResult {
	var (
		lastErr      error
		lastStatus   int
		totalElapsed time.Duration
		attempts     int
		blockedTried bool
		parseTried   bool
	)

	for attempt := 0; ; attempt++ {
		attempts++
		res, err := e.fetcher.Fetch(ctx, FetchRequest{URL: entry.URL, Timeout: cfg.FetchTimeout})
		totalElapsed += res.Duration
		lastStatus = res.StatusCode

		if err != nil {
			lastErr = &TransientError{Err: err}
			if ctx.Err() == nil && attempt < cfg.MaxRetries {
				if !e.pause(ctx, e.backoff.delay(attempt)) {
					break
				}
				continue
			}
			break
		}

		if blocked, reason := e.detector.Blocked(res.StatusCode, res.Body); blocked {
			lastErr = &BlockedError{StatusCode: res.StatusCode, Reason: reason}
			if !blockedTried {
				// Block signatures get one spaced retry, then fall back.
				blockedTried = true
				if e.pause(ctx, e.backoff.delay(attempt)) {
					continue
				}
			}
			break
		}

		if res.StatusCode >= 500 {
			lastErr = &TransientError{Err: fmt.Errorf("http %d", res.StatusCode)}
			if attempt < cfg.MaxRetries {
				if !e.pause(ctx, e.backoff.delay(attempt)) {
					break
				}
				continue
			}
			break
		}
		if res.StatusCode >= 400 {
			lastErr = fmt.Errorf("http %d", res.StatusCode)
			break
		}

		base, perr := url.Parse(res.FinalURL)
		if perr != nil {
			base, _ = url.Parse(entry.URL)
		}
		content, cerr := ExtractContent(base, res.Body)
		if cerr != nil {
			lastErr = cerr
			if !parseTried {
				parseTried = true
				continue
			}
			break
		}

		return PageResult{
			Outcome:    OutcomeSuccess,
			StatusCode: res.StatusCode,
			Content:    content,
			RawBody:    res.Body,
			Duration:   totalElapsed,
			Attempts:   attempts,
		}
	}

	if entry.Snippet != "" {
		text := normalizeWhitespace(entry.Snippet)
		e.logger.Debug("falling back to snippet content",
			zap.String("url", entry.URL), zap.Error(lastErr))
		return PageResult{
			Outcome:    OutcomeSuccessFallback,
			StatusCode: lastStatus,
			Content: PageContent{
				Text:      text,
				Language:  DetectLanguage(text),
				WordCount: CountWords(text),
			},
			Duration: totalElapsed,
			Attempts: attempts,
			Err:      lastErr,
		}
	}

	return PageResult{
		Outcome:    OutcomeFailed,
		StatusCode: lastStatus,
		Duration:   totalElapsed,
		Attempts:   attempts,
		Err:        lastErr,
	}
}

// pause sleeps for d, returning false when the context ended first.
func (e *Engine) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
