package crawl

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a job or website does not exist.
var ErrNotFound = errors.New("not found")

// TransientError marks a fetch failure worth retrying with backoff, such as
// a timeout or connection reset.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient fetch error: %v", e.Err) }

// Unwrap exposes the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// BlockedError marks an HTTP-level block signature: 403/429 or a response
// body that looks like an automated-access challenge. Blocked fetches get at
// most one retry before falling back to snippet content.
type BlockedError struct {
	StatusCode int
	Reason     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (status %d): %s", e.StatusCode, e.Reason)
}

// PolicyError marks a URL rejected without any fetch: robots disallow or a
// domain-policy rejection. It maps to the skipped outcome and is never
// retried.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return "policy rejection: " + e.Reason }

// ParseError marks a fetched but unparseable response. It earns a single
// retry before the URL is marked failed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error: %v", e.Err) }

// Unwrap exposes the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// FatalError marks an unrecoverable controller-level failure (store
// unreachable, invalid configuration). It aborts the whole job; per-URL
// errors never carry this type.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal job error: %v", e.Err) }

// Unwrap exposes the underlying cause.
func (e *FatalError) Unwrap() error { return e.Err }
