// Package progress defines the lifecycle events emitted by the crawl
// controller and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageDepthAdvance Stage = "DEPTH_ADVANCE"
	StageFetchDone    Stage = "FETCH_DONE"
	StageJobDone      Stage = "JOB_DONE"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Domain scopes fetch events to a host label.
	Domain string
	// URL is the optional canonical page URL.
	URL string
	// Depth is the frontier depth the event belongs to.
	Depth int
	// Outcome is the terminal per-URL outcome for fetch completions.
	Outcome string
	// Words carries the extracted word count for usable fetches.
	Words int
	// Dur captures fetch latency or total job runtime.
	Dur time.Duration
	// Status is the terminal job status for JOB_DONE events.
	Status string
	// Note lets emitters attach low-volume debug context (error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageDepthAdvance:
	case StageFetchDone:
		if e.Domain == "" {
			return errors.New("fetch done requires domain")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	case StageJobDone:
		if e.Status == "" {
			return errors.New("job done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
