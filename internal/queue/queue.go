// Package queue defines the job handoff between the API layer and the
// dispatcher's runners.
package queue

import (
	"context"

	"github.com/inkhorn/webharvest/internal/crawl"
)

// Item is one accepted job awaiting a runner.
type Item struct {
	Job crawl.Job
}

// Queue moves accepted jobs to runners. Implementations must be safe for
// concurrent use.
type Queue interface {
	// Enqueue pushes a job or returns when the context ends.
	Enqueue(ctx context.Context, item Item) error
	// Dequeue pops the next job, respecting context cancellation.
	Dequeue(ctx context.Context) (Item, error)
	// Close releases resources; pending Dequeue calls return an error.
	Close()
}
