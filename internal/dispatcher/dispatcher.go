// Package dispatcher fans accepted jobs out to a pool of job runners.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/inkhorn/webharvest/internal/crawl"
	"github.com/inkhorn/webharvest/internal/queue"
	queuememory "github.com/inkhorn/webharvest/internal/queue/memory"
)

// Runner executes one job to its terminal state.
type Runner interface {
	Run(ctx context.Context, job crawl.Job, cancel *crawl.CancelFlag)
}

// Dispatcher dequeues accepted jobs and runs each on an available runner
// slot. Concurrency is the number of jobs processed in parallel; each job
// internally runs its own fetch worker pool.
type Dispatcher struct {
	queue       queue.Queue
	runner      Runner
	manager     *crawl.Manager
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher.
func New(q queue.Queue, runner Runner, manager *crawl.Manager, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       q,
		runner:      runner,
		manager:     manager,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run starts the runner slots and blocks until the queue closes or the
// context ends. Jobs already running finish their cooperative shutdown.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, slot int) {
	logger := d.logger.With(zap.Int("slot", slot))
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queuememory.ErrClosed) && ctx.Err() == nil {
				logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		flag, ok := d.manager.Flag(item.Job.ID)
		if !ok {
			flag = d.manager.Register(item.Job.ID)
		}
		logger.Info("job picked up", zap.String("job_id", item.Job.ID))
		d.runner.Run(ctx, item.Job, flag)
		d.manager.Release(item.Job.ID)
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item queue.Item) error {
	return d.queue.Enqueue(ctx, item)
}
