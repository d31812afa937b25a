// Package dispatcher fans submitted jobs out to a pool of crawl runners.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/queue/memory"
)

// Runner executes one crawl job to a settled state.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher pulls job IDs off the queue and hands each to a runner. At
// most `runners` jobs execute concurrently.
type Dispatcher struct {
	queue   crawl.Queue
	runner  Runner
	runners int
	logger  *zap.Logger
}

// New creates a Dispatcher. Runner counts below one are raised to one.
func New(queue crawl.Queue, runner Runner, runners int, logger *zap.Logger) *Dispatcher {
	if runners <= 0 {
		runners = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		runners: runners,
		logger:  logger,
	}
}

// Run starts the runner pool and blocks until the context finishes and all
// in-flight jobs settle.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.runners; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			d.loop(ctx, index)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, index int) {
	logger := d.logger.With(zap.Int("runner", index))
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("job dequeued", zap.String("job_id", item.JobID))
		if err := d.runner.Run(ctx, item.JobID); err != nil {
			logger.Error("job run failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawl.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
