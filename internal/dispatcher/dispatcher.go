// Package dispatcher creates runs, feeds them to the queue and manages the
// worker pool that drains it.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
	"github.com/JakeFAU/sitemap-indexer/internal/worker"
)

const enqueueTimeout = 5 * time.Second

// Dispatcher fans out queued runs to a pool of workers.
type Dispatcher struct {
	queue   indexer.Queue
	runs    store.RunRepository
	ids     indexer.IDGenerator
	clock   indexer.Clock
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue indexer.Queue,
	runs store.RunRepository,
	ids indexer.IDGenerator,
	clock indexer.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runs:    runs,
		ids:     ids,
		clock:   clock,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Launch records a new queued run and enqueues it. A run that cannot be
// enqueued is marked failed.
func (d *Dispatcher) Launch(ctx context.Context, trigger string) (store.Run, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return store.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := store.Run{
		ID:        id,
		Trigger:   trigger,
		Status:    store.RunQueued,
		CreatedAt: d.clock.Now(),
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return store.Run{}, fmt.Errorf("create run: %w", err)
	}
	if err := d.Enqueue(ctx, indexer.QueueItem{
		RunID:     run.ID,
		Trigger:   trigger,
		Attempt:   1,
		Submitted: run.CreatedAt.Unix(),
	}); err != nil {
		finished := d.clock.Now()
		run.Status = store.RunFailed
		run.Error = err.Error()
		run.FinishedAt = &finished
		if updateErr := d.runs.UpdateRun(ctx, run); updateErr != nil {
			d.logger.Error("mark unqueued run failed", zap.String("run_id", run.ID), zap.Error(updateErr))
		}
		metrics.ObserveRun(string(store.RunFailed))
		return run, err
	}
	d.logger.Info("run queued", zap.String("run_id", run.ID), zap.String("trigger", trigger))
	return run, nil
}

// Enqueue proxies to the underlying queue with a bounded wait.
func (d *Dispatcher) Enqueue(ctx context.Context, item indexer.QueueItem) error {
	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := d.queue.Enqueue(enqueueCtx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Recover re-enqueues runs left running or queued by a previous process so
// they resume from their checkpoints. It returns how many were re-enqueued.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []store.RunStatus{store.RunRunning, store.RunQueued} {
		runs, err := d.runs.ListRuns(ctx, &status, 0, 0)
		if err != nil {
			return recovered, fmt.Errorf("list %s runs: %w", status, err)
		}
		// Oldest first so recovered runs keep their original order.
		for i := len(runs) - 1; i >= 0; i-- {
			run := runs[i]
			if err := d.Enqueue(ctx, indexer.QueueItem{
				RunID:     run.ID,
				Trigger:   indexer.TriggerRecovery,
				Attempt:   2,
				Submitted: d.clock.Now().Unix(),
			}); err != nil {
				return recovered, err
			}
			recovered++
			d.logger.Info("recovered run",
				zap.String("run_id", run.ID),
				zap.String("status", string(status)),
			)
		}
	}
	return recovered, nil
}
