// Package worker executes queued workflow runs and records their lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
	"github.com/JakeFAU/sitemap-indexer/internal/workflow"
)

// Executor runs the workflow for one run id.
type Executor interface {
	Run(ctx context.Context, runID string, runner workflow.StepRunner) (store.RunStats, error)
}

// RunnerFactory builds the step runner bound to a run.
type RunnerFactory func(runID string) workflow.StepRunner

// Config controls Worker behavior.
type Config struct {
	// Topic receives a run summary when a run finishes; empty disables notifications.
	Topic string
}

// Worker consumes queue items and executes runs.
type Worker struct {
	queue     indexer.Queue
	runs      store.RunRepository
	flow      Executor
	newRunner RunnerFactory
	publisher indexer.Publisher
	clock     indexer.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue indexer.Queue,
	runs store.RunRepository,
	flow Executor,
	newRunner RunnerFactory,
	publisher indexer.Publisher,
	clock indexer.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		runs:      runs,
		flow:      flow,
		newRunner: newRunner,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run",
			zap.String("run_id", item.RunID),
			zap.String("trigger", item.Trigger),
		)
		if _, err := w.Execute(ctx, item.RunID); err != nil && ctx.Err() == nil {
			w.logger.Error("run execution failed", zap.String("run_id", item.RunID), zap.Error(err))
		}
	}
}

// Execute runs one workflow run to completion and returns its final record.
// The returned error covers bookkeeping failures and shutdown; a workflow
// failure is reported through the run's status instead. A run interrupted by
// shutdown stays running so recovery can resume it from its checkpoints.
func (w *Worker) Execute(ctx context.Context, runID string) (store.Run, error) {
	logger := w.logger.With(zap.String("run_id", runID))
	run, err := w.runs.GetRun(ctx, runID)
	if err != nil {
		return store.Run{}, fmt.Errorf("load run: %w", err)
	}
	if run.Status.Terminal() {
		logger.Info("run already finished", zap.String("status", string(run.Status)))
		return run, nil
	}

	if run.StartedAt == nil {
		started := w.clock.Now()
		run.StartedAt = &started
	}
	run.Status = store.RunRunning
	if err := w.runs.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("mark run running: %w", err)
	}

	metrics.IncActiveWorkers()
	stats, flowErr := w.flow.Run(ctx, runID, w.newRunner(runID))
	metrics.DecActiveWorkers()

	if ctx.Err() != nil {
		logger.Warn("run interrupted, leaving it for recovery", zap.Error(flowErr))
		return run, fmt.Errorf("run interrupted: %w", ctx.Err())
	}

	finished := w.clock.Now()
	run.Stats = stats
	run.FinishedAt = &finished
	run.Status = store.RunSucceeded
	run.Error = ""
	if flowErr != nil {
		run.Status = store.RunFailed
		run.Error = flowErr.Error()
	}
	if err := w.runs.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("record run result: %w", err)
	}
	metrics.ObserveRun(string(run.Status))

	if flowErr != nil {
		logger.Error("run failed", zap.Error(flowErr), zap.Bool("permanent", errors.Is(flowErr, workflow.ErrPermanent)))
	} else {
		logger.Info("run succeeded",
			zap.Int("urls_submitted", stats.URLsSubmitted),
			zap.Int("urls_failed", stats.URLsFailed),
		)
	}
	w.notify(ctx, logger, run)
	return run, nil
}

func (w *Worker) notify(ctx context.Context, logger *zap.Logger, run store.Run) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, run)
	if err != nil {
		logger.Warn("publish run summary failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("published run summary", zap.String("message_id", id))
}
