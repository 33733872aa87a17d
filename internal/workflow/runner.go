package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

// ErrPermanent marks a step failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent step failure")

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

// Permanent wraps err so the step runner fails the step without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// StepFunc is the idempotent body of a step. Its result must be JSON.
type StepFunc func(ctx context.Context) ([]byte, error)

// StepRunner executes named steps with checkpointing.
type StepRunner interface {
	RunStep(ctx context.Context, name string, fn StepFunc) ([]byte, error)
}

// Step outcomes recorded in metrics.
const (
	outcomeCompleted = "completed"
	outcomeReplayed  = "replayed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)

// RunnerConfig bounds a single step attempt.
type RunnerConfig struct {
	StepTimeout time.Duration
}

// DurableRunner checkpoints step results for one run in a CheckpointStore.
type DurableRunner struct {
	runID       string
	checkpoints store.CheckpointStore
	retry       RetryPolicy
	clock       indexer.Clock
	cfg         RunnerConfig
	logger      *zap.Logger
}

// NewDurableRunner builds a runner scoped to runID.
func NewDurableRunner(
	runID string,
	checkpoints store.CheckpointStore,
	retry RetryPolicy,
	clock indexer.Clock,
	cfg RunnerConfig,
	logger *zap.Logger,
) *DurableRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	return &DurableRunner{
		runID:       runID,
		checkpoints: checkpoints,
		retry:       retry,
		clock:       clock,
		cfg:         cfg,
		logger:      logger.With(zap.String("run_id", runID)),
	}
}

// RunStep returns the checkpointed result of name when it already completed,
// otherwise runs fn until it succeeds or the retry policy gives up.
func (r *DurableRunner) RunStep(ctx context.Context, name string, fn StepFunc) ([]byte, error) {
	prior, err := r.checkpoints.LoadStep(ctx, r.runID, name)
	switch {
	case err == nil && prior.Status == store.StepCompleted:
		metrics.ObserveStep(outcomeReplayed)
		r.logger.Debug("step replayed from checkpoint", zap.String("step", name))
		return prior.Result, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load checkpoint %q: %w", name, err)
	}

	for attempt := 1; ; attempt++ {
		out, stepErr := r.attempt(ctx, fn)
		if stepErr == nil {
			if err := r.save(ctx, name, store.StepCompleted, prior.Attempts+attempt, out, ""); err != nil {
				return nil, err
			}
			metrics.ObserveStep(outcomeCompleted)
			return out, nil
		}
		if ctx.Err() != nil {
			// Shutdown: leave the step unrecorded so recovery re-runs it.
			return nil, fmt.Errorf("step %q interrupted: %w", name, ctx.Err())
		}
		if !r.retry.ShouldRetry(stepErr, attempt) {
			metrics.ObserveStep(outcomeFailed)
			r.logger.Error("step failed",
				zap.String("step", name),
				zap.Int("attempt", attempt),
				zap.Error(stepErr),
			)
			if err := r.save(ctx, name, store.StepFailed, prior.Attempts+attempt, nil, stepErr.Error()); err != nil {
				r.logger.Error("record failed step", zap.String("step", name), zap.Error(err))
			}
			return nil, fmt.Errorf("step %q: %w", name, stepErr)
		}
		metrics.ObserveStep(outcomeRetried)
		delay := r.retry.Backoff(attempt)
		r.logger.Warn("step attempt failed, retrying",
			zap.String("step", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(stepErr),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("step %q interrupted: %w", name, err)
		}
	}
}

func (r *DurableRunner) attempt(ctx context.Context, fn StepFunc) ([]byte, error) {
	if r.cfg.StepTimeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()
	return fn(stepCtx)
}

func (r *DurableRunner) save(ctx context.Context, name string, status store.StepStatus, attempts int, result []byte, errText string) error {
	err := r.checkpoints.SaveStep(ctx, store.Step{
		RunID:     r.runID,
		Name:      name,
		Status:    status,
		Attempts:  attempts,
		Result:    result,
		Error:     errText,
		UpdatedAt: r.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", name, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn as a durable step and decodes its checkpointed result into T.
// The result is always read back through JSON so first runs and replays see
// the same value.
func Do[T any](ctx context.Context, runner StepRunner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := runner.RunStep(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, Permanent(fmt.Errorf("encode result: %w", err))
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode step %q result: %w", name, err)
	}
	return out, nil
}
