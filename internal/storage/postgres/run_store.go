package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

const runColumns = `id, trigger_source, status, error, stats, created_at, started_at, finished_at`

// RunStore implements store.RunStore on Postgres.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run store.Run) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	query := `INSERT INTO runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.Trigger,
		string(run.Status),
		run.Error,
		stats,
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun overwrites the mutable columns of a run.
func (s *RunStore) UpdateRun(ctx context.Context, run store.Run) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	const query = `
UPDATE runs
SET status = $1, error = $2, stats = $3, started_at = $4, finished_at = $5
WHERE id = $6`
	tag, err := s.pool.Exec(ctx, query,
		string(run.Status),
		run.Error,
		stats,
		run.StartedAt,
		run.FinishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status. A
// non-positive limit returns every match.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
FROM runs
WHERE $1::text IS NULL OR status = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LoadStep returns the checkpoint for (runID, name).
func (s *RunStore) LoadStep(ctx context.Context, runID, name string) (store.Step, error) {
	const query = `
SELECT run_id, name, status, attempts, result, error, updated_at
FROM run_steps
WHERE run_id = $1 AND name = $2`
	step, err := scanStep(s.pool.QueryRow(ctx, query, runID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Step{}, store.ErrNotFound
	}
	if err != nil {
		return store.Step{}, fmt.Errorf("load step: %w", err)
	}
	return step, nil
}

// SaveStep upserts a checkpoint.
func (s *RunStore) SaveStep(ctx context.Context, step store.Step) error {
	const query = `
INSERT INTO run_steps (run_id, name, status, attempts, result, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, name) DO UPDATE
SET status = EXCLUDED.status,
	attempts = EXCLUDED.attempts,
	result = EXCLUDED.result,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		step.RunID,
		step.Name,
		string(step.Status),
		step.Attempts,
		[]byte(step.Result),
		step.Error,
		step.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// ListSteps returns a run's checkpoints ordered by update time.
func (s *RunStore) ListSteps(ctx context.Context, runID string) ([]store.Step, error) {
	const query = `
SELECT run_id, name, status, attempts, result, error, updated_at
FROM run_steps
WHERE run_id = $1
ORDER BY updated_at, name`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()
	steps := []store.Step{}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
		stats  []byte
	)
	err := row.Scan(
		&run.ID,
		&run.Trigger,
		&status,
		&run.Error,
		&stats,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return store.Run{}, fmt.Errorf("decode stats: %w", err)
		}
	}
	return run, nil
}

func scanStep(row pgx.Row) (store.Step, error) {
	var (
		step   store.Step
		status string
		result []byte
	)
	if err := row.Scan(&step.RunID, &step.Name, &status, &step.Attempts, &result, &step.Error, &step.UpdatedAt); err != nil {
		return store.Step{}, err
	}
	step.Status = store.StepStatus(status)
	if len(result) > 0 {
		step.Result = result
	}
	return step, nil
}
