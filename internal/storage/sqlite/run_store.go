package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

type runRow struct {
	ID         string        `db:"id"`
	Trigger    string        `db:"trigger_source"`
	Status     string        `db:"status"`
	Error      string        `db:"error"`
	Stats      string        `db:"stats"`
	CreatedAt  int64         `db:"created_at"`
	StartedAt  sql.NullInt64 `db:"started_at"`
	FinishedAt sql.NullInt64 `db:"finished_at"`
}

func (r runRow) run() (store.Run, error) {
	run := store.Run{
		ID:         r.ID,
		Trigger:    r.Trigger,
		Status:     store.RunStatus(r.Status),
		Error:      r.Error,
		CreatedAt:  fromMillis(r.CreatedAt),
		StartedAt:  fromNullMillis(r.StartedAt),
		FinishedAt: fromNullMillis(r.FinishedAt),
	}
	if r.Stats != "" {
		if err := json.Unmarshal([]byte(r.Stats), &run.Stats); err != nil {
			return store.Run{}, fmt.Errorf("decode stats: %w", err)
		}
	}
	return run, nil
}

type stepRow struct {
	RunID     string `db:"run_id"`
	Name      string `db:"name"`
	Status    string `db:"status"`
	Attempts  int    `db:"attempts"`
	Result    []byte `db:"result"`
	Error     string `db:"error"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r stepRow) step() store.Step {
	step := store.Step{
		RunID:     r.RunID,
		Name:      r.Name,
		Status:    store.StepStatus(r.Status),
		Attempts:  r.Attempts,
		Error:     r.Error,
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if len(r.Result) > 0 {
		step.Result = r.Result
	}
	return step
}

const (
	runColumns  = `id, trigger_source, status, error, stats, created_at, started_at, finished_at`
	stepColumns = `run_id, name, status, attempts, result, error, updated_at`
)

// RunStore implements store.RunStore on SQLite.
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore wraps an open database.
func NewRunStore(db *sqlx.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &RunStore{db: db}, nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run store.Run) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Trigger,
		string(run.Status),
		run.Error,
		string(stats),
		toMillis(run.CreatedAt),
		nullMillis(run.StartedAt),
		nullMillis(run.FinishedAt),
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
SET status = ?, error = ?, stats = ?, started_at = ?, finished_at = ?
WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(run.Status),
		run.Error,
		string(stats),
		nullMillis(run.StartedAt),
		nullMillis(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return row.run()
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	var statusArg sql.NullString
	if status != nil {
		statusArg = sql.NullString{String: string(*status), Valid: true}
	}
	query := `SELECT ` + runColumns + `
FROM runs
WHERE ? IS NULL OR status = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, statusArg, statusArg, limit, offset); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	runs := make([]store.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// LoadStep returns the checkpoint for (runID, name).
func (s *RunStore) LoadStep(ctx context.Context, runID, name string) (store.Step, error) {
	var row stepRow
	err := s.db.GetContext(ctx, &row, `SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? AND name = ?`, runID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Step{}, store.ErrNotFound
	}
	if err != nil {
		return store.Step{}, fmt.Errorf("load step: %w", err)
	}
	return row.step(), nil
}

// SaveStep upserts a checkpoint.
func (s *RunStore) SaveStep(ctx context.Context, step store.Step) error {
	query := `INSERT INTO run_steps (` + stepColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, name) DO UPDATE
SET status = excluded.status,
	attempts = excluded.attempts,
	result = excluded.result,
	error = excluded.error,
	updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		step.RunID,
		step.Name,
		string(step.Status),
		step.Attempts,
		[]byte(step.Result),
		step.Error,
		toMillis(step.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// ListSteps returns a run's checkpoints ordered by update time.
func (s *RunStore) ListSteps(ctx context.Context, runID string) ([]store.Step, error) {
	var rows []stepRow
	query := `SELECT ` + stepColumns + ` FROM run_steps WHERE run_id = ? ORDER BY updated_at, name`
	if err := s.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	steps := make([]store.Step, 0, len(rows))
	for _, r := range rows {
		steps = append(steps, r.step())
	}
	return steps, nil
}
