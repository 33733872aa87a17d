package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

var (
	runCols  = []string{"id", "trigger_source", "status", "error", "stats", "created_at", "started_at", "finished_at"}
	stepCols = []string{"run_id", "name", "status", "attempts", "result", "error", "updated_at"}
)

func newMockRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewRunStore(mock)
	require.NoError(t, err)
	return s, mock
}

func TestRunStoreCreateRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockRunStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	run := store.Run{ID: "run-1", Trigger: "api", Status: store.RunQueued, CreatedAt: now}
	stats, err := json.Marshal(run.Stats)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "api", "queued", "", stats, now, (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateRunMissing(t *testing.T) {
	t.Parallel()

	s, mock := newMockRunStore(t)
	mock.ExpectExec("UPDATE runs").
		WithArgs("failed", "boom", pgxmock.AnyArg(), (*time.Time)(nil), (*time.Time)(nil), "run-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRun(context.Background(), store.Run{ID: "run-x", Status: store.RunFailed, Error: "boom"})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockRunStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	finished := now.Add(time.Minute)
	mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-1", "schedule", "succeeded", "", []byte(`{"urls_submitted":3}`), now, &now, &finished))
	mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-2").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunSucceeded, run.Status)
	require.Equal(t, 3, run.Stats.URLsSubmitted)
	require.NotNil(t, run.FinishedAt)

	_, err = s.GetRun(context.Background(), "run-2")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreListRunsByStatus(t *testing.T) {
	t.Parallel()

	s, mock := newMockRunStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	running := "running"
	limit := 20
	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(&running, &limit, 0).
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-1", "api", "running", "", []byte(`{}`), now, &now, (*time.Time)(nil)))

	status := store.RunRunning
	runs, err := s.ListRuns(context.Background(), &status, 20, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreSteps(t *testing.T) {
	t.Parallel()

	s, mock := newMockRunStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	result := []byte(`{"sites":[]}`)

	mock.ExpectExec("INSERT INTO run_steps").
		WithArgs("run-1", "get all sites", "completed", 1, result, "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM run_steps").
		WithArgs("run-1", "get all sites").
		WillReturnRows(pgxmock.NewRows(stepCols).
			AddRow("run-1", "get all sites", "completed", 1, result, "", now))
	mock.ExpectQuery("FROM run_steps").
		WithArgs("run-1", "submit url 1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("ORDER BY updated_at, name").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(stepCols).
			AddRow("run-1", "get all sites", "completed", 1, result, "", now).
			AddRow("run-1", "submit url 1", "failed", 3, []byte(nil), "timeout", now.Add(time.Second)))

	ctx := context.Background()
	require.NoError(t, s.SaveStep(ctx, store.Step{
		RunID: "run-1", Name: "get all sites", Status: store.StepCompleted, Attempts: 1, Result: result, UpdatedAt: now,
	}))

	step, err := s.LoadStep(ctx, "run-1", "get all sites")
	require.NoError(t, err)
	require.Equal(t, store.StepCompleted, step.Status)
	require.JSONEq(t, string(result), string(step.Result))

	_, err = s.LoadStep(ctx, "run-1", "submit url 1")
	require.ErrorIs(t, err, store.ErrNotFound)

	steps, err := s.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, store.StepFailed, steps[1].Status)
	require.Nil(t, steps[1].Result)
	require.NoError(t, mock.ExpectationsWereMet())
}
