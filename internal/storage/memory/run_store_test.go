package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, s.CreateRun(ctx, store.Run{ID: "run-1", Status: store.RunQueued, CreatedAt: base}))
	require.NoError(t, s.CreateRun(ctx, store.Run{ID: "run-2", Status: store.RunQueued, CreatedAt: base.Add(time.Minute)}))
	require.Error(t, s.CreateRun(ctx, store.Run{ID: "run-1"}))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	run.Status = store.RunSucceeded
	run.Stats.URLsSubmitted = 3
	require.NoError(t, s.UpdateRun(ctx, run))
	require.ErrorIs(t, s.UpdateRun(ctx, store.Run{ID: "missing"}), store.ErrNotFound)

	all, err := s.ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"run-2", "run-1"}, []string{all[0].ID, all[1].ID})

	status := store.RunSucceeded
	done, err := s.ListRuns(ctx, &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, 3, done[0].Stats.URLsSubmitted)

	none, err := s.ListRuns(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreCheckpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Unix(1_700_000_000, 0).UTC()

	_, err := s.LoadStep(ctx, "run-1", "get all sites")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SaveStep(ctx, store.Step{
		RunID: "run-1", Name: "get all sites", Status: store.StepFailed, Attempts: 1, UpdatedAt: base,
	}))
	require.NoError(t, s.SaveStep(ctx, store.Step{
		RunID: "run-1", Name: "get all sites", Status: store.StepCompleted, Attempts: 2,
		Result: []byte(`{"sites":[]}`), UpdatedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.SaveStep(ctx, store.Step{
		RunID: "run-1", Name: "select eligible urls", Status: store.StepCompleted, Attempts: 1,
		Result: []byte(`[]`), UpdatedAt: base.Add(2 * time.Second),
	}))

	step, err := s.LoadStep(ctx, "run-1", "get all sites")
	require.NoError(t, err)
	require.Equal(t, store.StepCompleted, step.Status)
	require.Equal(t, 2, step.Attempts)
	require.JSONEq(t, `{"sites":[]}`, string(step.Result))

	steps, err := s.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "get all sites", steps[0].Name)

	empty, err := s.ListSteps(ctx, "run-unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}
