package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

// RunStore is an in-memory store.RunStore.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]store.Run
	steps map[string]map[string]store.Step
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[string]store.Run),
		steps: make(map[string]map[string]store.Step),
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun replaces an existing run.
func (s *RunStore) UpdateRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(_ context.Context, id string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadStep returns the checkpoint for (runID, name).
func (s *RunStore) LoadStep(_ context.Context, runID, name string) (store.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[runID][name]
	if !ok {
		return store.Step{}, store.ErrNotFound
	}
	return step, nil
}

// SaveStep upserts a checkpoint.
func (s *RunStore) SaveStep(_ context.Context, step store.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[step.RunID] == nil {
		s.steps[step.RunID] = make(map[string]store.Step)
	}
	step.Result = append([]byte(nil), step.Result...)
	s.steps[step.RunID][step.Name] = step
	return nil
}

// ListSteps returns a run's checkpoints ordered by update time.
func (s *RunStore) ListSteps(_ context.Context, runID string) ([]store.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Step, 0, len(s.steps[runID]))
	for _, step := range s.steps[runID] {
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
