// Package redis provides a Redis-backed run and checkpoint store for
// deployments that share run state across processes without Postgres.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

const (
	keyPrefix   = "indexer:run:"
	runIndexKey = "indexer:runs"
)

// Config captures the Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long run records and their checkpoints are retained.
	TTL time.Duration
}

// NewClient builds a client and verifies connectivity.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("runs.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RunStore implements store.RunStore on Redis.
type RunStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRunStore wraps an existing client. A zero ttl keeps records forever.
func NewRunStore(client redis.UniversalClient, ttl time.Duration) (*RunStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RunStore{client: client, ttl: ttl}, nil
}

func runKey(id string) string   { return keyPrefix + id }
func stepsKey(id string) string { return keyPrefix + id + ":steps" }

// Ping checks connectivity for readiness probes.
func (s *RunStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CreateRun stores a new run and indexes it by creation time.
func (s *RunStore) CreateRun(ctx context.Context, run store.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	ok, err := s.client.SetNX(ctx, runKey(run.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	if !ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	member := redis.Z{Score: float64(run.CreatedAt.UnixMilli()), Member: run.ID}
	if err := s.client.ZAdd(ctx, runIndexKey, member).Err(); err != nil {
		return fmt.Errorf("index run: %w", err)
	}
	return nil
}

// UpdateRun replaces an existing run.
func (s *RunStore) UpdateRun(ctx context.Context, run store.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	ok, err := s.client.SetXX(ctx, runKey(run.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	raw, err := s.client.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	var run store.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return store.Run{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status. Index
// entries whose record has expired are pruned.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	runs := []store.Run{}
	skipped := 0
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			_ = s.client.ZRem(ctx, runIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != nil && run.Status != *status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		runs = append(runs, run)
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}

// LoadStep returns the checkpoint for (runID, name).
func (s *RunStore) LoadStep(ctx context.Context, runID, name string) (store.Step, error) {
	raw, err := s.client.HGet(ctx, stepsKey(runID), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Step{}, store.ErrNotFound
	}
	if err != nil {
		return store.Step{}, fmt.Errorf("load step: %w", err)
	}
	var step store.Step
	if err := json.Unmarshal(raw, &step); err != nil {
		return store.Step{}, fmt.Errorf("decode step: %w", err)
	}
	return step, nil
}

// SaveStep upserts a checkpoint.
func (s *RunStore) SaveStep(ctx context.Context, step store.Step) error {
	payload, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	key := stepsKey(step.RunID)
	if err := s.client.HSet(ctx, key, step.Name, payload).Err(); err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire steps: %w", err)
		}
	}
	return nil
}

// ListSteps returns a run's checkpoints ordered by update time.
func (s *RunStore) ListSteps(ctx context.Context, runID string) ([]store.Step, error) {
	fields, err := s.client.HGetAll(ctx, stepsKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	steps := make([]store.Step, 0, len(fields))
	for name, raw := range fields {
		var step store.Step
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return nil, fmt.Errorf("decode step %s: %w", strconv.Quote(name), err)
		}
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool {
		if !steps[i].UpdatedAt.Equal(steps[j].UpdatedAt) {
			return steps[i].UpdatedAt.Before(steps[j].UpdatedAt)
		}
		return steps[i].Name < steps[j].Name
	})
	return steps, nil
}
