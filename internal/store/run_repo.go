package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a run or step is missing.
var ErrNotFound = errors.New("not found")

// RunStatus captures the lifecycle of a workflow run.
type RunStatus string

// Run lifecycle states.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// ParseRunStatus validates a status string from an external caller.
func ParseRunStatus(input string) (RunStatus, error) {
	switch RunStatus(input) {
	case RunQueued, RunRunning, RunSucceeded, RunFailed:
		return RunStatus(input), nil
	default:
		return "", errors.New("invalid status")
	}
}

// RunStats are the counters a run reports on completion.
type RunStats struct {
	SitesTotal     int `json:"sites_total"`
	SitesCrawled   int `json:"sites_crawled"`
	SitesSkipped   int `json:"sites_skipped"`
	SitesFailed    int `json:"sites_failed"`
	URLsDiscovered int `json:"urls_discovered"`
	URLsSelected   int `json:"urls_selected"`
	URLsSubmitted  int `json:"urls_submitted"`
	URLsFailed     int `json:"urls_failed"`
}

// Run is one execution of the crawl-and-submit workflow.
type Run struct {
	ID string `json:"id"`
	// Trigger records who started the run (api, schedule, cli).
	Trigger    string     `json:"trigger"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	Stats      RunStats   `json:"stats"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepStatus is the outcome recorded for a durable step.
type StepStatus string

// Step outcomes.
const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is the checkpoint of one named step within a run.
type Step struct {
	RunID    string     `json:"run_id"`
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempts"`
	// Result holds the JSON-encoded step output when Status is completed.
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunRepository persists run records.
type RunRepository interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns runs newest first. A non-positive limit returns every match.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// CheckpointStore persists step results so a resumed run skips completed work.
type CheckpointStore interface {
	LoadStep(ctx context.Context, runID, name string) (Step, error)
	SaveStep(ctx context.Context, step Step) error
	ListSteps(ctx context.Context, runID string) ([]Step, error)
}

// RunStore combines run records and checkpoints.
type RunStore interface {
	RunRepository
	CheckpointStore
}
