package stores

import (
	"context"
	"time"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// RunRecord is a stored provisioning run.
type RunRecord struct {
	ID          string            `json:"id"`
	Host        string            `json:"host"`
	Status      engine.RunStatus  `json:"status"`
	DryRun      bool              `json:"dry_run"`
	Force       bool              `json:"force"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Summary     engine.RunSummary `json:"summary"`
	Facts       string            `json:"facts"` // JSON blob
}

// ActionRecord is the stored outcome of one action within a run.
type ActionRecord struct {
	RunID        string              `json:"run_id"`
	ActionID     string              `json:"action_id"`
	Seq          int                 `json:"seq"`
	Status       engine.ActionStatus `json:"status"`
	Forced       bool                `json:"forced"`
	ErrorCode    string              `json:"error_code,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Diagnostic   string              `json:"diagnostic,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at"`
	Duration     time.Duration       `json:"duration"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// Host restricts results to one target host.
	Host string

	// Limit caps the number of runs returned, newest first. Zero means 20.
	Limit int
}

// Store defines the interface for the run history layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	SaveRun(ctx context.Context, run *engine.Run) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// Action results
	SaveActionResult(ctx context.Context, runID string, seq int, result *engine.ActionResult) error
	ListActionResults(ctx context.Context, runID string) ([]*ActionRecord, error)
	LastResult(ctx context.Context, host, actionID string) (*ActionRecord, error)

	// Publish records execution events as they happen.
	Publish(ctx context.Context, event *engine.Event) error
}
