package engine

import (
	"sort"
	"time"
)

// Action is one idempotent provisioning step.
// Actions are created at graph-build time and never mutated afterwards.
type Action struct {
	// ID is the unique identifier of the action within a graph.
	ID string `json:"id"`

	// Description is a short human-readable summary.
	Description string `json:"description"`

	// Precondition reports whether the desired state already holds.
	// A nil precondition never holds, so the effect always runs.
	Precondition Condition `json:"-"`

	// Effect is the operation that moves the host towards the desired state.
	Effect Effect `json:"-"`

	// Postcondition verifies the effect reached the desired state.
	// A nil postcondition falls back to the precondition.
	Postcondition Condition `json:"-"`

	// Dependencies are the IDs of actions that must resolve first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Timeout bounds the effect. Zero uses the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Labels carry free-form metadata such as the originating rule.
	Labels map[string]string `json:"labels,omitempty"`
}

// ActionResult is the terminal outcome of one action within one run.
type ActionResult struct {
	// ActionID identifies the action.
	ActionID string `json:"action_id"`

	// Status is the final status (skipped, succeeded or failed).
	Status ActionStatus `json:"status"`

	// Error is the failure reason when Status is failed.
	Error *EngineError `json:"error,omitempty"`

	// Diagnostic is captured command output from the effect.
	Diagnostic string `json:"diagnostic,omitempty"`

	// StartedAt is when evaluation of the action began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the action reached its terminal status.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the wall time spent on the action.
	Duration time.Duration `json:"duration"`

	// Forced is true when the effect ran despite a satisfied precondition.
	Forced bool `json:"forced,omitempty"`
}

// Reason returns the failure message, or an empty string.
func (r *ActionResult) Reason() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// Event represents a point in the execution timeline.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run this event belongs to.
	RunID string `json:"run_id"`

	// ActionID is the action this event relates to, if any.
	ActionID string `json:"action_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Result is set on action completion events.
	Result *ActionResult `json:"result,omitempty"`

	// Run is set on run start and completion events.
	Run *Run `json:"run,omitempty"`

	// Level is the severity level (info, warning, error).
	Level string `json:"level"`
}

// Run represents one provisioning run.
type Run struct {
	// ID is the unique identifier for the run.
	ID string `json:"id"`

	// Host is the target host ("localhost" for local runs).
	Host string `json:"host"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// DryRun marks runs that only planned.
	DryRun bool `json:"dry_run"`

	// Force marks runs that ignored precondition skips.
	Force bool `json:"force"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`

	// Summary contains counts per final status.
	Summary RunSummary `json:"summary"`

	// Facts is the snapshot of host facts the run was planned from.
	Facts *HostFacts `json:"facts,omitempty"`
}

// RunSummary contains aggregate statistics for a run.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Report is the outcome of Executor.Run: one result per action.
type Report struct {
	// Run describes the run as a whole.
	Run *Run `json:"run"`

	// Order is the topological order the actions were walked in.
	Order []string `json:"order"`

	// Results maps action IDs to their results.
	Results map[string]*ActionResult `json:"results"`
}

// Ordered returns results in execution order.
func (r *Report) Ordered() []*ActionResult {
	out := make([]*ActionResult, 0, len(r.Order))
	for _, id := range r.Order {
		if res, ok := r.Results[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the IDs of failed actions, sorted.
func (r *Report) Failed() []string {
	ids := make([]string, 0)
	for id, res := range r.Results {
		if res.Status == ActionStatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// OK returns true when every action succeeded or was skipped.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// PlannedAction describes what a dry run found for one action.
type PlannedAction struct {
	// ActionID identifies the action.
	ActionID string `json:"action_id"`

	// Description is the action's summary.
	Description string `json:"description"`

	// Effect is the human-readable effect description.
	Effect string `json:"effect"`

	// Commands are the external commands the effect would invoke.
	Commands []Command `json:"commands,omitempty"`

	// Dependencies are the IDs this action waits on.
	Dependencies []string `json:"dependencies,omitempty"`

	// Satisfied is true when the precondition already holds.
	Satisfied bool `json:"satisfied"`

	// WillRun is true when a real run would invoke the effect.
	WillRun bool `json:"will_run"`

	// Error is set when the precondition could not be evaluated.
	Error *EngineError `json:"error,omitempty"`
}

// Plan is the dry-run view of a graph.
type Plan struct {
	// Actions are listed in execution order.
	Actions []PlannedAction `json:"actions"`

	// Summary counts the planned actions.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary contains aggregate statistics for a plan.
type PlanSummary struct {
	Total     int `json:"total"`
	ToRun     int `json:"to_run"`
	Satisfied int `json:"satisfied"`
	Errors    int `json:"errors"`
}
