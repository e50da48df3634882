package engine

import (
	"encoding/json"
	"fmt"
)

// ActionStatus represents the state of one action during a run.
//
// Transitions: pending -> skipped, or pending -> running -> succeeded|failed.
// A pending action may also move straight to failed when a dependency failed
// or the run was cancelled before it started.
type ActionStatus string

const (
	// ActionStatusPending indicates the action has not been evaluated yet.
	ActionStatusPending ActionStatus = "pending"

	// ActionStatusRunning indicates the action's effect is executing.
	ActionStatusRunning ActionStatus = "running"

	// ActionStatusSkipped indicates the precondition already held; no effect was invoked.
	ActionStatusSkipped ActionStatus = "skipped"

	// ActionStatusSucceeded indicates the effect ran and the postcondition holds.
	ActionStatusSucceeded ActionStatus = "succeeded"

	// ActionStatusFailed indicates the action failed or was short-circuited.
	ActionStatusFailed ActionStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusSkipped || s == ActionStatusSucceeded || s == ActionStatusFailed
}

// IsResolved returns true if dependents may proceed past an action in this status.
func (s ActionStatus) IsResolved() bool {
	return s == ActionStatusSkipped || s == ActionStatusSucceeded
}

// Validate checks if the action status is valid.
func (s ActionStatus) Validate() error {
	switch s {
	case ActionStatusPending, ActionStatusRunning, ActionStatusSkipped,
		ActionStatusSucceeded, ActionStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid action status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ActionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ActionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ActionStatus(str)
	return s.Validate()
}

// RunStatus represents the overall status of a provisioning run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every action succeeded or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some actions failed while others completed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates the run aborted or no action completed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was interrupted between actions.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeActionStarted indicates an action's effect is about to run.
	EventTypeActionStarted EventType = "action_started"

	// EventTypeActionSkipped indicates an action's precondition already held.
	EventTypeActionSkipped EventType = "action_skipped"

	// EventTypeActionSucceeded indicates an action completed successfully.
	EventTypeActionSucceeded EventType = "action_succeeded"

	// EventTypeActionFailed indicates an action failed or was short-circuited.
	EventTypeActionFailed EventType = "action_failed"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeActionFailed:
		return "error"
	default:
		return "info"
	}
}

// eventTypeFor maps a terminal action status to its completion event.
func eventTypeFor(status ActionStatus) EventType {
	switch status {
	case ActionStatusSkipped:
		return EventTypeActionSkipped
	case ActionStatusSucceeded:
		return EventTypeActionSucceeded
	default:
		return EventTypeActionFailed
	}
}
