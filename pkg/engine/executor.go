package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultActionTimeout bounds an action's effect when neither the action nor
// the executor options set a timeout.
const DefaultActionTimeout = 20 * time.Minute

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// DefaultTimeout applies to actions without their own timeout.
	DefaultTimeout time.Duration

	// Force runs effects even when the precondition already holds.
	Force bool

	// Host names the target host in run records.
	Host string

	// Publishers receive execution events in order.
	Publishers []EventPublisher
}

// Executor walks an action graph sequentially in topological order.
//
// Actions mutate shared host state (package databases, services, config
// files), so exactly one effect runs at a time. Cancellation of the caller's
// context is honored between actions only; an effect that has started runs
// until it finishes or its timeout expires.
type Executor struct {
	runner Runner
	facts  *HostFacts
	opts   ExecutorOptions
}

// NewExecutor creates an executor bound to a runner and a fact snapshot.
func NewExecutor(runner Runner, facts *HostFacts, opts ExecutorOptions) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultActionTimeout
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	return &Executor{
		runner: runner,
		facts:  facts,
		opts:   opts,
	}
}

// Run executes every action in the graph and returns one result per action.
// The returned error is non-nil only when the graph itself is unusable;
// action failures are reported in the Report.
func (e *Executor) Run(ctx context.Context, graph *Graph) (*Report, error) {
	if graph == nil {
		return nil, NewValidationError("graph is nil")
	}

	run := &Run{
		ID:        uuid.New().String(),
		Host:      e.opts.Host,
		Status:    RunStatusRunning,
		Force:     e.opts.Force,
		StartedAt: time.Now(),
		Facts:     e.facts,
		Summary:   RunSummary{Total: graph.Len()},
	}
	report := &Report{
		Run:     run,
		Order:   graph.Order(),
		Results: make(map[string]*ActionResult, graph.Len()),
	}

	e.publish(ctx, &Event{
		Type:    EventTypeRunStarted,
		RunID:   run.ID,
		Message: fmt.Sprintf("Run started with %d actions", graph.Len()),
		Run:     run,
	})

	env := &Env{Facts: e.facts, Runner: e.runner}
	cancelled := false

	for _, action := range graph.Actions() {
		var result *ActionResult
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			log.Warn().Str("run_id", run.ID).Str("action", action.ID).
				Msg("Run cancelled, remaining actions will not start")
		}

		if cancelled {
			result = e.finish(action.ID, time.Now(), ActionStatusFailed,
				NewActionError("run cancelled before action started", context.Cause(ctx)).
					WithCode(ErrCodeCancelled).WithAction(action.ID), "")
		} else {
			result = e.runAction(ctx, run.ID, action, env, report.Results)
		}

		report.Results[action.ID] = result
		e.publish(ctx, &Event{
			Type:     eventTypeFor(result.Status),
			RunID:    run.ID,
			ActionID: action.ID,
			Message:  fmt.Sprintf("Action %s %s", action.ID, result.Status),
			Result:   result,
		})
	}

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)
	run.Summary = summarize(report.Results)
	run.Status = finalStatus(run.Summary, cancelled)

	e.publish(ctx, &Event{
		Type:    EventTypeRunCompleted,
		RunID:   run.ID,
		Message: fmt.Sprintf("Run completed with status: %s", run.Status),
		Run:     run,
	})

	return report, nil
}

// runAction drives one action through its state machine.
func (e *Executor) runAction(
	ctx context.Context,
	runID string,
	action *Action,
	env *Env,
	results map[string]*ActionResult,
) *ActionResult {
	start := time.Now()

	for _, dep := range action.Dependencies {
		if res, ok := results[dep]; !ok || !res.Status.IsResolved() {
			err := NewActionError(fmt.Sprintf("dependency %s failed", dep), nil).
				WithCode(ErrCodeDependencyFailed).
				WithAction(action.ID).
				WithDetail("dependency", dep)
			return e.finish(action.ID, start, ActionStatusFailed, err, "")
		}
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}

	forced := false
	if action.Precondition != nil {
		satisfied, err := e.evaluate(ctx, action.Precondition, env, timeout)
		if err != nil {
			return e.finish(action.ID, start, ActionStatusFailed,
				classify(action.ID, "precondition", err), "")
		}
		if satisfied {
			if !e.opts.Force {
				log.Debug().Str("action", action.ID).Msg("Precondition satisfied, skipping")
				return e.finish(action.ID, start, ActionStatusSkipped, nil, "")
			}
			forced = true
		}
	}

	e.publish(ctx, &Event{
		Type:     EventTypeActionStarted,
		RunID:    runID,
		ActionID: action.ID,
		Message:  fmt.Sprintf("Started %s: %s", action.ID, action.Effect.Describe()),
	})
	log.Info().Str("action", action.ID).Bool("forced", forced).Msg("Applying action")

	output, err := e.apply(ctx, action, env, timeout)
	if err != nil {
		res := e.finish(action.ID, start, ActionStatusFailed,
			classify(action.ID, "effect", err).WithDiagnostic(output), output)
		res.Forced = forced
		return res
	}

	post := action.Postcondition
	if post == nil {
		post = action.Precondition
	}
	if post != nil {
		ok, err := e.evaluate(ctx, post, env, timeout)
		if err != nil {
			res := e.finish(action.ID, start, ActionStatusFailed,
				classify(action.ID, "postcondition", err).WithDiagnostic(output), output)
			res.Forced = forced
			return res
		}
		if !ok {
			res := e.finish(action.ID, start, ActionStatusFailed,
				NewActionError("postcondition not satisfied after effect", nil).
					WithAction(action.ID).
					WithOperation("postcondition").
					WithDiagnostic(output), output)
			res.Forced = forced
			return res
		}
	}

	res := e.finish(action.ID, start, ActionStatusSucceeded, nil, output)
	res.Forced = forced
	return res
}

// apply invokes the effect under its own deadline, detached from caller cancellation.
func (e *Executor) apply(ctx context.Context, action *Action, env *Env, timeout time.Duration) (output string, err error) {
	effectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = NewActionError(fmt.Sprintf("effect panicked: %v", r), nil)
		}
	}()

	output, err = action.Effect.Apply(effectCtx, env)
	if err != nil && errors.Is(effectCtx.Err(), context.DeadlineExceeded) {
		err = NewTimeoutError(action.ID, err).
			WithDetail("timeout", timeout.String())
	}
	return output, err
}

// evaluate runs a condition with the action's deadline.
func (e *Executor) evaluate(ctx context.Context, cond Condition, env *Env, timeout time.Duration) (ok bool, err error) {
	condCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, NewActionError(fmt.Sprintf("condition panicked: %v", r), nil)
		}
	}()

	ok, err = cond(condCtx, env)
	if err != nil && errors.Is(condCtx.Err(), context.DeadlineExceeded) {
		err = NewTimeoutError("", err)
	}
	return ok, err
}

func (e *Executor) finish(
	actionID string,
	start time.Time,
	status ActionStatus,
	err *EngineError,
	diagnostic string,
) *ActionResult {
	now := time.Now()
	if err != nil && err.Action == "" {
		err.Action = actionID
	}
	return &ActionResult{
		ActionID:    actionID,
		Status:      status,
		Error:       err,
		Diagnostic:  diagnostic,
		StartedAt:   start,
		CompletedAt: now,
		Duration:    now.Sub(start),
	}
}

// publish delivers an event to every publisher in order.
func (e *Executor) publish(ctx context.Context, event *Event) {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now()
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}
	for _, p := range e.opts.Publishers {
		if err := p.Publish(context.WithoutCancel(ctx), event); err != nil {
			log.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to publish event")
		}
	}
}

// classify converts an error from a phase into an action-scoped EngineError.
func classify(actionID, phase string, err error) *EngineError {
	ee := AsEngineError(err)
	if ee.Class == ErrorClassFatal {
		// A fatal error inside one action stays local to that action.
		ee = &EngineError{
			Class:   ErrorClassAction,
			Code:    ee.Code,
			Message: ee.Message,
			Err:     ee.Err,
			Details: ee.Details,
		}
	}
	if ee.Operation == "" {
		ee.Operation = phase
	}
	if ee.Action == "" {
		ee.Action = actionID
	}
	return ee
}

func summarize(results map[string]*ActionResult) RunSummary {
	s := RunSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ActionStatusSucceeded:
			s.Succeeded++
		case ActionStatusSkipped:
			s.Skipped++
		case ActionStatusFailed:
			s.Failed++
		}
	}
	return s
}

func finalStatus(s RunSummary, cancelled bool) RunStatus {
	switch {
	case cancelled:
		return RunStatusCancelled
	case s.Failed == 0:
		return RunStatusSucceeded
	case s.Succeeded+s.Skipped > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}
