package engine

import (
	"context"
)

// Plan evaluates every precondition read-only and reports which actions a
// real run would execute. No effect is invoked.
//
// Preconditions see the host as it is now, so an action whose precondition
// would only hold after an earlier effect runs is reported as pending work.
func (e *Executor) Plan(ctx context.Context, graph *Graph) (*Plan, error) {
	if graph == nil {
		return nil, NewValidationError("graph is nil")
	}

	env := &Env{Facts: e.facts, Runner: e.runner}
	plan := &Plan{
		Actions: make([]PlannedAction, 0, graph.Len()),
		Summary: PlanSummary{Total: graph.Len()},
	}

	for _, action := range graph.Actions() {
		if err := ctx.Err(); err != nil {
			return nil, NewFatalError("planning cancelled", err).WithCode(ErrCodeCancelled)
		}

		timeout := action.Timeout
		if timeout <= 0 {
			timeout = e.opts.DefaultTimeout
		}

		pa := PlannedAction{
			ActionID:     action.ID,
			Description:  action.Description,
			Effect:       action.Effect.Describe(),
			Commands:     action.Effect.Commands(),
			Dependencies: append([]string(nil), action.Dependencies...),
		}

		if action.Precondition != nil {
			satisfied, err := e.evaluate(ctx, action.Precondition, env, timeout)
			if err != nil {
				pa.Error = classify(action.ID, "precondition", err)
				plan.Summary.Errors++
			}
			pa.Satisfied = satisfied
		}

		pa.WillRun = pa.Error == nil && (!pa.Satisfied || e.opts.Force)
		if pa.WillRun {
			plan.Summary.ToRun++
		} else if pa.Satisfied {
			plan.Summary.Satisfied++
		}

		plan.Actions = append(plan.Actions, pa)
	}

	return plan, nil
}

// AllCommands returns every command the plan would invoke, in order.
func (p *Plan) AllCommands() []Command {
	cmds := make([]Command, 0)
	for _, a := range p.Actions {
		if a.WillRun {
			cmds = append(cmds, a.Commands...)
		}
	}
	return cmds
}
