// Package rules turns a ruleset and a host's facts into an action graph.
//
// A rule is a template for an action plus an applicability predicate over
// HostFacts. Build materializes the applicable rules, drops dependency edges
// to rules that did not materialize, and hands the actions to
// engine.BuildGraph for validation and ordering.
package rules

import (
	"context"
	"fmt"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/rs/zerolog/log"
)

// Rule is a template for one action.
type Rule struct {
	// ID becomes the action ID.
	ID string

	// Description is a one-line summary.
	Description string

	// After lists the IDs of rules this rule depends on.
	After []string

	// Applies reports whether the rule is relevant to the host. Nil means always.
	Applies func(ctx context.Context, facts *engine.HostFacts) (bool, error)

	// Action builds the action for the host. Build sets the ID, description
	// and dependencies of the returned action.
	Action func(facts *engine.HostFacts) (engine.Action, error)
}

// Ruleset is an ordered list of rules. Declaration order breaks ties in the
// execution order.
type Ruleset []Rule

// IDs returns the rule IDs in declaration order.
func (rs Ruleset) IDs() []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

// Build evaluates every rule against facts and builds the graph of the
// applicable ones.
func Build(ctx context.Context, facts *engine.HostFacts, rs Ruleset) (*engine.Graph, error) {
	known := make(map[string]bool, len(rs))
	for _, r := range rs {
		if r.ID == "" {
			return nil, engine.NewValidationError("rule ID cannot be empty")
		}
		if known[r.ID] {
			return nil, engine.NewValidationError(fmt.Sprintf("duplicate rule ID: %s", r.ID))
		}
		known[r.ID] = true
	}
	for _, r := range rs {
		for _, dep := range r.After {
			if !known[dep] {
				return nil, engine.NewValidationError(
					fmt.Sprintf("rule %s depends on unknown rule %s", r.ID, dep),
				).WithAction(r.ID)
			}
		}
	}

	materialized := make(map[string]bool, len(rs))
	var actions []engine.Action
	for _, r := range rs {
		ok, err := applies(ctx, r, facts)
		if err != nil {
			return nil, engine.NewValidationError(
				fmt.Sprintf("rule %s: applicability check failed: %v", r.ID, err),
			).WithAction(r.ID)
		}
		if !ok {
			log.Debug().Str("rule", r.ID).Msg("Rule does not apply to host")
			continue
		}

		action, err := r.Action(facts)
		if err != nil {
			return nil, engine.NewValidationError(
				fmt.Sprintf("rule %s: %v", r.ID, err),
			).WithAction(r.ID)
		}
		action.ID = r.ID
		if action.Description == "" {
			action.Description = r.Description
		}
		action.Dependencies = append([]string(nil), r.After...)

		materialized[r.ID] = true
		actions = append(actions, action)
	}

	// Edges to rules that did not materialize have nothing to wait for.
	for i := range actions {
		deps := actions[i].Dependencies[:0]
		for _, dep := range actions[i].Dependencies {
			if materialized[dep] {
				deps = append(deps, dep)
			}
		}
		actions[i].Dependencies = deps
	}

	return engine.BuildGraph(actions)
}

func applies(ctx context.Context, r Rule, facts *engine.HostFacts) (ok bool, err error) {
	if r.Applies == nil {
		return true, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.Applies(ctx, facts)
}
