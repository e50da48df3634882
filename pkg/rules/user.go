package rules

import (
	"context"

	"github.com/openfroyo/hostprep/pkg/config"
	"github.com/openfroyo/hostprep/pkg/engine"
)

// UserRules converts configured rules into Rules. Predicates are evaluated
// with se; check, command and verify strings run through sh -c.
func UserRules(rules []config.RuleConfig, se *config.StarlarkEvaluator) Ruleset {
	rs := make(Ruleset, 0, len(rules))
	for _, rc := range rules {
		rc := rc
		rs = append(rs, Rule{
			ID:          rc.ID,
			Description: rc.Description,
			After:       rc.After,
			Applies: func(ctx context.Context, f *engine.HostFacts) (bool, error) {
				return se.EvaluatePredicate(ctx, rc.When, f)
			},
			Action: func(*engine.HostFacts) (engine.Action, error) {
				steps := make([]engine.Command, len(rc.Commands))
				for i, c := range rc.Commands {
					steps[i] = shell(c)
				}

				action := engine.Action{
					Precondition: engine.CommandSucceeds(shell(rc.Check)),
					Effect:       engine.RunCommands(steps...),
					Timeout:      rc.TimeoutDuration(),
					Labels:       map[string]string{"source": "config"},
				}
				if rc.Verify != "" {
					action.Postcondition = engine.CommandSucceeds(shell(rc.Verify))
				}
				return action, nil
			},
		})
	}
	return rs
}

func shell(script string) engine.Command {
	return engine.NewCommand("sh", "-c", script)
}
