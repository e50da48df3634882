package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hostprep/pkg/config"
	"github.com/openfroyo/hostprep/pkg/patch"
	"github.com/openfroyo/hostprep/pkg/policy"
	"github.com/openfroyo/hostprep/pkg/rules"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a hostprep configuration file",
		Long: `Validate checks a configuration file without touching any host.

This command checks:
  - CUE syntax and schema conformance
  - Field constraints such as versions and durations
  - Starlark "when" predicates of custom rules
  - Rule IDs and "after" references
  - Policy files, which must compile`,
		Example: `  # Validate the default configuration
  hostprep validate

  # Validate a specific file
  hostprep validate ./hostprep.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				configPath = args[0]
			}
			log.Info().Str("path", configPath).Msg("Validating configuration")

			cfg, err := loadConfig()
			if err != nil {
				var cerr *config.ConfigError
				if errors.As(err, &cerr) {
					for _, ve := range cerr.Errors {
						fmt.Fprintln(cmd.ErrOrStderr(), ve.String())
					}
					return fmt.Errorf("%d configuration errors", len(cerr.Errors))
				}
				return err
			}

			problems := validateRules(cmd, cfg)
			if cfg.Policy.Enabled || len(cfg.Policy.Paths) > 0 {
				if err := checkPolicies(cmd, cfg); err != nil {
					problems = append(problems, err.Error())
				}
			}

			for _, p := range problems {
				fmt.Fprintln(cmd.ErrOrStderr(), p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d configuration errors", len(problems))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d custom rules)\n", sourceName(cfg), len(cfg.Rules))
			return nil
		},
	}

	return cmd
}

// validateRules checks custom rules against each other and the built-in set.
func validateRules(cmd *cobra.Command, cfg *config.Config) []string {
	var problems []string

	builtin, err := rules.Builtin(cfg, patch.New(nil))
	if err != nil {
		return []string{err.Error()}
	}
	known := make(map[string]bool)
	for _, id := range builtin.IDs() {
		known[id] = true
	}

	se := config.NewStarlarkEvaluator(predicateTimeout)
	for _, rc := range cfg.Rules {
		if known[rc.ID] {
			problems = append(problems, fmt.Sprintf("rules.%s: duplicate rule ID", rc.ID))
		}
		known[rc.ID] = true
		if err := se.CheckPredicate(cmd.Context(), rc.When); err != nil {
			problems = append(problems, fmt.Sprintf("rules.%s.when: %v", rc.ID, err))
		}
	}
	for _, rc := range cfg.Rules {
		for _, dep := range rc.After {
			if !known[dep] {
				problems = append(problems, fmt.Sprintf("rules.%s.after: unknown rule %q", rc.ID, dep))
			}
		}
	}
	return problems
}

func checkPolicies(cmd *cobra.Command, cfg *config.Config) error {
	eng, err := policy.NewEngine(cmd.Context(), log.Logger, cfg.Policy.AllowedCommands)
	if err != nil {
		return err
	}
	if err := eng.LoadPolicies(cmd.Context(), cfg.Policy.Paths); err != nil {
		return err
	}
	log.Debug().Int("policies", len(eng.ListPolicies())).Msg("Policies compiled")
	return nil
}

func sourceName(cfg *config.Config) string {
	if cfg.Source == "" {
		return "default configuration"
	}
	return cfg.Source
}
