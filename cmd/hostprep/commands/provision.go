package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hostprep/pkg/config"
	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/patch"
	"github.com/openfroyo/hostprep/pkg/policy"
	"github.com/openfroyo/hostprep/pkg/rules"
	"github.com/openfroyo/hostprep/pkg/stores"
	"github.com/openfroyo/hostprep/pkg/telemetry"
)

// runOptions are the per-run switches shared by provision and watch.
type runOptions struct {
	dryRun    bool
	force     bool
	graphFile string
}

// targetFlags override configuration values when set on the command line.
type targetFlags struct {
	minCUDA  string
	timeout  time.Duration
	sudo     bool
	host     string
	user     string
	port     int
	identity string
	insecure bool
	stateDB  string
	noPolicy bool
}

// registerTarget adds the flags that select and reach the target host.
func (f *targetFlags) registerTarget(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolVar(&f.sudo, "sudo", false, "run privileged commands through sudo")
	flags.StringVar(&f.host, "host", "", "provision a remote host over SSH")
	flags.StringVar(&f.user, "user", "", "SSH user for --host")
	flags.IntVar(&f.port, "port", 22, "SSH port for --host")
	flags.StringVarP(&f.identity, "identity", "i", "", "SSH private key for --host")
	flags.BoolVar(&f.insecure, "insecure", false, "skip SSH host key verification")
}

// registerRun adds the target flags plus those that shape a run.
func (f *targetFlags) registerRun(cmd *cobra.Command) {
	f.registerTarget(cmd)
	flags := cmd.Flags()
	flags.StringVar(&f.minCUDA, "min-cuda-version", "11.8", "minimum acceptable CUDA version")
	flags.DurationVar(&f.timeout, "timeout", 20*time.Minute, "default per-action timeout")
	flags.StringVar(&f.stateDB, "state-db", "", "record run history in this SQLite database")
	flags.BoolVar(&f.noPolicy, "no-policy", false, "skip policy evaluation")
}

// apply copies the flags the user set explicitly onto cfg and revalidates
// it. Flags the command does not register are never changed.
func (f *targetFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("min-cuda-version") {
		cfg.MinCUDAVersion = f.minCUDA
	}
	if flags.Changed("timeout") {
		cfg.ActionTimeout = f.timeout.String()
	}
	if flags.Changed("sudo") {
		cfg.Sudo = f.sudo
	}
	if flags.Changed("host") {
		cfg.Target.Host = f.host
	}
	if flags.Changed("user") {
		cfg.Target.User = f.user
	}
	if flags.Changed("port") {
		cfg.Target.Port = f.port
	}
	if flags.Changed("identity") {
		cfg.Target.KeyPath = f.identity
	}
	if flags.Changed("insecure") {
		cfg.Target.Insecure = f.insecure
	}
	if flags.Changed("state-db") {
		cfg.History.StateDB = f.stateDB
	}
	if f.noPolicy {
		cfg.Policy.Enabled = false
	}
	return config.NewCUEParser().Validate(cfg)
}

func newProvisionCommand() *cobra.Command {
	var (
		flags targetFlags
		opts  runOptions
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Converge the host to a working GPU container stack",
		Long: `Provision inspects the host and runs every step whose desired state does
not already hold, in dependency order:

  gpu.driver            NVIDIA driver installed and loaded
  gpu.cuda              CUDA toolkit at or above --min-cuda-version
  docker.engine         Docker engine installed and running
  nvidia.toolkit        NVIDIA container toolkit installed
  docker.daemon-config  nvidia runtime registered in daemon.json

Steps that need a GPU are left out of the plan on hosts without one.
A failed step does not stop independent steps; steps depending on it fail
without running.

Exit status is 0 when every step succeeded or was skipped, otherwise the
number of failed steps (at most 125). Errors that prevent the run from
starting exit with 1.`,
		Example: `  # Provision the local host
  hostprep provision

  # Show what would change without touching the host
  hostprep provision --dry-run

  # Require CUDA 12.2 and rerun every step
  hostprep provision --min-cuda-version 12.2 --force

  # Provision a remote host
  hostprep provision --host gpu-01.lab --user ubuntu --sudo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}

			tel, err := startTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := tel.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			return provisionOnce(cmd.Context(), cfg, tel, opts, cmd.OutOrStdout())
		},
	}

	flags.registerRun(cmd)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report planned actions without executing effects")
	cmd.Flags().BoolVar(&opts.force, "force", false, "run effects even when their preconditions hold")
	cmd.Flags().StringVar(&opts.graphFile, "graph", "", "write the action graph in DOT format to this file")

	return cmd
}

// provisionOnce runs one full provisioning pass against the configured
// target. A nil error means every action succeeded or was skipped; failed
// actions are reported as *FailedActionsError.
func provisionOnce(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, opts runOptions, out io.Writer) (err error) {
	ctx, span := tel.Tracer.Start(ctx, "hostprep.provision", telemetry.AttrRunDryRun.Bool(opts.dryRun))
	defer func() {
		if IsFatal(err) {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	tgt, err := openTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := tgt.close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close target connection")
		}
	}()
	span.SetAttributes(telemetry.AttrTargetHost.String(tgt.host))

	hostFacts, err := tgt.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect host facts: %w", err)
	}

	graph, err := buildGraph(ctx, cfg, tgt, hostFacts)
	if err != nil {
		return err
	}
	log.Info().
		Str("host", tgt.host).
		Int("actions", graph.Len()).
		Strs("order", graph.Order()).
		Msg("Action graph built")

	if opts.graphFile != "" {
		if err := os.WriteFile(opts.graphFile, []byte(graph.ToDOT()), 0o644); err != nil {
			return fmt.Errorf("failed to write graph: %w", err)
		}
	}

	if cfg.Policy.Enabled {
		if err := gate(ctx, cfg, tel, graph, tgt.host, opts.dryRun); err != nil {
			return err
		}
	}

	publishers := tel.Publishers(ctx)
	if cfg.History.StateDB != "" && !opts.dryRun {
		store, err := stores.Open(ctx, cfg.History.StateDB)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.History.StateDB).Msg("Run history disabled")
		} else {
			defer store.Close()
			publishers = append(publishers, store)
		}
	}

	executor := engine.NewExecutor(tgt.runner, hostFacts, engine.ExecutorOptions{
		DefaultTimeout: cfg.Timeout(),
		Force:          opts.force,
		Host:           tgt.host,
		Publishers:     publishers,
	})

	if opts.dryRun {
		plan, err := executor.Plan(ctx, graph)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(out, plan)
		}
		renderPlan(out, plan, noColor)
		return nil
	}

	report, err := executor.Run(ctx, graph)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		renderReport(out, report, noColor)
	}
	return checkFailed(report.Failed())
}

// predicateTimeout bounds each user rule predicate.
const predicateTimeout = 5 * time.Second

// buildGraph assembles the built-in and user rules for the target and keeps
// the ones that apply to its facts.
func buildGraph(ctx context.Context, cfg *config.Config, tgt *target, hostFacts *engine.HostFacts) (*engine.Graph, error) {
	builtin, err := rules.Builtin(cfg, patch.New(tgt.fs))
	if err != nil {
		return nil, err
	}
	rs := append(builtin, rules.UserRules(cfg.Rules, config.NewStarlarkEvaluator(predicateTimeout))...)
	return rules.Build(ctx, hostFacts, rs)
}

// gate checks the graph against the configured policies. Violations block
// real runs only.
func gate(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, graph *engine.Graph, host string, dryRun bool) error {
	eng, err := policy.NewEngine(ctx, telemetry.Component(tel.Logger, "policy"), cfg.Policy.AllowedCommands)
	if err != nil {
		return err
	}
	if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
		return err
	}

	result, err := eng.Gate(ctx, graph, host, dryRun)
	if err != nil {
		return err
	}
	for _, v := range result.Violations {
		log.Warn().Str("policy", v.Policy).Str("action", v.Action).Msg(v.Message)
	}
	return nil
}
