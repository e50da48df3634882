package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostprep/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		stateDB string
		host    string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past provisioning runs",
		Long: `History lists the runs recorded in the state database, newest first.
Given a run ID it shows the per-action results of that run.

Runs are recorded when history.state_db is configured or --state-db is
passed to provision.`,
		Example: `  # Last 20 runs
  hostprep history

  # Runs against one host
  hostprep history --host gpu-01.lab --limit 5

  # Details of one run
  hostprep history 6f1c2a9e-0d7b-4c1e-9a53-0b8e2f6d1c44`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDB == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				stateDB = cfg.History.StateDB
			}
			if stateDB == "" {
				return fmt.Errorf("no state database configured; set history.state_db or pass --state-db")
			}

			ctx := cmd.Context()
			store, err := stores.Open(ctx, stateDB)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				actions, err := store.ListActionResults(ctx, run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, map[string]interface{}{"run": run, "actions": actions})
				}
				renderRunDetail(out, run, actions, noColor)
				return nil
			}

			runs, err := store.ListRuns(ctx, stores.RunFilter{Host: host, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			renderHistory(out, runs, noColor)
			return nil
		},
	}

	cmd.Flags().StringVar(&stateDB, "state-db", "", "SQLite state database (default from config)")
	cmd.Flags().StringVar(&host, "host", "", "only show runs against this host")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")

	return cmd
}
