package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFactsCommand() *cobra.Command {
	var (
		flags      targetFlags
		yamlOutput bool
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Show the host facts provisioning is planned against",
		Long: `Facts inspects the host read-only and prints what hostprep sees:
operating system, package manager, GPUs with driver and CUDA versions,
installed tools and the runtimes registered with Docker.

Nothing on the host is changed.`,
		Example: `  # Show local host facts
  hostprep facts

  # Machine-readable output
  hostprep facts --json
  hostprep facts --yaml

  # Inspect a remote host
  hostprep facts --host gpu-01.lab --user ubuntu`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}

			tgt, err := openTarget(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = tgt.close() }()

			log.Debug().Str("host", tgt.host).Msg("Collecting host facts")
			hostFacts, err := tgt.collector.Collect(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to collect host facts: %w", err)
			}

			out := cmd.OutOrStdout()
			switch {
			case jsonOutput:
				return writeJSON(out, hostFacts)
			case yamlOutput:
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(hostFacts); err != nil {
					return err
				}
				return enc.Close()
			}
			renderFacts(out, hostFacts, noColor)
			return nil
		},
	}

	flags.registerTarget(cmd)
	cmd.Flags().BoolVar(&yamlOutput, "yaml", false, "output in YAML format")

	return cmd
}

