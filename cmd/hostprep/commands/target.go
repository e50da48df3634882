package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/hostprep/pkg/config"
	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/facts"
	"github.com/openfroyo/hostprep/pkg/hostexec"
	"github.com/openfroyo/hostprep/pkg/patch"
	"github.com/openfroyo/hostprep/pkg/telemetry"
	"github.com/openfroyo/hostprep/pkg/transports/ssh"
)

// target is the host a command operates on: where commands run, where
// configuration files live and how facts are gathered.
type target struct {
	host      string
	runner    engine.Runner
	fs        patch.FS
	collector *facts.Collector
	close     func() error
}

// openTarget prepares the local host, or connects to the configured remote
// host. Driver-level probes only work in-process, so remote hosts are
// inspected through commands alone.
func openTarget(ctx context.Context, cfg *config.Config) (*target, error) {
	if !cfg.Remote() {
		runner := hostexec.NewLocalRunner(cfg.Sudo)
		return &target{
			host:   "localhost",
			runner: runner,
			fs:     patch.OSFS{},
			collector: facts.NewCollector(runner,
				facts.WithGPUProbe(facts.NewNVMLProbe()),
				facts.WithRuntimeProbe(facts.NewDockerAPIProbe()),
			),
			close: func() error { return nil },
		}, nil
	}

	client, err := ssh.NewSSHClient(ssh.FromTarget(cfg.Target, cfg.Sudo))
	if err != nil {
		return nil, fmt.Errorf("ssh target %s: %w", cfg.Target.Host, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Target.Host, err)
	}
	fsys, err := client.FS()
	if err != nil {
		_ = client.Disconnect()
		return nil, err
	}

	log.Info().Str("host", cfg.Target.Host).Msg("Provisioning remote host over SSH")
	return &target{
		host:      cfg.Target.Host,
		runner:    client,
		fs:        fsys,
		collector: facts.NewCollector(client),
		close:     client.Disconnect,
	}, nil
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewCUEParser().Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		log.Debug().Str("path", cfg.Source).Msg("Loaded configuration")
	}
	return cfg, nil
}

// startTelemetry replaces the bootstrap logger with the configured one.
func startTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tc := telemetry.FromConfig(cfg, buildVersion)
	if verbose {
		tc.Logging.Level = "debug"
	}
	if noColor {
		tc.Logging.NoColor = true
	}
	tel, err := telemetry.New(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}
