package commands

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hostprep/pkg/config"
)

func newWatchCommand() *cobra.Command {
	var (
		flags    targetFlags
		opts     runOptions
		interval time.Duration
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Provision, then re-provision whenever the configuration changes",
		Long: `Watch runs provision once, then keeps the host converged. A new pass
starts when the configuration file or the local Docker daemon
configuration changes, and every --interval if one is set.

A failed pass is logged and watching continues.`,
		Example: `  # Re-provision on configuration changes
  hostprep watch

  # Also re-check the host every hour
  hostprep watch --interval 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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
				if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			watched := watchedFiles(cfg)
			for dir := range watchedDirs(watched) {
				if err := watcher.Add(dir); err != nil {
					log.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
				}
			}
			log.Info().Int("files", len(watched)).Dur("interval", interval).Msg("Watching for changes")

			pass := func(reason string) {
				if next, err := loadConfig(); err != nil {
					log.Error().Err(err).Msg("Configuration reload failed, keeping the previous one")
				} else if err := flags.apply(cmd, next); err != nil {
					log.Error().Err(err).Msg("Configuration reload failed, keeping the previous one")
				} else {
					cfg = next
				}

				log.Info().Str("reason", reason).Msg("Starting provisioning pass")
				err := provisionOnce(ctx, cfg, tel, opts, cmd.OutOrStdout())
				var failed *FailedActionsError
				switch {
				case errors.As(err, &failed):
					log.Warn().Strs("failed", failed.Failed).Msg("Provisioning pass finished with failures")
				case err != nil:
					log.Error().Err(err).Msg("Provisioning pass failed")
				}
			}

			return watchLoop(ctx, watcher.Events, watcher.Errors, watched, interval, debounce, pass)
		},
	}

	flags.registerRun(cmd)
	cmd.Flags().BoolVar(&opts.force, "force", false, "run effects even when their preconditions hold")
	cmd.Flags().DurationVar(&interval, "interval", 0, "also re-provision on this interval (0 disables)")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "wait this long after the last change before a pass")

	return cmd
}

// watchedFiles returns the files whose changes trigger a pass. The daemon
// configuration is only visible to the watcher on the local host.
func watchedFiles(cfg *config.Config) map[string]bool {
	files := make(map[string]bool)
	if cfg.Source != "" {
		if abs, err := filepath.Abs(cfg.Source); err == nil {
			files[abs] = true
		}
	}
	if !cfg.Remote() && cfg.Docker.DaemonConfig != "" {
		files[filepath.Clean(cfg.Docker.DaemonConfig)] = true
	}
	return files
}

// watchedDirs returns the parent directories of files. Editors and the
// patcher replace files by rename, which only the directory watch sees.
func watchedDirs(files map[string]bool) map[string]bool {
	dirs := make(map[string]bool, len(files))
	for f := range files {
		dirs[filepath.Dir(f)] = true
	}
	return dirs
}

// watchLoop calls run once at startup, again debounce after the last
// change to a watched file, and on every interval tick. Passes never
// overlap. A pass that patches daemon.json triggers one more pass, which
// finds nothing to do.
func watchLoop(
	ctx context.Context,
	events <-chan fsnotify.Event,
	errs <-chan error,
	watched map[string]bool,
	interval, debounce time.Duration,
	run func(reason string),
) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
		changed string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	run("startup")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Watched file changed")

			changed = event.Name
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-pending:
			pending = nil
			run("changed " + changed)

		case <-tick:
			run("interval")
		}
	}
}
