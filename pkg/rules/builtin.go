package rules

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/hostprep/pkg/config"
	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/facts"
	"github.com/openfroyo/hostprep/pkg/hostexec"
	"github.com/openfroyo/hostprep/pkg/patch"
	"github.com/openfroyo/hostprep/pkg/version"
	"github.com/rs/zerolog/log"
)

// Built-in rule IDs.
const (
	GPUDriver     = "gpu.driver"
	GPUCUDA       = "gpu.cuda"
	DockerEngine  = "docker.engine"
	NvidiaToolkit = "nvidia.toolkit"
	DaemonConfig  = "docker.daemon-config"
)

// Package installs can legitimately take a long time on slow mirrors.
const (
	driverTimeout = 45 * time.Minute
	cudaTimeout   = 60 * time.Minute
	configTimeout = 5 * time.Minute
)

// nvidiaRuntime is the daemon.json runtime entry for the NVIDIA container runtime.
var nvidiaRuntime = map[string]interface{}{
	"runtimes.nvidia.path": "nvidia-container-runtime",
	"runtimes.nvidia.args": []interface{}{},
}

// Builtin returns the GPU host ruleset in declaration order. Patcher writes
// daemon.json; pass one built on the target host's filesystem.
func Builtin(cfg *config.Config, patcher *patch.Patcher) (Ruleset, error) {
	minimum, err := version.Parse(cfg.MinCUDAVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum CUDA version: %w", err)
	}
	if patcher == nil {
		patcher = patch.New(nil)
	}
	if cfg.Docker.Backup && patcher.BackupSuffix == "" {
		p := *patcher
		p.BackupSuffix = ".bak"
		patcher = &p
	}

	return Ruleset{
		{
			ID:          GPUDriver,
			Description: "NVIDIA driver installed and loaded",
			Applies:     gpuPresent,
			Action: func(f *engine.HostFacts) (engine.Action, error) {
				install, err := installCommands(f, cfg.Packages.Driver, "driver")
				if err != nil {
					return engine.Action{}, err
				}
				return engine.Action{
					Precondition: engine.CommandSucceeds(engine.NewCommand("nvidia-smi")),
					Effect:       engine.RunCommands(install...),
					Timeout:      driverTimeout,
				}, nil
			},
		},
		{
			ID:          GPUCUDA,
			Description: fmt.Sprintf("CUDA %s or newer available", minimum),
			After:       []string{GPUDriver},
			Applies:     gpuPresent,
			Action: func(f *engine.HostFacts) (engine.Action, error) {
				install, err := installCommands(f, cfg.Packages.CUDA, "cuda")
				if err != nil {
					return engine.Action{}, err
				}
				return engine.Action{
					Precondition: CUDAAtLeast(minimum),
					Effect:       engine.RunCommands(install...),
					Timeout:      cudaTimeout,
				}, nil
			},
		},
		{
			ID:          DockerEngine,
			Description: "Docker engine and compose installed and running",
			Action: func(f *engine.HostFacts) (engine.Action, error) {
				install, err := installCommands(f, cfg.Packages.Docker, "docker")
				if err != nil {
					return engine.Action{}, err
				}
				ready := DockerReady
				if f.HasCommand("systemctl") {
					install = append(install, hostexec.EnableNow("docker"))
					ready = engine.All(DockerReady, hostexec.ServiceRunning("docker"))
				}
				return engine.Action{
					Precondition: ready,
					Effect:       engine.RunCommands(install...),
				}, nil
			},
		},
		{
			ID:          NvidiaToolkit,
			Description: "NVIDIA container toolkit installed",
			After:       []string{GPUDriver, DockerEngine},
			Applies:     gpuPresent,
			Action: func(f *engine.HostFacts) (engine.Action, error) {
				install, err := installCommands(f, cfg.Packages.Toolkit, "toolkit")
				if err != nil {
					return engine.Action{}, err
				}
				return engine.Action{
					Precondition: commandPresent("nvidia-ctk"),
					Effect:       engine.RunCommands(install...),
				}, nil
			},
		},
		{
			ID:          DaemonConfig,
			Description: "Docker daemon configuration up to date",
			After:       []string{DockerEngine, NvidiaToolkit},
			Action: func(f *engine.HostFacts) (engine.Action, error) {
				return daemonConfigAction(cfg.Docker, patcher, f), nil
			},
		},
	}, nil
}

func gpuPresent(_ context.Context, f *engine.HostFacts) (bool, error) {
	return f.GPU.Present, nil
}

// installCommands resolves the packages for the host's package manager.
func installCommands(f *engine.HostFacts, pkgs map[string][]string, component string) ([]engine.Command, error) {
	pm := hostexec.PackageManager(f.PackageManager)
	if !pm.Valid() {
		return nil, fmt.Errorf("unsupported package manager %q", f.PackageManager)
	}
	names := pkgs[string(pm)]
	if len(names) == 0 {
		return nil, fmt.Errorf("no %s packages configured for %s", component, pm)
	}
	return []engine.Command{pm.Refresh(), pm.Install(names...)}, nil
}

func commandPresent(name string) engine.Condition {
	return func(ctx context.Context, env *engine.Env) (bool, error) {
		return facts.CommandPresent(ctx, env.Runner, name), nil
	}
}

// CUDAAtLeast holds when the host's CUDA version meets minimum. A host with
// no CUDA at all does not satisfy it; unparseable version output is an error
// with code MALFORMED_VERSION.
func CUDAAtLeast(minimum version.Version) engine.Condition {
	return func(ctx context.Context, env *engine.Env) (bool, error) {
		text := facts.ProbeCUDAVersion(ctx, env.Runner)
		if text == "" {
			return false, nil
		}
		v, err := version.Parse(text)
		if err != nil {
			return false, err
		}
		return v.Meets(minimum), nil
	}
}

// DockerReady holds when the docker CLI and compose both work.
func DockerReady(ctx context.Context, env *engine.Env) (bool, error) {
	if !facts.CommandPresent(ctx, env.Runner, "docker") {
		return false, nil
	}
	_, ok := facts.ProbeCompose(ctx, env.Runner)
	return ok, nil
}

// DaemonTransform builds the daemon.json patch for a host: configured
// settings everywhere, plus the nvidia runtime on GPU hosts.
func DaemonTransform(cfg config.DockerConfig, gpu bool) patch.Transform {
	var ts []patch.Transform
	if len(cfg.Settings) > 0 {
		ts = append(ts, patch.Merge(cfg.Settings))
	}
	if gpu {
		ts = append(ts, patch.SetPaths(nvidiaRuntime))
		if cfg.DefaultRuntime {
			ts = append(ts, patch.SetPaths(map[string]interface{}{"default-runtime": "nvidia"}))
		}
	}
	return patch.Chain(ts...)
}

// RuntimeLoaded holds when the running docker daemon has registered the
// nvidia runtime, and uses it as the default when asDefault is set. A daemon
// that cannot be queried does not satisfy it.
func RuntimeLoaded(asDefault bool) engine.Condition {
	return func(ctx context.Context, env *engine.Env) (bool, error) {
		names, def, err := facts.DockerRuntimes(ctx, env.Runner)
		if err != nil {
			log.Debug().Err(err).Msg("Docker runtimes unavailable")
			return false, nil
		}
		if !slices.Contains(names, "nvidia") {
			return false, nil
		}
		return !asDefault || def == "nvidia", nil
	}
}

// daemonEffect patches daemon.json and restarts docker when it changed, or
// when the file is current but the daemon has not loaded it yet.
type daemonEffect struct {
	path      string
	transform patch.Transform
	patcher   *patch.Patcher
	restart   bool
	loaded    engine.Condition
	keys      []string
}

func (e *daemonEffect) Describe() string {
	desc := fmt.Sprintf("patch %s", e.path)
	if len(e.keys) > 0 {
		desc += fmt.Sprintf(" (%s)", strings.Join(e.keys, ", "))
	}
	switch {
	case e.restart && e.loaded != nil:
		desc += " and restart docker if changed or the nvidia runtime is not loaded"
	case e.restart:
		desc += " and restart docker if changed"
	}
	return desc
}

func (e *daemonEffect) Commands() []engine.Command {
	if !e.restart {
		return nil
	}
	return []engine.Command{hostexec.Restart("docker")}
}

func (e *daemonEffect) Apply(ctx context.Context, env *engine.Env) (string, error) {
	res, err := e.patcher.Patch(e.path, e.transform)
	if err != nil {
		return "", err
	}

	diag := "daemon configuration updated; docker restarted"
	switch {
	case res.Changed:
		log.Info().Str("path", e.path).Msg("Docker daemon configuration updated")
		if !e.restart {
			return "daemon configuration updated", nil
		}
	case e.loaded == nil:
		return "daemon configuration already up to date", nil
	default:
		ok, err := e.loaded(ctx, env)
		if err != nil {
			return "", err
		}
		if ok {
			return "daemon configuration already up to date", nil
		}
		log.Info().Str("path", e.path).Msg("Docker daemon has not loaded the nvidia runtime, restarting")
		diag = "daemon configuration up to date; docker restarted to load the nvidia runtime"
	}

	out, err := env.Runner.Run(ctx, hostexec.Restart("docker"))
	if text := out.Combined(); text != "" {
		diag += "\n" + text
	}
	return diag, err
}

// daemonConfigAction patches daemon.json. On GPU hosts where hostprep
// restarts docker, the step also requires the daemon to have loaded the
// nvidia runtime, so a failed restart is retried on the next run.
func daemonConfigAction(cfg config.DockerConfig, patcher *patch.Patcher, f *engine.HostFacts) engine.Action {
	t := DaemonTransform(cfg, f.GPU.Present)
	var satisfied engine.Condition = func(context.Context, *engine.Env) (bool, error) {
		return patcher.Satisfied(cfg.DaemonConfig, t)
	}

	restart := cfg.Restart && f.HasCommand("systemctl")
	var loaded engine.Condition
	if f.GPU.Present && restart {
		loaded = RuntimeLoaded(cfg.DefaultRuntime)
		satisfied = engine.All(satisfied, loaded)
	}

	var keys []string
	for k := range cfg.Settings {
		keys = append(keys, k)
	}
	if f.GPU.Present {
		keys = append(keys, "runtimes.nvidia")
		if cfg.DefaultRuntime {
			keys = append(keys, "default-runtime")
		}
	}
	sort.Strings(keys)

	return engine.Action{
		Precondition: satisfied,
		Effect: &daemonEffect{
			path:      cfg.DaemonConfig,
			transform: t,
			patcher:   patcher,
			restart:   restart,
			loaded:    loaded,
			keys:      keys,
		},
		Timeout: configTimeout,
	}
}
