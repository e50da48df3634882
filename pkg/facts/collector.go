// Package facts collects the read-only host observations a provisioning run
// is planned against.
package facts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/hostexec"
	"github.com/rs/zerolog/log"
)

// Collector gathers HostFacts once and caches them.
type Collector struct {
	runner  engine.Runner
	gpu     GPUProbe
	runtime RuntimeProbe

	mu     sync.Mutex
	cached *engine.HostFacts
}

// Option configures a Collector.
type Option func(*Collector)

// WithGPUProbe sets a driver-level GPU probe, tried before nvidia-smi.
func WithGPUProbe(p GPUProbe) Option {
	return func(c *Collector) { c.gpu = p }
}

// WithRuntimeProbe sets an API-level docker runtime probe, tried before the docker CLI.
func WithRuntimeProbe(p RuntimeProbe) Option {
	return func(c *Collector) { c.runtime = p }
}

// NewCollector creates a collector that probes through runner.
func NewCollector(runner engine.Runner, opts ...Option) *Collector {
	c := &Collector{runner: runner}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns the host facts, probing the host on first use.
// Only a failure to identify the operating system is an error; every
// other probe failure is recorded as an absent fact. Each call returns its
// own copy, so callers cannot change what later calls see.
func (c *Collector) Collect(ctx context.Context) (*engine.HostFacts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		facts, err := c.collect(ctx)
		if err != nil {
			return nil, err
		}
		c.cached = facts
	}
	return c.cached.Clone(), nil
}

// Refresh discards cached facts and probes again.
func (c *Collector) Refresh(ctx context.Context) (*engine.HostFacts, error) {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return c.Collect(ctx)
}

func (c *Collector) collect(ctx context.Context) (*engine.HostFacts, error) {
	start := time.Now()
	r := c.runner

	facts := &engine.HostFacts{
		Commands: make(map[string]bool),
		Versions: make(map[string]string),
	}

	if err := c.collectOS(ctx, facts); err != nil {
		return nil, err
	}

	facts.Hostname = output(ctx, r, engine.NewCommand("hostname"))
	facts.Kernel = output(ctx, r, engine.NewCommand("uname", "-r"))
	facts.Arch = output(ctx, r, engine.NewCommand("uname", "-m"))

	for _, name := range ProbedCommands {
		facts.Commands[name] = CommandPresent(ctx, r, name)
	}

	c.collectGPU(ctx, facts)

	if v := ProbeToolkitVersion(ctx, r); v != "" {
		facts.CUDAToolkitVersion = v
		facts.Versions["nvcc"] = v
	}

	if facts.Commands["docker"] {
		if v := ProbeVersion(ctx, r, engine.NewCommand("docker", "--version")); v != "" {
			facts.Versions["docker"] = v
		}
		c.collectRuntimes(ctx, facts)
	}
	if v, ok := ProbeCompose(ctx, r); ok {
		facts.Commands[ComposeKey] = true
		facts.Versions[ComposeKey] = v
	}
	if facts.Commands["nvidia-ctk"] {
		if v := ProbeVersion(ctx, r, engine.NewCommand("nvidia-ctk", "--version")); v != "" {
			facts.Versions["nvidia-ctk"] = v
		}
	}

	facts.CollectedAt = time.Now().UTC()

	log.Info().
		Str("os", facts.OS.ID+" "+facts.OS.VersionID).
		Str("package_manager", facts.PackageManager).
		Bool("gpu_present", facts.GPU.Present).
		Str("gpu_source", facts.GPU.Source).
		Str("cuda_version", facts.CUDAVersion()).
		Dur("duration", time.Since(start)).
		Msg("Facts collection completed")

	return facts, nil
}

func (c *Collector) collectOS(ctx context.Context, facts *engine.HostFacts) error {
	out, err := c.runner.Run(ctx, engine.NewCommand("cat", "/etc/os-release"))
	if err != nil {
		return engine.NewFactUnavailableError("failed to read /etc/os-release", err)
	}

	facts.OS = ParseOSRelease(out.Stdout)
	if facts.OS.ID == "" {
		return engine.NewFactUnavailableError("os-release has no ID field", nil)
	}

	mgr, ok := hostexec.ForOS(facts.OS.ID, facts.OS.VersionID, facts.OS.Like)
	if !ok {
		return engine.NewFactUnavailableError(
			fmt.Sprintf("unsupported distribution %q", facts.OS.ID), nil,
		).WithDetail("like", strings.Join(facts.OS.Like, " "))
	}
	facts.PackageManager = string(mgr)
	facts.OS.Family = mgr.Family()
	return nil
}

// collectGPU tries NVML, then nvidia-smi, then the PCI bus, then /dev nodes.
func (c *Collector) collectGPU(ctx context.Context, facts *engine.HostFacts) {
	r := c.runner

	if c.gpu != nil {
		gpu, err := c.gpu.Probe()
		if err == nil && gpu.Present {
			facts.GPU = *gpu
			if gpu.DriverVersion != "" {
				facts.Versions["nvidia-driver"] = gpu.DriverVersion
			}
			return
		}
		log.Debug().Err(err).Msg("NVML probe found no GPU, falling back to tools")
	}

	if facts.Commands["nvidia-smi"] {
		driver, cuda := ProbeDriver(ctx, r)
		facts.GPU.DriverVersion = driver
		facts.GPU.CUDAVersion = cuda
		if driver != "" {
			facts.Versions["nvidia-driver"] = driver
		}

		query := output(ctx, r, engine.NewCommand("nvidia-smi",
			"--query-gpu=index,name,uuid,pci.bus_id,memory.total",
			"--format=csv,noheader,nounits"))
		if devices := ParseNvidiaSMIQuery(query); len(devices) > 0 {
			facts.GPU.Present = true
			facts.GPU.Devices = devices
			facts.GPU.Source = "nvidia-smi"
			return
		}
	}

	if devices := ParseLspci(output(ctx, r, engine.NewCommand("lspci", "-nn"))); len(devices) > 0 {
		facts.GPU.Present = true
		facts.GPU.Devices = devices
		facts.GPU.Source = "lspci"
		return
	}

	if HasNvidiaDeviceNodes(output(ctx, r, engine.NewCommand("ls", "/dev"))) {
		facts.GPU.Present = true
		facts.GPU.Source = "devfs"
	}
}

func (c *Collector) collectRuntimes(ctx context.Context, facts *engine.HostFacts) {
	if c.runtime != nil {
		names, def, err := c.runtime.Runtimes(ctx)
		if err == nil {
			facts.DockerRuntimes = names
			facts.DockerDefaultRuntime = def
			return
		}
		log.Debug().Err(err).Msg("Docker API unavailable, falling back to docker info")
	}

	names, def, err := DockerRuntimes(ctx, c.runner)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to list docker runtimes")
		return
	}
	facts.DockerRuntimes = names
	facts.DockerDefaultRuntime = def
}
