package facts

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// fakeRunner answers commands by their rendered command line.
type fakeRunner struct {
	outputs map[string]string
	calls   int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: make(map[string]string)}
}

func (f *fakeRunner) on(out string, name string, args ...string) *fakeRunner {
	f.outputs[engine.NewCommand(name, args...).String()] = out
	return f
}

func (f *fakeRunner) present(names ...string) *fakeRunner {
	for _, n := range names {
		f.on("/usr/bin/"+n, "sh", "-c", "command -v "+n)
	}
	return f
}

func (f *fakeRunner) Run(_ context.Context, cmd engine.Command) (*engine.CommandOutput, error) {
	f.calls++
	if out, ok := f.outputs[cmd.String()]; ok {
		return &engine.CommandOutput{Stdout: out}, nil
	}
	return &engine.CommandOutput{ExitCode: 127}, engine.NewActionError(cmd.Name+" not found", nil)
}

type fakeGPUProbe struct {
	gpu *engine.GPUFacts
	err error
}

func (f fakeGPUProbe) Probe() (*engine.GPUFacts, error) { return f.gpu, f.err }

type fakeRuntimeProbe struct {
	names []string
	def   string
	err   error
}

func (f fakeRuntimeProbe) Runtimes(context.Context) ([]string, string, error) {
	return f.names, f.def, f.err
}

func gpuHost() *fakeRunner {
	return newFakeRunner().
		on(ubuntuOSRelease, "cat", "/etc/os-release").
		on("gpu-01\n", "hostname").
		on("6.5.0-14-generic\n", "uname", "-r").
		on("x86_64\n", "uname", "-m").
		present("nvidia-smi", "docker", "systemctl", "lspci").
		on(nvidiaSMIOutput, "nvidia-smi").
		on("0, NVIDIA A100-PCIE-40GB, GPU-1234, 00000000:41:00.0, 40960\n",
			"nvidia-smi", "--query-gpu=index,name,uuid,pci.bus_id,memory.total", "--format=csv,noheader,nounits").
		on("Docker version 24.0.7, build afdd53b\n", "docker", "--version").
		on("2.21.0\n", "docker", "compose", "version", "--short").
		on(`{"default":"runc","runtimes":{"runc":{"path":"runc"}}}`, "docker", "info", "--format", dockerInfoFormat)
}

func TestCollect_GPUHost(t *testing.T) {
	facts, err := NewCollector(gpuHost()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if facts.OS.ID != "ubuntu" || facts.OS.Family != "debian" || facts.PackageManager != "apt" {
		t.Errorf("Unexpected OS facts: %+v pm=%s", facts.OS, facts.PackageManager)
	}
	if facts.Hostname != "gpu-01" || facts.Arch != "x86_64" {
		t.Errorf("Unexpected host identity: %s %s", facts.Hostname, facts.Arch)
	}
	if !facts.GPU.Present || facts.GPU.Source != "nvidia-smi" || len(facts.GPU.Devices) != 1 {
		t.Errorf("Unexpected GPU facts: %+v", facts.GPU)
	}
	if facts.GPU.DriverVersion != "535.104.05" || facts.CUDAVersion() != "12.2" {
		t.Errorf("driver=%q cuda=%q", facts.GPU.DriverVersion, facts.CUDAVersion())
	}
	if !facts.HasCommand("docker") || facts.HasCommand("nvidia-ctk") || !facts.HasCommand(ComposeKey) {
		t.Errorf("Unexpected commands: %v", facts.Commands)
	}
	if facts.Version("docker") != "24.0.7" || facts.Version(ComposeKey) != "2.21.0" {
		t.Errorf("Unexpected versions: %v", facts.Versions)
	}
	if !facts.HasRuntime("runc") || facts.HasRuntime("nvidia") || facts.DockerDefaultRuntime != "runc" {
		t.Errorf("Unexpected runtimes: %v default=%s", facts.DockerRuntimes, facts.DockerDefaultRuntime)
	}
	if facts.CollectedAt.IsZero() {
		t.Error("CollectedAt not set")
	}
}

func TestCollect_NoGPU(t *testing.T) {
	r := newFakeRunner().
		on("ID=debian\nVERSION_ID=\"12\"\n", "cat", "/etc/os-release").
		present("lspci").
		on("00:02.0 VGA compatible controller [0300]: Intel Corporation [8086:3e92]\n", "lspci", "-nn").
		on("null\nnvidiactl\n", "ls", "/dev")

	facts, err := NewCollector(r).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if facts.GPU.Present {
		t.Errorf("Expected no GPU, got %+v", facts.GPU)
	}
	if facts.CUDAVersion() != "" || facts.HasCommand("docker") || facts.HasCommand(ComposeKey) {
		t.Errorf("Absent tools must be recorded as absent: %+v", facts)
	}
}

func TestCollect_FallsBackToLspciAndDevNodes(t *testing.T) {
	r := newFakeRunner().
		on("ID=fedora\nVERSION_ID=40\n", "cat", "/etc/os-release").
		on("01:00.0 3D controller [0302]: NVIDIA Corporation TU104GL [Tesla T4] [10de:1eb8] (rev a1)\n", "lspci", "-nn")

	facts, err := NewCollector(r).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !facts.GPU.Present || facts.GPU.Source != "lspci" || facts.PackageManager != "dnf" {
		t.Errorf("Unexpected facts: gpu=%+v pm=%s", facts.GPU, facts.PackageManager)
	}

	r = newFakeRunner().
		on("ID=fedora\nVERSION_ID=40\n", "cat", "/etc/os-release").
		on("null\nnvidia0\nnvidiactl\n", "ls", "/dev")
	facts, err = NewCollector(r).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !facts.GPU.Present || facts.GPU.Source != "devfs" {
		t.Errorf("Expected devfs detection, got %+v", facts.GPU)
	}
}

func TestCollect_UnsupportedOS(t *testing.T) {
	tests := map[string]*fakeRunner{
		"unreadable":  newFakeRunner(),
		"no id":       newFakeRunner().on("NAME=Mystery\n", "cat", "/etc/os-release"),
		"unsupported": newFakeRunner().on("ID=alpine\nVERSION_ID=3.19\n", "cat", "/etc/os-release"),
	}
	for name, r := range tests {
		_, err := NewCollector(r).Collect(context.Background())
		if !engine.IsFactUnavailable(err) {
			t.Errorf("%s: expected FACT_UNAVAILABLE, got %v", name, err)
		}
		if !engine.IsFatal(err) {
			t.Errorf("%s: expected fatal error", name)
		}
	}
}

func TestCollect_Cached(t *testing.T) {
	r := gpuHost()
	c := NewCollector(r)

	first, err := c.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	calls := r.calls

	second, err := c.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.calls != calls {
		t.Error("Second Collect must return cached facts without probing")
	}
	if first == second || !reflect.DeepEqual(first, second) {
		t.Error("Second Collect must return an equal copy")
	}

	first.Commands["nvcc"] = true
	first.Versions["docker"] = "0.0.1"
	first.DockerRuntimes[0] = "nvidia"
	third, err := c.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if third.Commands["nvcc"] || third.Versions["docker"] != "24.0.7" || third.DockerRuntimes[0] != "runc" {
		t.Errorf("Changes to returned facts leaked into the cache: %+v", third)
	}

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.calls == calls {
		t.Error("Refresh must probe again")
	}
}

func TestCollect_ProbesPreferred(t *testing.T) {
	gpu := &engine.GPUFacts{
		Present:       true,
		Source:        "nvml",
		DriverVersion: "550.54.15",
		CUDAVersion:   "12.4",
		Devices:       []engine.GPUDevice{{Index: 0, Name: "NVIDIA H100"}},
	}
	c := NewCollector(gpuHost(),
		WithGPUProbe(fakeGPUProbe{gpu: gpu}),
		WithRuntimeProbe(fakeRuntimeProbe{names: []string{"nvidia", "runc"}, def: "nvidia"}),
	)

	facts, err := c.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if facts.GPU.Source != "nvml" || facts.CUDAVersion() != "12.4" {
		t.Errorf("Expected NVML facts, got %+v", facts.GPU)
	}
	if facts.DockerDefaultRuntime != "nvidia" || !facts.HasRuntime("nvidia") {
		t.Errorf("Expected API runtimes, got %v", facts.DockerRuntimes)
	}
}

func TestCollect_ProbeFailuresFallBack(t *testing.T) {
	c := NewCollector(gpuHost(),
		WithGPUProbe(fakeGPUProbe{err: errors.New("libnvidia-ml.so not found")}),
		WithRuntimeProbe(fakeRuntimeProbe{err: errors.New("daemon not running")}),
	)

	facts, err := c.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if facts.GPU.Source != "nvidia-smi" {
		t.Errorf("Expected nvidia-smi fallback, got %q", facts.GPU.Source)
	}
	if facts.DockerDefaultRuntime != "runc" {
		t.Errorf("Expected docker CLI fallback, got %q", facts.DockerDefaultRuntime)
	}
}

func TestProbeCUDAVersion(t *testing.T) {
	ctx := context.Background()

	if got := ProbeCUDAVersion(ctx, gpuHost()); got != "12.2" {
		t.Errorf("nvidia-smi: got %q", got)
	}

	r := newFakeRunner().on("nvcc: NVIDIA (R) Cuda compiler driver\nCuda compilation tools, release 11.8, V11.8.89\n",
		"/usr/local/cuda/bin/nvcc", "--version")
	if got := ProbeCUDAVersion(ctx, r); got != "11.8" {
		t.Errorf("nvcc fallback: got %q", got)
	}

	if got := ProbeCUDAVersion(ctx, newFakeRunner()); got != "" {
		t.Errorf("Expected empty version, got %q", got)
	}
}
