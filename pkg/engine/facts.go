package engine

import (
	"sort"
	"time"
)

// HostFacts is the observed state of a host, collected once per run.
// Consumers must treat it as read-only; use Clone to derive a modified copy.
type HostFacts struct {
	// Hostname of the target host.
	Hostname string `json:"hostname" yaml:"hostname"`

	// Kernel release as reported by uname -r.
	Kernel string `json:"kernel,omitempty" yaml:"kernel,omitempty"`

	// Arch is the machine architecture as reported by uname -m.
	Arch string `json:"arch,omitempty" yaml:"arch,omitempty"`

	// OS describes the distribution.
	OS OSFacts `json:"os" yaml:"os"`

	// PackageManager is apt, dnf, yum or zypper.
	PackageManager string `json:"package_manager" yaml:"package_manager"`

	// GPU describes NVIDIA GPU hardware and driver state.
	GPU GPUFacts `json:"gpu" yaml:"gpu"`

	// CUDAToolkitVersion is the nvcc release, if installed.
	CUDAToolkitVersion string `json:"cuda_toolkit_version,omitempty" yaml:"cuda_toolkit_version,omitempty"`

	// Commands maps probed command names to their presence.
	Commands map[string]bool `json:"commands" yaml:"commands"`

	// Versions maps tool names to the version text they reported.
	Versions map[string]string `json:"versions" yaml:"versions"`

	// DockerRuntimes lists runtimes registered with the Docker daemon.
	DockerRuntimes []string `json:"docker_runtimes,omitempty" yaml:"docker_runtimes,omitempty"`

	// DockerDefaultRuntime is the daemon's default runtime.
	DockerDefaultRuntime string `json:"docker_default_runtime,omitempty" yaml:"docker_default_runtime,omitempty"`

	// CollectedAt is when the probes ran.
	CollectedAt time.Time `json:"collected_at" yaml:"collected_at"`
}

// OSFacts contains distribution information from os-release.
type OSFacts struct {
	ID         string   `json:"id" yaml:"id"`
	VersionID  string   `json:"version_id" yaml:"version_id"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	PrettyName string   `json:"pretty_name,omitempty" yaml:"pretty_name,omitempty"`
	Like       []string `json:"like,omitempty" yaml:"like,omitempty"`
	Family     string   `json:"family" yaml:"family"`
}

// GPUFacts contains NVIDIA GPU information.
type GPUFacts struct {
	// Present is true when at least one NVIDIA GPU was detected.
	Present bool `json:"present" yaml:"present"`

	// Devices lists detected GPUs.
	Devices []GPUDevice `json:"devices,omitempty" yaml:"devices,omitempty"`

	// DriverVersion is the kernel driver version, if loaded.
	DriverVersion string `json:"driver_version,omitempty" yaml:"driver_version,omitempty"`

	// CUDAVersion is the highest CUDA version the driver supports.
	CUDAVersion string `json:"cuda_version,omitempty" yaml:"cuda_version,omitempty"`

	// Source names the probe that found the GPU (nvml, nvidia-smi, lspci, devfs).
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// GPUDevice describes one GPU.
type GPUDevice struct {
	Index      int    `json:"index" yaml:"index"`
	Name       string `json:"name" yaml:"name"`
	UUID       string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	PCIAddress string `json:"pci_address,omitempty" yaml:"pci_address,omitempty"`
	MemoryMB   uint64 `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
}

// HasCommand reports whether the command was found on the host.
func (f *HostFacts) HasCommand(name string) bool {
	if f == nil {
		return false
	}
	return f.Commands[name]
}

// Version returns the version text a tool reported, or "".
func (f *HostFacts) Version(tool string) string {
	if f == nil {
		return ""
	}
	return f.Versions[tool]
}

// HasRuntime reports whether the Docker daemon has the named runtime registered.
func (f *HostFacts) HasRuntime(name string) bool {
	if f == nil {
		return false
	}
	for _, r := range f.DockerRuntimes {
		if r == name {
			return true
		}
	}
	return false
}

// CUDAVersion returns the best known CUDA version: the driver's supported
// version first, then the installed toolkit release.
func (f *HostFacts) CUDAVersion() string {
	if f == nil {
		return ""
	}
	if f.GPU.CUDAVersion != "" {
		return f.GPU.CUDAVersion
	}
	return f.CUDAToolkitVersion
}

// GPUModels returns the names of detected GPUs.
func (f *HostFacts) GPUModels() []string {
	if f == nil {
		return nil
	}
	models := make([]string, 0, len(f.GPU.Devices))
	for _, d := range f.GPU.Devices {
		models = append(models, d.Name)
	}
	return models
}

// CommandNames returns the probed command names, sorted.
func (f *HostFacts) CommandNames() []string {
	names := make([]string, 0, len(f.Commands))
	for name := range f.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (f *HostFacts) Clone() *HostFacts {
	if f == nil {
		return nil
	}
	c := *f
	c.OS.Like = append([]string(nil), f.OS.Like...)
	c.GPU.Devices = append([]GPUDevice(nil), f.GPU.Devices...)
	c.DockerRuntimes = append([]string(nil), f.DockerRuntimes...)
	c.Commands = make(map[string]bool, len(f.Commands))
	for k, v := range f.Commands {
		c.Commands[k] = v
	}
	c.Versions = make(map[string]string, len(f.Versions))
	for k, v := range f.Versions {
		c.Versions[k] = v
	}
	return &c
}
