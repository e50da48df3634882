//go:build cuda

package facts

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/version"
	"github.com/rs/zerolog/log"
)

// DeviceInterface is the subset of nvml.Device the probe uses.
type DeviceInterface interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
}

// NVMLInterface is the subset of the NVML API the probe uses.
type NVMLInterface interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (DeviceInterface, nvml.Return)
	SystemGetDriverVersion() (string, nvml.Return)
	SystemGetCudaDriverVersion() (int, nvml.Return)
}

type realNVML struct{}

func (realNVML) Init() nvml.Return                  { return nvml.Init() }
func (realNVML) Shutdown() nvml.Return              { return nvml.Shutdown() }
func (realNVML) DeviceGetCount() (int, nvml.Return) { return nvml.DeviceGetCount() }

func (realNVML) DeviceGetHandleByIndex(index int) (DeviceInterface, nvml.Return) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return device, ret
}

func (realNVML) SystemGetDriverVersion() (string, nvml.Return) {
	return nvml.SystemGetDriverVersion()
}

func (realNVML) SystemGetCudaDriverVersion() (int, nvml.Return) {
	return nvml.SystemGetCudaDriverVersion()
}

// NVMLProbe reads GPU facts through NVML.
type NVMLProbe struct {
	nvml NVMLInterface
}

// NewNVMLProbe creates a probe backed by the system NVML library.
func NewNVMLProbe() GPUProbe {
	return &NVMLProbe{nvml: realNVML{}}
}

// NewNVMLProbeWith creates a probe with a custom NVML implementation.
func NewNVMLProbeWith(n NVMLInterface) *NVMLProbe {
	return &NVMLProbe{nvml: n}
}

// Probe implements GPUProbe.
func (p *NVMLProbe) Probe() (*engine.GPUFacts, error) {
	if ret := p.nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
	}
	defer p.nvml.Shutdown()

	gpu := &engine.GPUFacts{Source: "nvml"}

	if v, ret := p.nvml.SystemGetDriverVersion(); ret == nvml.SUCCESS {
		gpu.DriverVersion = v
	}
	if v, ret := p.nvml.SystemGetCudaDriverVersion(); ret == nvml.SUCCESS {
		gpu.CUDAVersion = version.FromCUDADriverInt(v).String()
	}

	count, ret := p.nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device count: %s", nvml.ErrorString(ret))
	}

	for i := 0; i < count; i++ {
		device, ret := p.nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			log.Warn().Int("index", i).Str("error", nvml.ErrorString(ret)).Msg("Failed to get GPU handle")
			continue
		}

		d := engine.GPUDevice{Index: i}
		if name, ret := device.GetName(); ret == nvml.SUCCESS {
			d.Name = name
		}
		if uuid, ret := device.GetUUID(); ret == nvml.SUCCESS {
			d.UUID = uuid
		}
		if mem, ret := device.GetMemoryInfo(); ret == nvml.SUCCESS {
			d.MemoryMB = mem.Total / (1024 * 1024)
		}
		gpu.Devices = append(gpu.Devices, d)
	}

	gpu.Present = len(gpu.Devices) > 0
	return gpu, nil
}
