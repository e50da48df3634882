package facts

import "github.com/openfroyo/hostprep/pkg/engine"

// GPUProbe reads GPU state directly from the driver library instead of
// parsing tool output. It is only used for the local host.
type GPUProbe interface {
	Probe() (*engine.GPUFacts, error)
}
