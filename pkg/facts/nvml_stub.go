//go:build !cuda

package facts

// NewNVMLProbe returns nil when built without the cuda tag; the collector
// then relies on nvidia-smi and lspci.
func NewNVMLProbe() GPUProbe {
	return nil
}
