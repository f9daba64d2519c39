package engine

import "fmt"

// Provider is a selectable hardware backend for running a model.
type Provider int

const (
	// ProviderDefault selects an execution provider automatically, based on
	// which ones are available. Usually this selects the fastest one.
	ProviderDefault Provider = iota
	// ProviderCPU computes the model on the CPU. This is the only provider
	// that is guaranteed to always be available.
	ProviderCPU
	// ProviderCUDA runs the model with the CUDA execution provider. Only
	// available on NVIDIA GPUs.
	ProviderCUDA
	// ProviderTensorRT runs the model with the TensorRT execution provider.
	// Only available on NVIDIA GPUs with TensorRT installed.
	ProviderTensorRT
	// ProviderROCm runs the model with the ROCm execution provider, most
	// often used for AMD GPUs.
	ProviderROCm
)

// String returns the provider's canonical name.
func (p Provider) String() string {
	switch p {
	case ProviderDefault:
		return "default"
	case ProviderCPU:
		return "cpu"
	case ProviderCUDA:
		return "cuda"
	case ProviderTensorRT:
		return "tensorrt"
	case ProviderROCm:
		return "rocm"
	default:
		return fmt.Sprintf("provider(%d)", int(p))
	}
}

// ParseProvider converts a provider name to a Provider. Names match the
// String form and are case-sensitive.
func ParseProvider(name string) (Provider, error) {
	switch name {
	case "", "default":
		return ProviderDefault, nil
	case "cpu":
		return ProviderCPU, nil
	case "cuda":
		return ProviderCUDA, nil
	case "tensorrt":
		return ProviderTensorRT, nil
	case "rocm":
		return ProviderROCm, nil
	default:
		return ProviderDefault, fmt.Errorf("unknown execution provider %q", name)
	}
}
