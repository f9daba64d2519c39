// Package engine defines the interface between the force plugin and a tensor
// inference runtime.
//
// An Engine opens Sessions: one session per force, created once at
// initialization with a fixed, ordered input layout and a fixed list of
// output names. Each force evaluation then rewrites the session's input
// buffers in place and calls Run.
//
// The production implementation backed by ONNX Runtime lives in engine/ort.
// Tests substitute fake engines that evaluate analytic potentials.
package engine

import (
	"errors"

	"github.com/openmm/openmm-onnx/internal/tensor"
)

// ErrProviderUnavailable is returned when an explicitly requested execution
// provider cannot be used on this machine.
var ErrProviderUnavailable = errors.New("execution provider is not available")

// Binding declares one input tensor of a session: its name, shape, and type.
// The order of bindings fixes the order in which tensors are passed to Run.
type Binding struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DataType
}

// Spec describes the session to open: the model blob, the ordered input
// layout, and the names of the outputs to fetch on every run.
type Spec struct {
	Model   []byte
	Inputs  []Binding
	Outputs []string
}

// Config holds the execution options of a session.
type Config struct {
	// Provider selects the hardware backend. ProviderDefault picks the
	// fastest available one.
	Provider Provider
	// DeviceIndex selects the device when the provider supports more than
	// one (GPU index).
	DeviceIndex int
	// GraphCapture enables the provider's graph-capture mode, replaying the
	// model as a captured device graph instead of launching kernels
	// individually.
	GraphCapture bool
}

// Engine opens inference sessions.
type Engine interface {
	// Open creates a session for the given model and layout. The returned
	// session is not safe for concurrent use.
	Open(spec Spec, cfg Config) (Session, error)
}

// Session is a single loaded model ready to run. Input tensors are matched
// positionally against the Spec's bindings.
type Session interface {
	// Run executes the model once and returns the output tensors in the
	// order of Spec.Outputs.
	Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	// Close releases the session's resources.
	Close() error
}
