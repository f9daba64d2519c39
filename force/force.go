// Package force provides the public API of the ONNX neural-network
// potential.
//
// A Force holds a model in ONNX format together with the configuration for
// feeding it: the execution provider, an optional particle subset, an
// optional periodic box, global parameters, and extra constant tensors. An
// Evaluator binds a Force to an inference engine and computes energy and
// forces once per simulation step.
//
// Example:
//
//	f, err := force.NewFromFile("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	f.AddGlobalParameter("k", 2.0)
//
//	eval, err := force.NewEvaluator(f, len(positions), ort.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eval.Close()
//
//	forces := make([]force.Vec3, len(positions))
//	energy, err := eval.Compute(positions, nil, nil, forces)
package force

import (
	"github.com/openmm/openmm-onnx/engine"
	forceimpl "github.com/openmm/openmm-onnx/internal/force"
	"github.com/openmm/openmm-onnx/internal/tensor"
)

// Force describes a neural-network potential defined by a model in ONNX
// format.
type Force = forceimpl.Force

// Evaluator runs a Force through an inference session, once per force
// evaluation.
type Evaluator = forceimpl.Evaluator

// Vec3 is a position, box vector, or force component triple.
type Vec3 = forceimpl.Vec3

// Input is an extra tensor passed to the model on every evaluation.
type Input = forceimpl.Input

// IntegerInput is an extra input holding integer values.
type IntegerInput = forceimpl.IntegerInput

// FloatInput is an extra input holding floating point values.
type FloatInput = forceimpl.FloatInput

// Shape declares the dimensions of an extra input tensor.
type Shape = tensor.Shape

// ExecutionProvider is a selectable hardware backend for running the model.
type ExecutionProvider = engine.Provider

// Execution providers.
const (
	// Default selects an execution provider automatically, based on which
	// ones are available.
	Default = engine.ProviderDefault
	// CPU computes the model on the CPU, the only provider that is always
	// available.
	CPU = engine.ProviderCPU
	// CUDA is only available on NVIDIA GPUs.
	CUDA = engine.ProviderCUDA
	// TensorRT is only available on NVIDIA GPUs with TensorRT installed.
	TensorRT = engine.ProviderTensorRT
	// ROCm is most often used for AMD GPUs.
	ROCm = engine.ProviderROCm
)

// Property names accepted by a Force.
const (
	PropertyUseGraphs   = forceimpl.PropertyUseGraphs
	PropertyDeviceIndex = forceimpl.PropertyDeviceIndex
)

// Names of the fixed model inputs and outputs.
const (
	InputPositions = forceimpl.InputPositions
	InputBox       = forceimpl.InputBox
	OutputEnergy   = forceimpl.OutputEnergy
	OutputForces   = forceimpl.OutputForces
)

// New creates a Force from the binary representation of a model in ONNX
// format. An optional properties map overrides default property values.
func New(model []byte, properties ...map[string]string) (*Force, error) {
	return forceimpl.New(model, properties...)
}

// NewFromFile creates a Force by loading the model from a file.
func NewFromFile(path string, properties ...map[string]string) (*Force, error) {
	return forceimpl.NewFromFile(path, properties...)
}

// NewIntegerInput creates an extra input holding integer values in flattened
// order.
func NewIntegerInput(name string, values []int64, shape Shape) *IntegerInput {
	return forceimpl.NewIntegerInput(name, values, shape)
}

// NewFloatInput creates an extra input holding float values in flattened
// order.
func NewFloatInput(name string, values []float32, shape Shape) *FloatInput {
	return forceimpl.NewFloatInput(name, values, shape)
}

// NewEvaluator initializes an evaluation pipeline for f in a system of
// numParticles particles, opening a session on the given engine.
func NewEvaluator(f *Force, numParticles int, eng engine.Engine) (*Evaluator, error) {
	return forceimpl.NewEvaluator(f, numParticles, eng)
}
