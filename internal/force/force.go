// Package force implements the neural-network potential: a Force
// configuration object and the Evaluator that runs it through an inference
// session once per force evaluation.
package force

import (
	"fmt"
	"os"

	"github.com/openmm/openmm-onnx/engine"
)

// Property names accepted by a Force.
const (
	// PropertyUseGraphs toggles the execution provider's graph-capture
	// mode. Value must be "true" or "false".
	PropertyUseGraphs = "UseGraphs"
	// PropertyDeviceIndex selects the device the model runs on. Value must
	// be a decimal integer.
	PropertyDeviceIndex = "DeviceIndex"
)

// Force describes a neural-network potential: the model that computes it and
// the configuration for feeding it. A Force is inert until an Evaluator is
// built from it.
type Force struct {
	model     []byte
	provider  engine.Provider
	periodic  bool
	particles []int
	globals   []globalParameter
	inputs    []Input
	props     map[string]string
	group     int
}

type globalParameter struct {
	name         string
	defaultValue float64
}

// New creates a Force from the binary representation of a model. An optional
// properties map overrides the default property values; unknown property
// names are rejected.
func New(model []byte, properties ...map[string]string) (*Force, error) {
	f := &Force{
		model: model,
		props: map[string]string{
			PropertyUseGraphs:   "false",
			PropertyDeviceIndex: "0",
		},
	}
	for _, props := range properties {
		for name, value := range props {
			if err := f.SetProperty(name, value); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// NewFromFile creates a Force by loading the model from a file.
func NewFromFile(path string, properties ...map[string]string) (*Force, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return New(model, properties...)
}

// Model returns the binary representation of the model. The returned slice is
// the Force's own copy; callers must not modify it.
func (f *Force) Model() []byte {
	return f.model
}

// ExecutionProvider returns the execution provider used to compute the model.
func (f *Force) ExecutionProvider() engine.Provider {
	return f.provider
}

// SetExecutionProvider sets the execution provider used to compute the model.
func (f *Force) SetExecutionProvider(provider engine.Provider) {
	f.provider = provider
}

// ParticleIndices returns the indices of the particles the force applies to.
// An empty slice means the force applies to all particles in the system.
func (f *Force) ParticleIndices() []int {
	return f.particles
}

// SetParticleIndices sets the indices of the particles the force applies to.
// Pass an empty slice to apply the force to all particles.
func (f *Force) SetParticleIndices(indices []int) {
	f.particles = append([]int(nil), indices...)
}

// UsesPeriodicBoundaryConditions reports whether the model receives the
// periodic box vectors as an input.
func (f *Force) UsesPeriodicBoundaryConditions() bool {
	return f.periodic
}

// SetUsesPeriodicBoundaryConditions sets whether the model receives the
// periodic box vectors as an input.
func (f *Force) SetUsesPeriodicBoundaryConditions(periodic bool) {
	f.periodic = periodic
}

// NumGlobalParameters returns the number of global parameters the potential
// depends on.
func (f *Force) NumGlobalParameters() int {
	return len(f.globals)
}

// AddGlobalParameter adds a new global parameter the potential may depend on.
// The default value is used whenever an evaluation does not supply one.
// It returns the index of the parameter that was added.
func (f *Force) AddGlobalParameter(name string, defaultValue float64) int {
	f.globals = append(f.globals, globalParameter{name: name, defaultValue: defaultValue})
	return len(f.globals) - 1
}

// GlobalParameterName returns the name of a global parameter.
func (f *Force) GlobalParameterName(index int) (string, error) {
	if index < 0 || index >= len(f.globals) {
		return "", fmt.Errorf("global parameter index %d out of range [0, %d)", index, len(f.globals))
	}
	return f.globals[index].name, nil
}

// SetGlobalParameterName sets the name of a global parameter.
func (f *Force) SetGlobalParameterName(index int, name string) error {
	if index < 0 || index >= len(f.globals) {
		return fmt.Errorf("global parameter index %d out of range [0, %d)", index, len(f.globals))
	}
	f.globals[index].name = name
	return nil
}

// GlobalParameterDefaultValue returns the default value of a global parameter.
func (f *Force) GlobalParameterDefaultValue(index int) (float64, error) {
	if index < 0 || index >= len(f.globals) {
		return 0, fmt.Errorf("global parameter index %d out of range [0, %d)", index, len(f.globals))
	}
	return f.globals[index].defaultValue, nil
}

// SetGlobalParameterDefaultValue sets the default value of a global parameter.
func (f *Force) SetGlobalParameterDefaultValue(index int, defaultValue float64) error {
	if index < 0 || index >= len(f.globals) {
		return fmt.Errorf("global parameter index %d out of range [0, %d)", index, len(f.globals))
	}
	f.globals[index].defaultValue = defaultValue
	return nil
}

// DefaultParameters returns the declared global parameters mapped to their
// default values, the initial parameter table of a newly created context.
func (f *Force) DefaultParameters() map[string]float64 {
	params := make(map[string]float64, len(f.globals))
	for _, g := range f.globals {
		params[g.name] = g.defaultValue
	}
	return params
}

// NumInputs returns the number of extra tensors passed to the model.
func (f *Force) NumInputs() int {
	return len(f.inputs)
}

// AddInput adds an extra tensor that is passed to the model on every
// evaluation. The input's values are held constant across evaluations.
// It returns the index of the input that was added.
func (f *Force) AddInput(input Input) int {
	f.inputs = append(f.inputs, input)
	return len(f.inputs) - 1
}

// Input returns an extra input by index.
func (f *Force) Input(index int) (Input, error) {
	if index < 0 || index >= len(f.inputs) {
		return nil, fmt.Errorf("input index %d out of range [0, %d)", index, len(f.inputs))
	}
	return f.inputs[index], nil
}

// SetProperty sets the value of a property. The property name must be one of
// the names the Force was created with; unknown names are rejected.
func (f *Force) SetProperty(name, value string) error {
	if _, ok := f.props[name]; !ok {
		return fmt.Errorf("unknown property %q", name)
	}
	f.props[name] = value
	return nil
}

// Properties returns a copy of the property map.
func (f *Force) Properties() map[string]string {
	props := make(map[string]string, len(f.props))
	for name, value := range f.props {
		props[name] = value
	}
	return props
}

// ForceGroup returns the force group this force belongs to.
func (f *Force) ForceGroup() int {
	return f.group
}

// SetForceGroup sets the force group this force belongs to.
func (f *Force) SetForceGroup(group int) {
	f.group = group
}
