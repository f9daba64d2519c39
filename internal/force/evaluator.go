package force

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/openmm/openmm-onnx/engine"
	"github.com/openmm/openmm-onnx/internal/tensor"
)

// Vec3 is a position, box vector, or force component triple.
type Vec3 [3]float64

// Names of the fixed model inputs and outputs.
const (
	InputPositions = "positions"
	InputBox       = "box"
	OutputEnergy   = "energy"
	OutputForces   = "forces"
)

// Evaluator runs a Force through an inference session. It is created once
// per simulation context and then invoked synchronously every force
// evaluation. All tensors are allocated at creation and rewritten in place
// on each call; an Evaluator is not safe for concurrent use.
//
// The session input layout is fixed: positions, the periodic box (when the
// force is periodic), one scalar per global parameter, then the extra inputs
// in insertion order. The session must produce an "energy" scalar and a
// "forces" tensor with one triple per covered particle.
type Evaluator struct {
	session      engine.Session
	particles    []int
	numParticles int
	periodic     bool

	paramNames    []string
	paramDefaults []float64

	// Session input tensors, in binding order. The leading ones alias the
	// typed slices below.
	inputs    []*tensor.Tensor
	positions []float32   // len(particles)*3
	box       []float32   // 9, nil when not periodic
	params    [][]float32 // one single-element slice per global parameter
}

// NewEvaluator initializes an evaluation pipeline for f in a system of
// numParticles particles, opening a session on the given engine.
func NewEvaluator(f *Force, numParticles int, eng engine.Engine) (*Evaluator, error) {
	if numParticles <= 0 {
		return nil, fmt.Errorf("invalid particle count %d", numParticles)
	}

	// Resolve the particle subset. An empty list means all particles.
	particles := f.ParticleIndices()
	if len(particles) == 0 {
		particles = make([]int, numParticles)
		for i := range particles {
			particles[i] = i
		}
	} else {
		particles = append([]int(nil), particles...)
		for _, index := range particles {
			if index < 0 || index >= numParticles {
				return nil, fmt.Errorf("particle index %d out of range [0, %d)", index, numParticles)
			}
		}
	}

	e := &Evaluator{
		particles:    particles,
		numParticles: numParticles,
		periodic:     f.UsesPeriodicBoundaryConditions(),
	}

	// Build the fixed input layout.
	var bindings []engine.Binding
	addInput := func(name string, t *tensor.Tensor) {
		bindings = append(bindings, engine.Binding{Name: name, Shape: t.Shape(), DType: t.DType()})
		e.inputs = append(e.inputs, t)
	}

	posTensor, err := tensor.Zeros(tensor.Shape{len(particles), 3}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	e.positions = posTensor.Float32()
	addInput(InputPositions, posTensor)

	if e.periodic {
		boxTensor, err := tensor.Zeros(tensor.Shape{3, 3}, tensor.Float32)
		if err != nil {
			return nil, err
		}
		e.box = boxTensor.Float32()
		addInput(InputBox, boxTensor)
	}

	for i := 0; i < f.NumGlobalParameters(); i++ {
		name, err := f.GlobalParameterName(i)
		if err != nil {
			return nil, err
		}
		defaultValue, err := f.GlobalParameterDefaultValue(i)
		if err != nil {
			return nil, err
		}
		paramTensor, err := tensor.Zeros(tensor.Shape{1}, tensor.Float32)
		if err != nil {
			return nil, err
		}
		e.paramNames = append(e.paramNames, name)
		e.paramDefaults = append(e.paramDefaults, defaultValue)
		e.params = append(e.params, paramTensor.Float32())
		addInput(name, paramTensor)
	}

	for i := 0; i < f.NumInputs(); i++ {
		input, err := f.Input(i)
		if err != nil {
			return nil, err
		}
		t, err := input.tensorValue()
		if err != nil {
			return nil, err
		}
		addInput(input.Name(), t)
	}

	cfg, err := sessionConfig(f)
	if err != nil {
		return nil, err
	}
	session, err := eng.Open(engine.Spec{
		Model:   f.Model(),
		Inputs:  bindings,
		Outputs: []string{OutputEnergy, OutputForces},
	}, cfg)
	if err != nil {
		return nil, err
	}
	e.session = session
	return e, nil
}

// sessionConfig translates the force's provider and properties into a
// session configuration.
func sessionConfig(f *Force) (engine.Config, error) {
	props := f.Properties()
	deviceIndex, err := strconv.Atoi(props[PropertyDeviceIndex])
	if err != nil || deviceIndex < 0 {
		return engine.Config{}, fmt.Errorf("illegal value for %s: %q", PropertyDeviceIndex, props[PropertyDeviceIndex])
	}
	var graphCapture bool
	switch props[PropertyUseGraphs] {
	case "true":
		graphCapture = true
	case "false":
		graphCapture = false
	default:
		return engine.Config{}, fmt.Errorf("illegal value for %s: %q", PropertyUseGraphs, props[PropertyUseGraphs])
	}
	return engine.Config{
		Provider:     f.ExecutionProvider(),
		DeviceIndex:  deviceIndex,
		GraphCapture: graphCapture,
	}, nil
}

// Particles returns the resolved indices of the particles the force covers.
func (e *Evaluator) Particles() []int {
	return e.particles
}

// Compute performs one force evaluation. It marshals the current positions,
// box vectors, and parameter values into the session's input tensors, runs
// the model once, writes the per-particle forces into forces (particles not
// covered by the force get zero), and returns the potential energy.
//
// box must be non-nil when the force uses periodic boundary conditions.
// Parameter values missing from params fall back to their declared defaults.
func (e *Evaluator) Compute(positions []Vec3, box *[3]Vec3, params map[string]float64, forces []Vec3) (float64, error) {
	if len(positions) != e.numParticles {
		return 0, fmt.Errorf("got %d positions, want %d", len(positions), e.numParticles)
	}
	if len(forces) != e.numParticles {
		return 0, fmt.Errorf("got force buffer of length %d, want %d", len(forces), e.numParticles)
	}

	for i, index := range e.particles {
		e.positions[3*i] = float32(positions[index][0])
		e.positions[3*i+1] = float32(positions[index][1])
		e.positions[3*i+2] = float32(positions[index][2])
	}
	if e.periodic {
		if box == nil {
			return 0, errors.New("force uses periodic boundary conditions but no box vectors were given")
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				e.box[3*i+j] = float32(box[i][j])
			}
		}
	}
	for i, name := range e.paramNames {
		value, ok := params[name]
		if !ok {
			value = e.paramDefaults[i]
		}
		e.params[i][0] = float32(value)
	}

	outputs, err := e.session.Run(e.inputs)
	if err != nil {
		return 0, fmt.Errorf("run model: %w", err)
	}
	if len(outputs) != 2 {
		return 0, fmt.Errorf("model returned %d outputs, want 2", len(outputs))
	}
	energy := outputs[0]
	if energy.DType() != tensor.Float32 || energy.NumElements() != 1 {
		return 0, fmt.Errorf("model output %q must be a float32 scalar, got %v %v",
			OutputEnergy, energy.DType(), energy.Shape())
	}
	forceData := outputs[1]
	if forceData.DType() != tensor.Float32 || forceData.NumElements() != 3*len(e.particles) {
		return 0, fmt.Errorf("model output %q must hold %d float32 values, got %v %v",
			OutputForces, 3*len(e.particles), forceData.DType(), forceData.Shape())
	}

	for i := range forces {
		forces[i] = Vec3{}
	}
	data := forceData.Float32()
	for i, index := range e.particles {
		forces[index] = Vec3{
			float64(data[3*i]),
			float64(data[3*i+1]),
			float64(data[3*i+2]),
		}
	}
	return float64(energy.Float32()[0]), nil
}

// Close releases the session backing the evaluator.
func (e *Evaluator) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
