package force

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmm/openmm-onnx/engine"
	"github.com/openmm/openmm-onnx/internal/tensor"
)

// fakeEngine evaluates analytic potentials in place of a real inference
// runtime, so evaluator tests cover the marshaling layer and nothing else.
type fakeEngine struct {
	spec    engine.Spec
	cfg     engine.Config
	openErr error
	session *fakeSession

	// compute maps named inputs to (energy, flattened forces). Defaults to
	// centralPotential.
	compute func(in map[string]*tensor.Tensor) (float64, []float64, error)
}

func (fe *fakeEngine) Open(spec engine.Spec, cfg engine.Config) (engine.Session, error) {
	fe.spec = spec
	fe.cfg = cfg
	if fe.openErr != nil {
		return nil, fe.openErr
	}
	compute := fe.compute
	if compute == nil {
		compute = centralPotential
	}
	fe.session = &fakeSession{spec: spec, compute: compute}
	return fe.session, nil
}

type fakeSession struct {
	spec    engine.Spec
	compute func(in map[string]*tensor.Tensor) (float64, []float64, error)

	runs      int
	lastInput *tensor.Tensor
	closed    bool
	runErr    error
}

func (fs *fakeSession) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	fs.runs++
	if len(inputs) > 0 {
		fs.lastInput = inputs[0]
	}
	if fs.runErr != nil {
		return nil, fs.runErr
	}
	named := make(map[string]*tensor.Tensor, len(inputs))
	for i, binding := range fs.spec.Inputs {
		named[binding.Name] = inputs[i]
	}
	energy, forces, err := fs.compute(named)
	if err != nil {
		return nil, err
	}
	energyTensor, err := tensor.NewFloat32(tensor.Shape{1}, []float32{float32(energy)})
	if err != nil {
		return nil, err
	}
	forceValues := make([]float32, len(forces))
	for i, v := range forces {
		forceValues[i] = float32(v)
	}
	forceTensor, err := tensor.NewFloat32(tensor.Shape{len(forces) / 3, 3}, forceValues)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{energyTensor, forceTensor}, nil
}

func (fs *fakeSession) Close() error {
	fs.closed = true
	return nil
}

// centralPotential implements E = k * sum |r|^2 with forces -2k*r, the
// analytic potential of the reference networks. When a "box" input is
// present, coordinates are wrapped into the box (diagonal part only).
func centralPotential(in map[string]*tensor.Tensor) (float64, []float64, error) {
	positions := in[InputPositions].Float32()
	k := 1.0
	if t, ok := in["k"]; ok {
		k = float64(t.Float32()[0])
	}
	var box []float32
	if t, ok := in[InputBox]; ok {
		box = t.Float32()
	}

	energy := 0.0
	forces := make([]float64, len(positions))
	for i := 0; i < len(positions); i += 3 {
		for j := 0; j < 3; j++ {
			x := float64(positions[i+j])
			if box != nil {
				b := float64(box[4*j]) // diagonal element j
				x -= math.Floor(x/b) * b
			}
			energy += k * x * x
			forces[i+j] = -2 * k * x
		}
	}
	return energy, forces, nil
}

// randomPositions returns n random positions in [0, 10)^3, snapped to
// float32 so expected values match the marshaled tensors exactly.
func randomPositions(n int, seed int64) []Vec3 {
	rng := rand.New(rand.NewSource(seed))
	positions := make([]Vec3, n)
	for i := range positions {
		for j := 0; j < 3; j++ {
			positions[i][j] = float64(float32(rng.Float64() * 10))
		}
	}
	return positions
}

func TestEvaluatorLayout(t *testing.T) {
	f, err := New([]byte("model blob"))
	require.NoError(t, err)
	f.SetUsesPeriodicBoundaryConditions(true)
	f.SetExecutionProvider(engine.ProviderCUDA)
	f.AddGlobalParameter("k", 2.0)
	f.AddInput(NewIntegerInput("scale", []int64{1, 2}, tensor.Shape{2}))
	f.AddInput(NewFloatInput("offset", []float32{0.5, 1.5}, tensor.Shape{2}))
	require.NoError(t, f.SetProperty(PropertyDeviceIndex, "1"))
	require.NoError(t, f.SetProperty(PropertyUseGraphs, "true"))

	eng := &fakeEngine{}
	e, err := NewEvaluator(f, 4, eng)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, []byte("model blob"), eng.spec.Model)
	assert.Equal(t, []string{OutputEnergy, OutputForces}, eng.spec.Outputs)

	names := make([]string, len(eng.spec.Inputs))
	for i, binding := range eng.spec.Inputs {
		names[i] = binding.Name
	}
	assert.Equal(t, []string{InputPositions, InputBox, "k", "scale", "offset"}, names)
	assert.True(t, eng.spec.Inputs[0].Shape.Equal(tensor.Shape{4, 3}))
	assert.True(t, eng.spec.Inputs[1].Shape.Equal(tensor.Shape{3, 3}))
	assert.True(t, eng.spec.Inputs[2].Shape.Equal(tensor.Shape{1}))
	assert.Equal(t, tensor.Int64, eng.spec.Inputs[3].DType)
	assert.Equal(t, tensor.Float32, eng.spec.Inputs[4].DType)

	assert.Equal(t, engine.ProviderCUDA, eng.cfg.Provider)
	assert.Equal(t, 1, eng.cfg.DeviceIndex)
	assert.True(t, eng.cfg.GraphCapture)
}

func TestEvaluatorCentral(t *testing.T) {
	const numParticles = 10
	f, err := New([]byte("model"))
	require.NoError(t, err)

	e, err := NewEvaluator(f, numParticles, &fakeEngine{})
	require.NoError(t, err)
	defer e.Close()

	positions := randomPositions(numParticles, 0)
	forces := make([]Vec3, numParticles)
	energy, err := e.Compute(positions, nil, nil, forces)
	require.NoError(t, err)

	expected := 0.0
	for i, pos := range positions {
		for j := 0; j < 3; j++ {
			expected += pos[j] * pos[j]
			assert.InDelta(t, -2*pos[j], forces[i][j], 1e-3)
		}
	}
	assert.InDelta(t, expected, energy, 1e-2)
}

func TestEvaluatorParticleSubset(t *testing.T) {
	const numParticles = 10
	f, err := New([]byte("model"))
	require.NoError(t, err)
	f.SetParticleIndices([]int{5, 3, 0})

	e, err := NewEvaluator(f, numParticles, &fakeEngine{})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, []int{5, 3, 0}, e.Particles())

	positions := randomPositions(numParticles, 1)
	forces := make([]Vec3, numParticles)
	energy, err := e.Compute(positions, nil, nil, forces)
	require.NoError(t, err)

	covered := map[int]bool{5: true, 3: true, 0: true}
	expected := 0.0
	for i, pos := range positions {
		for j := 0; j < 3; j++ {
			if covered[i] {
				expected += pos[j] * pos[j]
				assert.InDelta(t, -2*pos[j], forces[i][j], 1e-3)
			} else {
				assert.Zero(t, forces[i][j])
			}
		}
	}
	assert.InDelta(t, expected, energy, 1e-2)
}

func TestEvaluatorGlobalParameter(t *testing.T) {
	const numParticles = 10
	f, err := New([]byte("model"))
	require.NoError(t, err)
	f.AddGlobalParameter("k", 2.0)

	eng := &fakeEngine{}
	e, err := NewEvaluator(f, numParticles, eng)
	require.NoError(t, err)
	defer e.Close()

	positions := randomPositions(numParticles, 2)
	base := 0.0
	for _, pos := range positions {
		for j := 0; j < 3; j++ {
			base += pos[j] * pos[j]
		}
	}
	forces := make([]Vec3, numParticles)

	// No explicit value: the default applies.
	energy, err := e.Compute(positions, nil, nil, forces)
	require.NoError(t, err)
	assert.InDelta(t, 2*base, energy, 1e-2)
	assert.InDelta(t, -4*positions[0][0], forces[0][0], 1e-3)

	// Changing the context value rescales energy and forces.
	energy, err = e.Compute(positions, nil, map[string]float64{"k": 3.0}, forces)
	require.NoError(t, err)
	assert.InDelta(t, 3*base, energy, 1e-2)
	assert.InDelta(t, -6*positions[0][0], forces[0][0], 1e-3)

	// Input buffers are reused across evaluations, not reallocated.
	assert.Equal(t, 2, eng.session.runs)
	assert.Same(t, e.inputs[0], eng.session.lastInput)
}

func TestEvaluatorPeriodic(t *testing.T) {
	const numParticles = 10
	f, err := New([]byte("model"))
	require.NoError(t, err)
	f.SetUsesPeriodicBoundaryConditions(true)

	e, err := NewEvaluator(f, numParticles, &fakeEngine{})
	require.NoError(t, err)
	defer e.Close()

	box := [3]Vec3{{2, 0, 0}, {0, 3, 0}, {0, 0, 4}}
	positions := randomPositions(numParticles, 3)
	forces := make([]Vec3, numParticles)
	energy, err := e.Compute(positions, &box, nil, forces)
	require.NoError(t, err)

	expected := 0.0
	for i, pos := range positions {
		for j := 0; j < 3; j++ {
			b := box[j][j]
			x := pos[j] - math.Floor(pos[j]/b)*b
			expected += x * x
			assert.InDelta(t, -2*x, forces[i][j], 1e-3)
		}
	}
	assert.InDelta(t, expected, energy, 1e-2)

	// Periodic force without box vectors is an error.
	_, err = e.Compute(positions, nil, nil, forces)
	assert.Error(t, err)
}

func TestEvaluatorExtraInputs(t *testing.T) {
	const numParticles = 4
	f, err := New([]byte("model"))
	require.NoError(t, err)

	scale := []int64{0, 1, 2, 3}
	offset := []float32{0.0, 0.1, 0.2, 0.3}
	f.AddInput(NewIntegerInput("scale", scale, tensor.Shape{numParticles}))
	f.AddInput(NewFloatInput("offset", offset, tensor.Shape{numParticles}))

	eng := &fakeEngine{
		// E = sum_i (scale_i * |r_i|^2 + offset_i), F_i = -2 * scale_i * r_i.
		compute: func(in map[string]*tensor.Tensor) (float64, []float64, error) {
			positions := in[InputPositions].Float32()
			s := in["scale"].Int64()
			o := in["offset"].Float32()
			energy := 0.0
			forces := make([]float64, len(positions))
			for i := 0; i < len(positions)/3; i++ {
				energy += float64(o[i])
				for j := 0; j < 3; j++ {
					x := float64(positions[3*i+j])
					energy += float64(s[i]) * x * x
					forces[3*i+j] = -2 * float64(s[i]) * x
				}
			}
			return energy, forces, nil
		},
	}
	e, err := NewEvaluator(f, numParticles, eng)
	require.NoError(t, err)
	defer e.Close()

	positions := randomPositions(numParticles, 4)
	forces := make([]Vec3, numParticles)
	energy, err := e.Compute(positions, nil, nil, forces)
	require.NoError(t, err)

	expected := 0.0
	for i, pos := range positions {
		expected += float64(offset[i])
		for j := 0; j < 3; j++ {
			expected += float64(scale[i]) * pos[j] * pos[j]
			assert.InDelta(t, -2*float64(scale[i])*pos[j], forces[i][j], 1e-3)
		}
	}
	assert.InDelta(t, expected, energy, 1e-2)
}

func TestNewEvaluatorValidation(t *testing.T) {
	newForce := func(t *testing.T) *Force {
		t.Helper()
		f, err := New([]byte("model"))
		require.NoError(t, err)
		return f
	}

	t.Run("invalid particle count", func(t *testing.T) {
		_, err := NewEvaluator(newForce(t), 0, &fakeEngine{})
		assert.Error(t, err)
	})

	t.Run("particle index out of range", func(t *testing.T) {
		f := newForce(t)
		f.SetParticleIndices([]int{0, 10})
		_, err := NewEvaluator(f, 10, &fakeEngine{})
		assert.Error(t, err)
	})

	t.Run("input shape mismatch", func(t *testing.T) {
		f := newForce(t)
		f.AddInput(NewIntegerInput("scale", []int64{1, 2, 3}, tensor.Shape{2}))
		_, err := NewEvaluator(f, 10, &fakeEngine{})
		assert.ErrorContains(t, err, "scale")
	})

	t.Run("illegal UseGraphs value", func(t *testing.T) {
		f := newForce(t)
		require.NoError(t, f.SetProperty(PropertyUseGraphs, "maybe"))
		_, err := NewEvaluator(f, 10, &fakeEngine{})
		assert.ErrorContains(t, err, PropertyUseGraphs)
	})

	t.Run("illegal DeviceIndex value", func(t *testing.T) {
		f := newForce(t)
		require.NoError(t, f.SetProperty(PropertyDeviceIndex, "gpu0"))
		_, err := NewEvaluator(f, 10, &fakeEngine{})
		assert.ErrorContains(t, err, PropertyDeviceIndex)
	})

	t.Run("engine open failure", func(t *testing.T) {
		_, err := NewEvaluator(newForce(t), 10, &fakeEngine{openErr: engine.ErrProviderUnavailable})
		assert.ErrorIs(t, err, engine.ErrProviderUnavailable)
	})
}

func TestComputeValidation(t *testing.T) {
	f, err := New([]byte("model"))
	require.NoError(t, err)
	eng := &fakeEngine{}
	e, err := NewEvaluator(f, 4, eng)
	require.NoError(t, err)
	defer e.Close()

	positions := randomPositions(4, 5)
	forces := make([]Vec3, 4)

	_, err = e.Compute(positions[:2], nil, nil, forces)
	assert.Error(t, err)

	_, err = e.Compute(positions, nil, nil, forces[:1])
	assert.Error(t, err)

	eng.session.runErr = errors.New("provider exploded")
	_, err = e.Compute(positions, nil, nil, forces)
	assert.ErrorContains(t, err, "provider exploded")
}

// staticEngine returns a canned session, used to exercise output validation.
type staticEngine struct {
	session engine.Session
}

func (se *staticEngine) Open(engine.Spec, engine.Config) (engine.Session, error) {
	return se.session, nil
}

type staticSession struct {
	outputs []*tensor.Tensor
}

func (ss *staticSession) Run([]*tensor.Tensor) ([]*tensor.Tensor, error) {
	return ss.outputs, nil
}

func (ss *staticSession) Close() error { return nil }

func TestComputeMalformedOutputs(t *testing.T) {
	scalar := func(v float32) *tensor.Tensor {
		t1, err := tensor.NewFloat32(tensor.Shape{1}, []float32{v})
		require.NoError(t, err)
		return t1
	}
	goodForces := func(n int) *tensor.Tensor {
		t1, err := tensor.Zeros(tensor.Shape{n, 3}, tensor.Float32)
		require.NoError(t, err)
		return t1
	}

	tests := []struct {
		name    string
		outputs []*tensor.Tensor
	}{
		{"missing outputs", []*tensor.Tensor{scalar(1)}},
		{"energy not scalar", func() []*tensor.Tensor {
			t1, err := tensor.Zeros(tensor.Shape{2}, tensor.Float32)
			require.NoError(t, err)
			return []*tensor.Tensor{t1, goodForces(4)}
		}()},
		{"forces wrong size", []*tensor.Tensor{scalar(1), goodForces(3)}},
		{"forces wrong type", func() []*tensor.Tensor {
			t1, err := tensor.Zeros(tensor.Shape{4, 3}, tensor.Int64)
			require.NoError(t, err)
			return []*tensor.Tensor{scalar(1), t1}
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New([]byte("model"))
			require.NoError(t, err)
			e, err := NewEvaluator(f, 4, &staticEngine{session: &staticSession{outputs: tt.outputs}})
			require.NoError(t, err)
			defer e.Close()

			forces := make([]Vec3, 4)
			_, err = e.Compute(randomPositions(4, 6), nil, nil, forces)
			assert.Error(t, err)
		})
	}
}

func TestEvaluatorClose(t *testing.T) {
	f, err := New([]byte("model"))
	require.NoError(t, err)
	eng := &fakeEngine{}
	e, err := NewEvaluator(f, 4, eng)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.True(t, eng.session.closed)
	assert.NoError(t, e.Close())
}
