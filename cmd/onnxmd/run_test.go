package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmm/openmm-onnx/engine"
	"github.com/openmm/openmm-onnx/internal/scene"
	"github.com/openmm/openmm-onnx/internal/tensor"
)

// harmonicEngine evaluates E = k * sum |r|^2 without a real inference
// runtime.
type harmonicEngine struct {
	spec engine.Spec
}

func (e *harmonicEngine) Open(spec engine.Spec, cfg engine.Config) (engine.Session, error) {
	e.spec = spec
	return &harmonicSession{engine: e}, nil
}

type harmonicSession struct {
	engine *harmonicEngine
}

func (s *harmonicSession) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	byName := make(map[string]*tensor.Tensor)
	for i, binding := range s.engine.spec.Inputs {
		byName[binding.Name] = inputs[i]
	}
	positions := byName["positions"].Float32()
	k := float64(byName["k"].Float32()[0])

	var energy float64
	forces := make([]float32, len(positions))
	for i, x := range positions {
		energy += k * float64(x) * float64(x)
		forces[i] = float32(-2 * k * float64(x))
	}

	n := len(positions) / 3
	energyOut, err := tensor.NewFloat32(tensor.Shape{1}, []float32{float32(energy)})
	if err != nil {
		return nil, err
	}
	forcesOut, err := tensor.NewFloat32(tensor.Shape{n, 3}, forces)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{energyOut, forcesOut}, nil
}

func (s *harmonicSession) Close() error { return nil }

func TestEvaluate(t *testing.T) {
	model := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(model, []byte{0x01}, 0o644))

	s := &scene.Scene{
		Model: model,
		Positions: [][]float64{
			{0.5, 0, 0},
			{0, -0.25, 0},
		},
		Parameters: map[string]float64{"k": 2.0},
	}
	require.NoError(t, s.Validate())

	res, err := evaluate(s, &harmonicEngine{})
	require.NoError(t, err)

	assert.InDelta(t, 2.0*(0.25+0.0625), res.Energy, 1e-6)
	require.Len(t, res.Forces, 2)
	assert.InDelta(t, -2.0, res.Forces[0][0], 1e-6)
	assert.InDelta(t, 0.0, res.Forces[0][1], 1e-6)
	assert.InDelta(t, 1.0, res.Forces[1][1], 1e-6)
}

func TestEvaluateOpenFailure(t *testing.T) {
	s := &scene.Scene{
		Model:     filepath.Join(t.TempDir(), "missing.onnx"),
		Positions: [][]float64{{0, 0, 0}},
	}

	_, err := evaluate(s, &harmonicEngine{})
	assert.Error(t, err)
}
