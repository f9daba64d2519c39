// Package scene loads the YAML description of a single-point evaluation: the
// model to run, the particle configuration, and the evaluation settings.
package scene

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openmm/openmm-onnx/engine"
	"github.com/openmm/openmm-onnx/force"
)

// Scene describes one particle configuration and the force to evaluate on
// it.
type Scene struct {
	// Model is the path of the ONNX model file.
	Model string `yaml:"model"`
	// Provider is the execution provider name (default, cpu, cuda,
	// tensorrt, rocm). Empty means default.
	Provider string `yaml:"provider"`
	// DeviceIndex selects the device for GPU providers.
	DeviceIndex int `yaml:"deviceIndex"`
	// UseGraphs enables the provider's graph-capture mode.
	UseGraphs bool `yaml:"useGraphs"`

	// Periodic passes the box vectors to the model.
	Periodic bool `yaml:"periodic"`
	// Box holds the three periodic box vectors, required when Periodic.
	Box [][]float64 `yaml:"box"`

	// Positions holds one [x, y, z] triple per particle, in nm.
	Positions [][]float64 `yaml:"positions"`
	// Particles optionally restricts the force to a subset of particles.
	Particles []int `yaml:"particles"`
	// Parameters maps global parameter names to their values.
	Parameters map[string]float64 `yaml:"parameters"`
	// Inputs lists extra constant tensors passed to the model.
	Inputs []InputSpec `yaml:"inputs"`
}

// InputSpec declares one extra model input.
type InputSpec struct {
	Name   string    `yaml:"name"`
	Type   string    `yaml:"type"` // "int" or "float"
	Shape  []int     `yaml:"shape"`
	Values []float64 `yaml:"values"`
}

// Load reads and validates a scene file.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scene document.
func Parse(data []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scene for internal consistency.
func (s *Scene) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("scene does not name a model")
	}
	if len(s.Positions) == 0 {
		return fmt.Errorf("scene has no positions")
	}
	for i, pos := range s.Positions {
		if len(pos) != 3 {
			return fmt.Errorf("position %d has %d components, want 3", i, len(pos))
		}
	}
	if _, err := engine.ParseProvider(s.Provider); err != nil {
		return err
	}
	if s.DeviceIndex < 0 {
		return fmt.Errorf("negative device index %d", s.DeviceIndex)
	}
	if s.Periodic {
		if len(s.Box) != 3 {
			return fmt.Errorf("periodic scene needs 3 box vectors, got %d", len(s.Box))
		}
		for i, vec := range s.Box {
			if len(vec) != 3 {
				return fmt.Errorf("box vector %d has %d components, want 3", i, len(vec))
			}
		}
	}
	for _, input := range s.Inputs {
		if input.Name == "" {
			return fmt.Errorf("extra input without a name")
		}
		if input.Type != "int" && input.Type != "float" {
			return fmt.Errorf("input %q: unknown type %q", input.Name, input.Type)
		}
		n := 1
		for _, dim := range input.Shape {
			if dim <= 0 {
				return fmt.Errorf("input %q: invalid dimension %d", input.Name, dim)
			}
			n *= dim
		}
		if n != len(input.Values) {
			return fmt.Errorf("input %q: shape %v requires %d values, got %d",
				input.Name, input.Shape, n, len(input.Values))
		}
		if input.Type == "int" {
			for _, v := range input.Values {
				if v != math.Trunc(v) {
					return fmt.Errorf("input %q: non-integer value %v", input.Name, v)
				}
			}
		}
	}
	return nil
}

// BuildForce constructs the force the scene describes, loading the model
// from disk.
func (s *Scene) BuildForce() (*force.Force, error) {
	provider, err := engine.ParseProvider(s.Provider)
	if err != nil {
		return nil, err
	}
	f, err := force.NewFromFile(s.Model, map[string]string{
		force.PropertyDeviceIndex: strconv.Itoa(s.DeviceIndex),
		force.PropertyUseGraphs:   strconv.FormatBool(s.UseGraphs),
	})
	if err != nil {
		return nil, err
	}
	f.SetExecutionProvider(provider)
	f.SetUsesPeriodicBoundaryConditions(s.Periodic)
	f.SetParticleIndices(s.Particles)

	// Sorted for a reproducible session layout.
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.AddGlobalParameter(name, s.Parameters[name])
	}

	for _, input := range s.Inputs {
		shape := force.Shape(input.Shape)
		switch input.Type {
		case "int":
			values := make([]int64, len(input.Values))
			for i, v := range input.Values {
				values[i] = int64(v)
			}
			f.AddInput(force.NewIntegerInput(input.Name, values, shape))
		case "float":
			values := make([]float32, len(input.Values))
			for i, v := range input.Values {
				values[i] = float32(v)
			}
			f.AddInput(force.NewFloatInput(input.Name, values, shape))
		}
	}
	return f, nil
}

// PositionVectors returns the particle positions as Vec3 triples.
func (s *Scene) PositionVectors() []force.Vec3 {
	positions := make([]force.Vec3, len(s.Positions))
	for i, pos := range s.Positions {
		positions[i] = force.Vec3{pos[0], pos[1], pos[2]}
	}
	return positions
}

// BoxVectors returns the periodic box, or nil for a non-periodic scene.
func (s *Scene) BoxVectors() *[3]force.Vec3 {
	if !s.Periodic {
		return nil
	}
	var box [3]force.Vec3
	for i, vec := range s.Box {
		box[i] = force.Vec3{vec[0], vec[1], vec[2]}
	}
	return &box
}
