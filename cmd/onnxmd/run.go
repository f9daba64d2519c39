package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openmm/openmm-onnx/engine"
	"github.com/openmm/openmm-onnx/engine/ort"
	"github.com/openmm/openmm-onnx/force"
	"github.com/openmm/openmm-onnx/internal/scene"
)

var (
	sceneFile  string // YAML scene describing the evaluation
	modelFile  string // Overrides the scene's model path
	provider   string // Overrides the scene's execution provider
	device     int    // Overrides the scene's device index
	useGraphs  bool   // Overrides the scene's graph-capture setting
	ortLibrary string // Path of the onnxruntime shared library
	outputFile string // Write the result here instead of stdout
	logLevel   string // Log verbosity level
)

// result is the YAML document printed after an evaluation.
type result struct {
	Energy float64     `yaml:"energy"`
	Forces [][]float64 `yaml:"forces"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the scene once and print energy and forces",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		s, err := scene.Load(sceneFile)
		if err != nil {
			logrus.Fatalf("Unable to load scene: %v", err)
		}
		applyOverrides(cmd, s)
		if err := s.Validate(); err != nil {
			logrus.Fatalf("Invalid scene: %v", err)
		}

		var opts []ort.Option
		if ortLibrary != "" {
			opts = append(opts, ort.WithLibraryPath(ortLibrary))
		}
		res, err := evaluate(s, ort.New(opts...))
		if err != nil {
			logrus.Fatalf("Evaluation failed: %v", err)
		}

		data, err := yaml.Marshal(res)
		if err != nil {
			logrus.Fatalf("Unable to encode result: %v", err)
		}
		if outputFile == "" {
			fmt.Print(string(data))
			return
		}
		if err := os.WriteFile(outputFile, data, 0o644); err != nil {
			logrus.Fatalf("Unable to write result: %v", err)
		}
	},
}

// applyOverrides replaces scene settings with values from flags the user set
// explicitly.
func applyOverrides(cmd *cobra.Command, s *scene.Scene) {
	if cmd.Flags().Changed("model") {
		s.Model = modelFile
	}
	if cmd.Flags().Changed("provider") {
		s.Provider = provider
	}
	if cmd.Flags().Changed("device") {
		s.DeviceIndex = device
	}
	if cmd.Flags().Changed("use-graphs") {
		s.UseGraphs = useGraphs
	}
}

// evaluate builds the scene's force, opens a session on the engine, and
// computes energy and forces for the scene's positions.
func evaluate(s *scene.Scene, eng engine.Engine) (*result, error) {
	f, err := s.BuildForce()
	if err != nil {
		return nil, err
	}
	eval, err := force.NewEvaluator(f, len(s.Positions), eng)
	if err != nil {
		return nil, err
	}
	defer func() { _ = eval.Close() }()

	positions := s.PositionVectors()
	forces := make([]force.Vec3, len(positions))
	energy, err := eval.Compute(positions, s.BoxVectors(), s.Parameters, forces)
	if err != nil {
		return nil, err
	}

	res := &result{Energy: energy, Forces: make([][]float64, len(forces))}
	for i, v := range forces {
		res.Forces[i] = []float64{v[0], v[1], v[2]}
	}
	return res, nil
}

func init() {
	runCmd.Flags().StringVar(&sceneFile, "scene", "", "YAML scene file (required)")
	runCmd.Flags().StringVar(&modelFile, "model", "", "ONNX model file, overriding the scene")
	runCmd.Flags().StringVar(&provider, "provider", "", "Execution provider (default, cpu, cuda, tensorrt, rocm)")
	runCmd.Flags().IntVar(&device, "device", 0, "Device index for GPU providers")
	runCmd.Flags().BoolVar(&useGraphs, "use-graphs", false, "Enable provider graph capture")
	runCmd.Flags().StringVar(&ortLibrary, "ort-library", "", "Path of the onnxruntime shared library")
	runCmd.Flags().StringVar(&outputFile, "output", "", "Write the result to this file instead of stdout")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	_ = runCmd.MarkFlagRequired("scene")

	rootCmd.AddCommand(runCmd)
}
