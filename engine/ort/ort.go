// Package ort implements the inference engine on ONNX Runtime, through the
// onnxruntime_go binding. It owns execution provider selection: TensorRT and
// CUDA are appended with their option maps, the default provider falls back
// silently through TensorRT, CUDA, and finally the CPU, and an explicitly
// requested provider that cannot be appended is an immediate error.
package ort

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/openmm/openmm-onnx/engine"
	"github.com/openmm/openmm-onnx/internal/onnxmeta"
	"github.com/openmm/openmm-onnx/internal/tensor"
)

// Engine opens ONNX Runtime sessions. The zero value is usable; New applies
// options. All engines share one runtime environment, initialized on first
// use.
type Engine struct {
	libraryPath string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLibraryPath sets the path of the onnxruntime shared library. It only
// takes effect for the engine that first initializes the runtime.
func WithLibraryPath(path string) Option {
	return func(e *Engine) { e.libraryPath = path }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	envOnce sync.Once
	envErr  error
)

func (e *Engine) ensureEnvironment() error {
	envOnce.Do(func() {
		if e.libraryPath != "" {
			onnxrt.SetSharedLibraryPath(e.libraryPath)
		}
		envErr = onnxrt.InitializeEnvironment()
	})
	if envErr != nil {
		return fmt.Errorf("initialize onnxruntime: %w", envErr)
	}
	return nil
}

// Open creates a session for the given model and layout.
func (e *Engine) Open(spec engine.Spec, cfg engine.Config) (engine.Session, error) {
	if err := e.ensureEnvironment(); err != nil {
		return nil, err
	}

	info, err := onnxmeta.Parse(spec.Model)
	if err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	if err := validateModel(info, spec); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"producer": info.ProducerName,
		"opset":    info.OpsetVersion,
		"provider": cfg.Provider,
	}).Debug("opening inference session")

	options, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer func() { _ = options.Destroy() }()

	if err := appendProviders(options, cfg); err != nil {
		return nil, err
	}

	s := &session{outputs: len(spec.Outputs)}
	inputNames := make([]string, len(spec.Inputs))
	for i, binding := range spec.Inputs {
		inputNames[i] = binding.Name
		value, err := newInputTensor(s, binding)
		if err != nil {
			s.destroyInputs()
			return nil, err
		}
		s.inputs = append(s.inputs, value)
	}

	inner, err := onnxrt.NewDynamicAdvancedSessionWithONNXData(spec.Model, inputNames, spec.Outputs, options)
	if err != nil {
		s.destroyInputs()
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.session = inner
	return s, nil
}

// validateModel checks the session layout against the model's declared
// graph: every bound input must exist, every model input must be bound, and
// the requested outputs must be declared.
func validateModel(info *onnxmeta.Info, spec engine.Spec) error {
	bound := make(map[string]bool, len(spec.Inputs))
	for _, binding := range spec.Inputs {
		bound[binding.Name] = true
		if !info.HasInput(binding.Name) {
			return fmt.Errorf("model does not declare input %q", binding.Name)
		}
	}
	for _, name := range info.Inputs {
		if !bound[name] {
			return fmt.Errorf("model input %q is not part of the force layout", name)
		}
	}
	for _, name := range spec.Outputs {
		if !info.HasOutput(name) {
			return fmt.Errorf("model does not declare output %q", name)
		}
	}
	return nil
}

// appendProviders configures execution providers on the session options,
// mirroring the runtime's availability rules.
func appendProviders(options *onnxrt.SessionOptions, cfg engine.Config) error {
	deviceIndex := strconv.Itoa(cfg.DeviceIndex)
	graph := "0"
	if cfg.GraphCapture {
		graph = "1"
	}

	if cfg.Provider == engine.ProviderTensorRT || cfg.Provider == engine.ProviderDefault {
		err := appendTensorRT(options, deviceIndex, graph)
		if err != nil && cfg.Provider == engine.ProviderTensorRT {
			return fmt.Errorf("tensorrt: %w: %v", engine.ErrProviderUnavailable, err)
		}
		if err != nil {
			logrus.WithError(err).Debug("TensorRT execution provider unavailable, falling back")
		}
	}
	if cfg.Provider == engine.ProviderCUDA || cfg.Provider == engine.ProviderDefault {
		err := appendCUDA(options, deviceIndex, graph)
		if err != nil && cfg.Provider == engine.ProviderCUDA {
			return fmt.Errorf("cuda: %w: %v", engine.ErrProviderUnavailable, err)
		}
		if err != nil {
			logrus.WithError(err).Debug("CUDA execution provider unavailable, falling back")
		}
	}
	if cfg.Provider == engine.ProviderROCm {
		// The binding has no ROCm provider hook.
		return fmt.Errorf("rocm: %w", engine.ErrProviderUnavailable)
	}
	return nil
}

func appendTensorRT(options *onnxrt.SessionOptions, deviceIndex, graph string) error {
	trtOptions, err := onnxrt.NewTensorRTProviderOptions()
	if err != nil {
		return err
	}
	defer func() { _ = trtOptions.Destroy() }()
	if err := trtOptions.Update(map[string]string{
		"device_id":             deviceIndex,
		"trt_cuda_graph_enable": graph,
	}); err != nil {
		return err
	}
	return options.AppendExecutionProviderTensorRT(trtOptions)
}

func appendCUDA(options *onnxrt.SessionOptions, deviceIndex, graph string) error {
	cudaOptions, err := onnxrt.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer func() { _ = cudaOptions.Destroy() }()
	if err := cudaOptions.Update(map[string]string{
		"device_id":         deviceIndex,
		"use_tf32":          "0",
		"enable_cuda_graph": graph,
	}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

// session adapts a DynamicAdvancedSession to engine.Session. Input tensors
// are created once and their backing slices rewritten on every run.
type session struct {
	session *onnxrt.DynamicAdvancedSession
	inputs  []onnxrt.Value
	f32     [][]float32 // backing slice per input, nil for int64 inputs
	i64     [][]int64   // backing slice per input, nil for float32 inputs
	outputs int
}

var _ engine.Engine = (*Engine)(nil)

func newInputTensor(s *session, binding engine.Binding) (onnxrt.Value, error) {
	shape := onnxrt.NewShape(binding.Shape.Dims64()...)
	switch binding.DType {
	case tensor.Float32:
		t, err := onnxrt.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, fmt.Errorf("create tensor %q: %w", binding.Name, err)
		}
		s.f32 = append(s.f32, t.GetData())
		s.i64 = append(s.i64, nil)
		return t, nil
	case tensor.Int64:
		t, err := onnxrt.NewEmptyTensor[int64](shape)
		if err != nil {
			return nil, fmt.Errorf("create tensor %q: %w", binding.Name, err)
		}
		s.f32 = append(s.f32, nil)
		s.i64 = append(s.i64, t.GetData())
		return t, nil
	default:
		return nil, fmt.Errorf("input %q: unsupported data type %v", binding.Name, binding.DType)
	}
}

func (s *session) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(s.inputs) {
		return nil, fmt.Errorf("got %d inputs, want %d", len(inputs), len(s.inputs))
	}
	for i, in := range inputs {
		switch in.DType() {
		case tensor.Float32:
			if s.f32[i] == nil {
				return nil, fmt.Errorf("input %d: type changed since session creation", i)
			}
			copy(s.f32[i], in.Float32())
		case tensor.Int64:
			if s.i64[i] == nil {
				return nil, fmt.Errorf("input %d: type changed since session creation", i)
			}
			copy(s.i64[i], in.Int64())
		default:
			return nil, fmt.Errorf("input %d: unsupported data type %v", i, in.DType())
		}
	}

	rawOutputs := make([]onnxrt.Value, s.outputs)
	if err := s.session.Run(s.inputs, rawOutputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer func() {
		for _, out := range rawOutputs {
			if out != nil {
				_ = out.Destroy()
			}
		}
	}()

	outputs := make([]*tensor.Tensor, 0, s.outputs)
	for i, out := range rawOutputs {
		converted, err := convertOutput(out)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		outputs = append(outputs, converted)
	}
	return outputs, nil
}

func convertOutput(out onnxrt.Value) (*tensor.Tensor, error) {
	if out == nil {
		return nil, fmt.Errorf("session produced no value")
	}
	dims := out.GetShape()
	shape := make(tensor.Shape, len(dims))
	for i, dim := range dims {
		shape[i] = int(dim)
	}
	switch v := out.(type) {
	case *onnxrt.Tensor[float32]:
		values := append([]float32(nil), v.GetData()...)
		return tensor.NewFloat32(shape, values)
	case *onnxrt.Tensor[int64]:
		values := append([]int64(nil), v.GetData()...)
		return tensor.NewInt64(shape, values)
	default:
		return nil, fmt.Errorf("unsupported output tensor type %T", out)
	}
}

func (s *session) destroyInputs() {
	for _, in := range s.inputs {
		_ = in.Destroy()
	}
	s.inputs = nil
}

// Close releases the session and its input tensors.
func (s *session) Close() error {
	s.destroyInputs()
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
	}
	return nil
}
