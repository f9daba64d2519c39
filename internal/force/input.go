package force

import (
	"fmt"

	"github.com/openmm/openmm-onnx/internal/tensor"
)

// Input is an extra tensor passed to the model on every evaluation, in
// addition to the positions, box, and global parameters. Concrete types are
// IntegerInput and FloatInput.
type Input interface {
	// Name returns the name of the model input this tensor is bound to.
	Name() string
	// Shape returns the declared shape of the tensor.
	Shape() tensor.Shape

	// tensorValue validates the declared shape against the stored values
	// and builds the session tensor.
	tensorValue() (*tensor.Tensor, error)
}

// IntegerInput is an extra input holding integer values.
type IntegerInput struct {
	name   string
	shape  tensor.Shape
	values []int64
}

// NewIntegerInput creates an IntegerInput with values in flattened order.
func NewIntegerInput(name string, values []int64, shape tensor.Shape) *IntegerInput {
	return &IntegerInput{name: name, shape: shape.Clone(), values: values}
}

// Name returns the name of the input.
func (in *IntegerInput) Name() string { return in.name }

// Shape returns the shape of the tensor.
func (in *IntegerInput) Shape() tensor.Shape { return in.shape }

// SetShape sets the shape of the tensor.
func (in *IntegerInput) SetShape(shape tensor.Shape) { in.shape = shape.Clone() }

// Values returns the values of the tensor in flattened order. The slice is
// the input's own storage; modifications are seen by later evaluators.
func (in *IntegerInput) Values() []int64 { return in.values }

// SetValues sets the values of the tensor in flattened order.
func (in *IntegerInput) SetValues(values []int64) { in.values = values }

func (in *IntegerInput) tensorValue() (*tensor.Tensor, error) {
	t, err := tensor.NewInt64(in.shape, in.values)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", in.name, err)
	}
	return t, nil
}

// FloatInput is an extra input holding floating point values.
type FloatInput struct {
	name   string
	shape  tensor.Shape
	values []float32
}

// NewFloatInput creates a FloatInput with values in flattened order.
func NewFloatInput(name string, values []float32, shape tensor.Shape) *FloatInput {
	return &FloatInput{name: name, shape: shape.Clone(), values: values}
}

// Name returns the name of the input.
func (in *FloatInput) Name() string { return in.name }

// Shape returns the shape of the tensor.
func (in *FloatInput) Shape() tensor.Shape { return in.shape }

// SetShape sets the shape of the tensor.
func (in *FloatInput) SetShape(shape tensor.Shape) { in.shape = shape.Clone() }

// Values returns the values of the tensor in flattened order. The slice is
// the input's own storage; modifications are seen by later evaluators.
func (in *FloatInput) Values() []float32 { return in.values }

// SetValues sets the values of the tensor in flattened order.
func (in *FloatInput) SetValues(values []float32) { in.values = values }

func (in *FloatInput) tensorValue() (*tensor.Tensor, error) {
	t, err := tensor.NewFloat32(in.shape, in.values)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", in.name, err)
	}
	return t, nil
}
