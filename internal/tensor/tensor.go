package tensor

import "fmt"

// Tensor is a flat, contiguous value tensor. It pairs a declared shape with a
// typed backing slice and guarantees that the product of the shape dimensions
// equals the number of values.
//
// Tensors are reused across force evaluations: callers rewrite the backing
// slice in place rather than allocating a new tensor per step.
type Tensor struct {
	shape Shape
	dtype DataType
	f32   []float32
	i64   []int64
}

// NewFloat32 creates a float32 tensor from values in flattened order.
// The tensor takes ownership of the slice.
func NewFloat32(shape Shape, values []float32) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if n := shape.NumElements(); n != len(values) {
		return nil, fmt.Errorf("shape %v requires %d values, got %d", shape, n, len(values))
	}
	return &Tensor{shape: shape.Clone(), dtype: Float32, f32: values}, nil
}

// NewInt64 creates an int64 tensor from values in flattened order.
// The tensor takes ownership of the slice.
func NewInt64(shape Shape, values []int64) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if n := shape.NumElements(); n != len(values) {
		return nil, fmt.Errorf("shape %v requires %d values, got %d", shape, n, len(values))
	}
	return &Tensor{shape: shape.Clone(), dtype: Int64, i64: values}, nil
}

// Zeros creates a zero-filled tensor of the given shape and type.
func Zeros(shape Shape, dtype DataType) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	switch dtype {
	case Float32:
		return NewFloat32(shape, make([]float32, shape.NumElements()))
	case Int64:
		return NewInt64(shape, make([]int64, shape.NumElements()))
	default:
		return nil, fmt.Errorf("unsupported data type: %v", dtype)
	}
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the number of values in the tensor.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// Float32 returns the backing slice of a float32 tensor. The slice is
// zero-copy: writes through it are visible on the next session run.
// It panics if the tensor holds a different type.
func (t *Tensor) Float32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor holds %v, not float32", t.dtype))
	}
	return t.f32
}

// Int64 returns the backing slice of an int64 tensor. The slice is zero-copy.
// It panics if the tensor holds a different type.
func (t *Tensor) Int64() []int64 {
	if t.dtype != Int64 {
		panic(fmt.Sprintf("tensor holds %v, not int64", t.dtype))
	}
	return t.i64
}
