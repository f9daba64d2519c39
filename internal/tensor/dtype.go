// Package tensor provides the flat tensor value types exchanged between the
// force plugin and an inference session.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. The plugin only ever exchanges float32 and int64
// tensors with a model.
const (
	Float32 DataType = iota
	Int64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}
