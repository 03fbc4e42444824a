// Package tensor provides the type-erased tensor, its typed views, the allocator,
// the input builder and the named tensor collection used by Neuropod.
package tensor

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// Fixed is a constraint for element types with a fixed byte width.
type Fixed interface {
	float16.Float16 | float32 | float64 |
		int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		bool
}

// Element is a constraint for every supported tensor element type.
type Element interface {
	Fixed | string
}

// TensorType represents the element type of a tensor.
type TensorType int

// Supported tensor types.
const (
	Invalid TensorType = iota
	Float16
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Bool
	String
)

var typeNames = [...]string{
	Invalid: "invalid",
	Float16: "float16",
	Float32: "float32",
	Float64: "float64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Bool:    "bool",
	String:  "string",
}

// String returns the manifest name of the type (e.g. "float32").
func (t TensorType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("TensorType(%d)", int(t))
	}
	return typeNames[t]
}

// Size returns the byte width of one element. String tensors have no fixed width
// and report 0.
func (t TensorType) Size() int {
	switch t {
	case Int8, Uint8, Bool:
		return 1
	case Float16, Int16, Uint16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 0
	}
}

// IsValid reports whether t is one of the supported types.
func (t TensorType) IsValid() bool {
	return t > Invalid && t <= String
}

// IsFloat reports whether t is a floating point type.
func (t TensorType) IsFloat() bool {
	return t == Float16 || t == Float32 || t == Float64
}

// ParseType converts a manifest dtype name into a TensorType.
// A few common aliases ("float", "double", "int", "long", "str") are accepted.
func ParseType(name string) (TensorType, error) {
	switch s := strings.ToLower(strings.TrimSpace(name)); s {
	case "half":
		return Float16, nil
	case "float":
		return Float32, nil
	case "double":
		return Float64, nil
	case "int":
		return Int32, nil
	case "long":
		return Int64, nil
	case "str":
		return String, nil
	default:
		for i, n := range typeNames {
			if i != int(Invalid) && n == s {
				return TensorType(i), nil
			}
		}
	}
	return Invalid, fmt.Errorf("unknown tensor type %q", name)
}

// TypeOf returns the TensorType of the element type T.
func TypeOf[T Element]() TensorType {
	var zero T
	switch any(zero).(type) {
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case bool:
		return Bool
	case string:
		return String
	default:
		return Invalid
	}
}

// typeOfSlice returns the TensorType of a slice of supported elements, or Invalid.
func typeOfSlice(data any) TensorType {
	switch data.(type) {
	case []float16.Float16:
		return Float16
	case []float32:
		return Float32
	case []float64:
		return Float64
	case []int8:
		return Int8
	case []int16:
		return Int16
	case []int32:
		return Int32
	case []int64:
		return Int64
	case []uint8:
		return Uint8
	case []uint16:
		return Uint16
	case []uint32:
		return Uint32
	case []uint64:
		return Uint64
	case []bool:
		return Bool
	case []string:
		return String
	default:
		return Invalid
	}
}
