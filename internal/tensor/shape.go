package tensor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Shape represents the dimensions of a tensor in row-major order.
// An empty shape is a scalar.
type Shape []int64

// NumElements returns the total number of elements described by the shape.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= int(dim)
	}
	return n
}

// Validate checks that all dimensions are non-negative and that the element
// count fits in an int.
func (s Shape) Validate() error {
	n := int64(1)
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("%w: invalid dimension at index %d: %d (must be >= 0)", ErrShapeMismatch, i, dim)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return fmt.Errorf("%w: shape %v overflows the element count", ErrShapeMismatch, s)
		}
		n *= dim
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Strides calculates row-major strides (in elements) for the shape.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * int(s[i+1])
	}
	return strides
}

// String formats the shape as "[2 3]".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Shapes are compared right to left; two dimensions are compatible when they are
// equal or one of them is 1. Missing dimensions are treated as 1.
//
//	(3, 1) + (3, 5) → (3, 5)
//	(5)    + (3, 5) → (3, 5)
//	(3, 4) + (3, 5) → error
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	result := make(Shape, n)
	for i := 0; i < n; i++ {
		aDim, bDim := int64(1), int64(1)
		if j := len(a) - 1 - i; j >= 0 {
			aDim = a[j]
		}
		if j := len(b) - 1 - i; j >= 0 {
			bDim = b[j]
		}
		switch {
		case aDim == bDim, bDim == 1:
			result[n-1-i] = aDim
		case aDim == 1:
			result[n-1-i] = bDim
		default:
			return nil, fmt.Errorf("%w: shapes %v and %v are not broadcastable (dimension %d: %d vs %d)",
				ErrShapeMismatch, a, b, n-1-i, aDim, bDim)
		}
	}
	return result, nil
}

// BroadcastIndex maps a flat index of the broadcast output shape back to the
// flat index of an operand with shape src.
func BroadcastIndex(out Shape, outStrides []int, src Shape, srcStrides []int, flat int) int {
	idx := 0
	offset := len(out) - len(src)
	for d := range out {
		coord := (flat / outStrides[d]) % int(out[d])
		sd := d - offset
		if sd < 0 || src[sd] == 1 {
			continue
		}
		idx += coord * srcStrides[sd]
	}
	return idx
}
