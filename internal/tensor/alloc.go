package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// Allocator produces tensors of a requested type and shape.
//
// Backends may provide their own Allocator to create tensors in the representation
// their engine prefers; DefaultAllocator keeps data in Go slices.
type Allocator interface {
	// Allocate returns a zero-filled tensor owning its storage.
	Allocate(name string, typ TensorType, dims Shape) (Tensor, error)

	// Copy returns a tensor owning a copy of src, which must be a slice of the
	// element type of typ holding exactly dims.NumElements() values.
	Copy(name string, typ TensorType, dims Shape, src any) (Tensor, error)

	// FromExternal wraps data, a slice of the element type of typ, without copying.
	// The deleter runs exactly once when the last handle is released.
	//
	// The caller must keep data valid and unmodified by others until the deleter runs.
	FromExternal(name string, typ TensorType, dims Shape, data any, deleter Deleter) (Tensor, error)

	// FromExternalBytes reinterprets buf as elements of typ without copying.
	// The deleter runs exactly once when the last handle is released.
	//
	// Preconditions, not checked: buf is aligned for the element type and stays valid
	// until the deleter runs. String tensors cannot be wrapped from bytes.
	FromExternalBytes(name string, typ TensorType, dims Shape, buf []byte, deleter Deleter) (Tensor, error)
}

// DefaultAllocator allocates tensors backed by Go slices.
var DefaultAllocator Allocator = heapAllocator{}

type heapAllocator struct{}

func (heapAllocator) Allocate(name string, typ TensorType, dims Shape) (Tensor, error) {
	switch typ {
	case Float16:
		return erase(Zeros[float16.Float16](name, dims))
	case Float32:
		return erase(Zeros[float32](name, dims))
	case Float64:
		return erase(Zeros[float64](name, dims))
	case Int8:
		return erase(Zeros[int8](name, dims))
	case Int16:
		return erase(Zeros[int16](name, dims))
	case Int32:
		return erase(Zeros[int32](name, dims))
	case Int64:
		return erase(Zeros[int64](name, dims))
	case Uint8:
		return erase(Zeros[uint8](name, dims))
	case Uint16:
		return erase(Zeros[uint16](name, dims))
	case Uint32:
		return erase(Zeros[uint32](name, dims))
	case Uint64:
		return erase(Zeros[uint64](name, dims))
	case Bool:
		return erase(Zeros[bool](name, dims))
	case String:
		return erase(Zeros[string](name, dims))
	default:
		return nil, fmt.Errorf("%w: cannot allocate tensor %q of type %s", ErrTypeMismatch, name, typ)
	}
}

func (heapAllocator) Copy(name string, typ TensorType, dims Shape, src any) (Tensor, error) {
	if err := checkSlice(name, typ, src); err != nil {
		return nil, err
	}
	switch data := src.(type) {
	case []float16.Float16:
		return erase(CopyOf(name, dims, data))
	case []float32:
		return erase(CopyOf(name, dims, data))
	case []float64:
		return erase(CopyOf(name, dims, data))
	case []int8:
		return erase(CopyOf(name, dims, data))
	case []int16:
		return erase(CopyOf(name, dims, data))
	case []int32:
		return erase(CopyOf(name, dims, data))
	case []int64:
		return erase(CopyOf(name, dims, data))
	case []uint8:
		return erase(CopyOf(name, dims, data))
	case []uint16:
		return erase(CopyOf(name, dims, data))
	case []uint32:
		return erase(CopyOf(name, dims, data))
	case []uint64:
		return erase(CopyOf(name, dims, data))
	case []bool:
		return erase(CopyOf(name, dims, data))
	default:
		return erase(CopyOf(name, dims, data.([]string)))
	}
}

func (heapAllocator) FromExternal(name string, typ TensorType, dims Shape, data any, deleter Deleter) (Tensor, error) {
	if err := checkSlice(name, typ, data); err != nil {
		return nil, err
	}
	switch d := data.(type) {
	case []float16.Float16:
		return erase(Wrap(name, dims, d, deleter))
	case []float32:
		return erase(Wrap(name, dims, d, deleter))
	case []float64:
		return erase(Wrap(name, dims, d, deleter))
	case []int8:
		return erase(Wrap(name, dims, d, deleter))
	case []int16:
		return erase(Wrap(name, dims, d, deleter))
	case []int32:
		return erase(Wrap(name, dims, d, deleter))
	case []int64:
		return erase(Wrap(name, dims, d, deleter))
	case []uint8:
		return erase(Wrap(name, dims, d, deleter))
	case []uint16:
		return erase(Wrap(name, dims, d, deleter))
	case []uint32:
		return erase(Wrap(name, dims, d, deleter))
	case []uint64:
		return erase(Wrap(name, dims, d, deleter))
	case []bool:
		return erase(Wrap(name, dims, d, deleter))
	default:
		return erase(Wrap(name, dims, d.([]string), deleter))
	}
}

func (heapAllocator) FromExternalBytes(name string, typ TensorType, dims Shape, buf []byte, deleter Deleter) (Tensor, error) {
	switch typ {
	case Float16:
		return erase(wrapBytes[float16.Float16](name, dims, buf, deleter))
	case Float32:
		return erase(wrapBytes[float32](name, dims, buf, deleter))
	case Float64:
		return erase(wrapBytes[float64](name, dims, buf, deleter))
	case Int8:
		return erase(wrapBytes[int8](name, dims, buf, deleter))
	case Int16:
		return erase(wrapBytes[int16](name, dims, buf, deleter))
	case Int32:
		return erase(wrapBytes[int32](name, dims, buf, deleter))
	case Int64:
		return erase(wrapBytes[int64](name, dims, buf, deleter))
	case Uint8:
		return erase(wrapBytes[uint8](name, dims, buf, deleter))
	case Uint16:
		return erase(wrapBytes[uint16](name, dims, buf, deleter))
	case Uint32:
		return erase(wrapBytes[uint32](name, dims, buf, deleter))
	case Uint64:
		return erase(wrapBytes[uint64](name, dims, buf, deleter))
	case Bool:
		return erase(wrapBytes[bool](name, dims, buf, deleter))
	default:
		return nil, fmt.Errorf("%w: tensor %q of type %s cannot be wrapped from bytes", ErrTypeMismatch, name, typ)
	}
}

// checkSlice verifies that data is a supported slice whose element type is typ.
func checkSlice(name string, typ TensorType, data any) error {
	got := typeOfSlice(data)
	if got == Invalid {
		return fmt.Errorf("%w: tensor %q: unsupported data %T", ErrTypeMismatch, name, data)
	}
	if got != typ {
		return fmt.Errorf("%w: tensor %q declared %s but data is %s", ErrTypeMismatch, name, typ, got)
	}
	return nil
}

// checkCount validates dims and that it describes exactly n elements.
func checkCount(name string, dims Shape, n int) error {
	if err := dims.Validate(); err != nil {
		return fmt.Errorf("tensor %q: %w", name, err)
	}
	if want := dims.NumElements(); want != n {
		return fmt.Errorf("%w: tensor %q: shape %v requires %d elements, but got %d",
			ErrShapeMismatch, name, dims, want, n)
	}
	return nil
}

// Zeros creates a tensor filled with the zero value of T.
func Zeros[T Element](name string, dims Shape) (*TypedTensor[T], error) {
	if err := dims.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return newTyped(name, dims, make([]T, dims.NumElements()), nil), nil
}

// CopyOf creates a tensor owning a copy of data.
// It fails with ErrShapeMismatch if len(data) differs from the element count of dims.
func CopyOf[T Element](name string, dims Shape, data []T) (*TypedTensor[T], error) {
	if err := checkCount(name, dims, len(data)); err != nil {
		return nil, err
	}
	owned := make([]T, len(data))
	copy(owned, data)
	return newTyped(name, dims, owned, nil), nil
}

// Scalar creates a single-element tensor with no dimensions.
func Scalar[T Element](name string, value T) *TypedTensor[T] {
	return newTyped(name, nil, []T{value}, nil)
}

// Wrap creates a tensor that borrows data without copying.
// The deleter (which may be nil) runs exactly once, when the last handle is released.
func Wrap[T Element](name string, dims Shape, data []T, deleter Deleter) (*TypedTensor[T], error) {
	if err := checkCount(name, dims, len(data)); err != nil {
		return nil, err
	}
	if deleter == nil {
		deleter = func() {}
	}
	return newTyped(name, dims, data[:len(data):len(data)], deleter), nil
}

// Adopt creates a tensor taking ownership of data without copying. The caller must not
// use data afterwards. Backends use it to hand freshly computed buffers to the caller.
func Adopt[T Element](name string, dims Shape, data []T) (*TypedTensor[T], error) {
	if err := checkCount(name, dims, len(data)); err != nil {
		return nil, err
	}
	return newTyped(name, dims, data, nil), nil
}

func wrapBytes[T Fixed](name string, dims Shape, buf []byte, deleter Deleter) (*TypedTensor[T], error) {
	if err := dims.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	n := dims.NumElements()
	size := TypeOf[T]().Size()
	if len(buf) < n*size {
		return nil, fmt.Errorf("%w: tensor %q: shape %v requires %d bytes, but buffer has %d",
			ErrShapeMismatch, name, dims, n*size, len(buf))
	}
	var data []T
	if n > 0 {
		//nolint:gosec // unsafe.Slice for zero-copy wrapping, alignment is a documented precondition
		data = unsafe.Slice((*T)(unsafe.Pointer(&buf[0])), n)
	} else {
		data = []T{}
	}
	return Wrap(name, dims, data, deleter)
}

// erase converts a typed constructor result into a type-erased one without
// producing a non-nil interface holding a nil pointer.
func erase[T Element](t *TypedTensor[T], err error) (Tensor, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}
