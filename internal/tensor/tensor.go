package tensor

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Tensor is the type-erased view of a named, typed, shape-tagged tensor.
//
// Every Tensor value is a handle holding one reference on its storage. Clone
// creates another handle on the same storage, Release drops the handle's
// reference. Use As to obtain the typed view.
type Tensor interface {
	// Name returns the name the tensor was allocated with.
	Name() string
	// Type returns the element type. It never changes.
	Type() TensorType
	// Dims returns a copy of the tensor's shape.
	Dims() Shape
	// NumElements returns the product of Dims.
	NumElements() int
	// IsExternal reports whether the storage is caller-owned memory released by a Deleter.
	IsExternal() bool
	// Clone returns a new handle sharing the same storage.
	Clone() Tensor
	// Release drops this handle's reference. Calling it again is a no-op.
	Release()
	// Released reports whether Release was called on this handle.
	Released() bool

	String() string

	view(name string, dims Shape) Tensor
}

// TypedTensor is the concrete tensor for element type T.
type TypedTensor[T Element] struct {
	name    string
	dims    Shape
	data    []T
	h       *handle
	cleanup runtime.Cleanup
}

var _ Tensor = (*TypedTensor[float32])(nil)

// newTyped wraps data in a new handle. data must already hold dims.NumElements() values.
func newTyped[T Element](name string, dims Shape, data []T, deleter Deleter) *TypedTensor[T] {
	return attach(&TypedTensor[T]{
		name: name,
		dims: dims.Clone(),
		data: data,
	}, newStorage(deleter))
}

// attach binds t to st, and for borrowed memory registers a cleanup so that a handle
// dropped without Release still gives its reference back.
func attach[T Element](t *TypedTensor[T], st *storage) *TypedTensor[T] {
	t.h = &handle{st: st}
	if st.deleter != nil {
		t.cleanup = runtime.AddCleanup(t, func(h *handle) { h.release() }, t.h)
	}
	return t
}

// Name returns the tensor's name.
func (t *TypedTensor[T]) Name() string { return t.name }

// Type returns the tensor's element type.
func (t *TypedTensor[T]) Type() TensorType { return TypeOf[T]() }

// Dims returns a copy of the tensor's shape.
func (t *TypedTensor[T]) Dims() Shape { return t.dims.Clone() }

// NumElements returns the total number of elements.
func (t *TypedTensor[T]) NumElements() int { return len(t.data) }

// IsExternal reports whether the tensor wraps caller-owned memory.
func (t *TypedTensor[T]) IsExternal() bool { return t.h.st.deleter != nil }

// Released reports whether this handle was released.
func (t *TypedTensor[T]) Released() bool { return t.h.released.Load() }

// Data returns the row-major elements of the tensor without copying.
// It returns nil once the handle is released.
//
// WARNING: for borrowed tensors the slice aliases caller memory; writing to it
// modifies the caller's buffer.
func (t *TypedTensor[T]) Data() []T {
	if t.Released() {
		return nil
	}
	return t.data
}

// DataCopy returns a copy of the row-major elements.
func (t *TypedTensor[T]) DataCopy() []T {
	data := t.Data()
	if data == nil {
		return nil
	}
	out := make([]T, len(data))
	copy(out, data)
	return out
}

// At returns the element at the given indices.
// Panics if the number of indices or any index is out of bounds.
func (t *TypedTensor[T]) At(indices ...int64) T {
	if len(indices) != len(t.dims) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.dims), len(indices)))
	}
	offset := 0
	strides := t.dims.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= t.dims[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, t.dims[i]))
		}
		offset += int(idx) * strides[i]
	}
	return t.Data()[offset]
}

// Item returns the value of a tensor holding exactly one element.
func (t *TypedTensor[T]) Item() T {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("Item() only works for single-element tensors, got shape %v", t.dims))
	}
	return t.Data()[0]
}

// Bytes returns the raw little-endian bytes of a fixed-width tensor without copying.
// It returns nil for string tensors and released handles.
func (t *TypedTensor[T]) Bytes() []byte {
	data := t.Data()
	size := t.Type().Size()
	if size == 0 || len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounded by len(data)*size
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*size)
}

// Retain returns a new typed handle sharing the same storage.
// Panics if the handle was already released.
func (t *TypedTensor[T]) Retain() *TypedTensor[T] {
	if t.Released() {
		panic(fmt.Sprintf("tensor %q: clone of a released handle", t.name))
	}
	t.h.st.addRef()
	return attach(&TypedTensor[T]{
		name: t.name,
		dims: t.dims,
		data: t.data,
	}, t.h.st)
}

// Clone returns a new handle sharing the same storage.
func (t *TypedTensor[T]) Clone() Tensor {
	return t.Retain()
}

func (t *TypedTensor[T]) view(name string, dims Shape) Tensor {
	v := t.Retain()
	v.name = name
	v.dims = dims.Clone()
	return v
}

// View returns a new handle on the storage of t under another name and shape.
// The element count of dims must match. Reshape-like operators use it to avoid
// copying, and the view keeps borrowed memory alive like any other handle.
func View(t Tensor, name string, dims Shape) (Tensor, error) {
	if t.Released() {
		return nil, fmt.Errorf("%w: tensor %q was released", ErrInvalidState, t.Name())
	}
	if err := checkCount(name, dims, t.NumElements()); err != nil {
		return nil, err
	}
	return t.view(name, dims), nil
}

// Release drops this handle's reference on the storage. The deleter of a borrowed
// tensor runs when the last handle is released.
func (t *TypedTensor[T]) Release() {
	if t.h.release() && t.IsExternal() {
		t.cleanup.Stop()
	}
}

// String returns a human-readable description of the tensor.
func (t *TypedTensor[T]) String() string {
	return fmt.Sprintf("Tensor[%s]%v %q", t.Type(), t.dims, t.name)
}

// As downcasts a type-erased tensor to its typed view.
// It fails with ErrTypeMismatch if the tensor's element type is not T.
func As[T Element](t Tensor) (*TypedTensor[T], error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrTypeMismatch)
	}
	want := TypeOf[T]()
	if t.Type() != want {
		return nil, fmt.Errorf("%w: tensor %q is %s, not %s", ErrTypeMismatch, t.Name(), t.Type(), want)
	}
	typed, ok := t.(*TypedTensor[T])
	if !ok {
		return nil, fmt.Errorf("%w: tensor %q has unexpected representation %T", ErrTypeMismatch, t.Name(), t)
	}
	return typed, nil
}
