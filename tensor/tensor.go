// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Fixed is a constraint for element types with a fixed byte width.
type Fixed = tensor.Fixed

// Element is a constraint for every supported element type.
type Element = tensor.Element

// TensorType is the element type of a tensor.
type TensorType = tensor.TensorType

// Supported element types.
const (
	Invalid = tensor.Invalid
	Float16 = tensor.Float16
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int8    = tensor.Int8
	Int16   = tensor.Int16
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Uint16  = tensor.Uint16
	Uint32  = tensor.Uint32
	Uint64  = tensor.Uint64
	Bool    = tensor.Bool
	String  = tensor.String
)

// Shape is the dimensions of a tensor, outermost first.
type Shape = tensor.Shape

// Tensor is a type-erased tensor handle.
type Tensor = tensor.Tensor

// TypedTensor is the typed view of a tensor with elements of type T.
type TypedTensor[T Element] = tensor.TypedTensor[T]

// Errors returned by tensors, builders and maps.
var (
	ErrShapeMismatch = tensor.ErrShapeMismatch
	ErrTypeMismatch  = tensor.ErrTypeMismatch
	ErrDuplicateName = tensor.ErrDuplicateName
	ErrInvalidState  = tensor.ErrInvalidState
	ErrKeyNotFound   = tensor.ErrKeyNotFound
)

// ParseType returns the TensorType named name, such as "float32" or "string".
func ParseType(name string) (TensorType, error) { return tensor.ParseType(name) }

// TypeOf returns the TensorType of T.
func TypeOf[T Element]() TensorType { return tensor.TypeOf[T]() }

// As returns the typed view of t, or ErrTypeMismatch if T is not its element type.
func As[T Element](t Tensor) (*TypedTensor[T], error) { return tensor.As[T](t) }

// View returns a new handle on the storage of t with another name and shape
// holding the same number of elements.
func View(t Tensor, name string, dims Shape) (Tensor, error) { return tensor.View(t, name, dims) }

// Spec declares the name, element type and shape of a model input or output.
type Spec = tensor.Spec

// Dim is one dimension of a Spec.
type Dim = tensor.Dim

// FixedDim returns a dimension of size n.
func FixedDim(n int64) Dim { return tensor.FixedDim(n) }

// AnyDim returns a dimension matching any size.
func AnyDim() Dim { return tensor.AnyDim() }

// SymbolDim returns a dimension that must have the same size everywhere name is used
// within one inference call.
func SymbolDim(name string) Dim { return tensor.SymbolDim(name) }

// FindSpec returns the spec named name.
func FindSpec(specs []Spec, name string) (Spec, bool) { return tensor.FindSpec(specs, name) }
