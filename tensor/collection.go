// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Map is an immutable collection of tensors with unique names.
type Map = tensor.Map

// Builder accumulates named tensors for one inference call.
type Builder = tensor.Builder

// NewMap returns a Map taking ownership of tensors. Names must be unique.
func NewMap(tensors ...Tensor) (*Map, error) { return tensor.NewMap(tensors...) }

// NewBuilder returns an empty Builder. A nil alloc means DefaultAllocator; non-nil
// specs enable element type checks on add.
func NewBuilder(alloc Allocator, specs []Spec) *Builder { return tensor.NewBuilder(alloc, specs) }

// Lookup returns the typed view of the tensor named name in m. It fails with
// ErrKeyNotFound or ErrTypeMismatch.
func Lookup[T Element](m *Map, name string) (*TypedTensor[T], error) {
	return tensor.Lookup[T](m, name)
}
