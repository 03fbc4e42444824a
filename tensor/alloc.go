// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Deleter releases caller-owned memory wrapped by a tensor.
type Deleter = tensor.Deleter

// Allocator produces tensors of a requested type and shape, either copying the
// caller's data or wrapping it with a Deleter.
type Allocator = tensor.Allocator

// DefaultAllocator allocates tensors backed by Go slices.
var DefaultAllocator = tensor.DefaultAllocator

// Zeros returns a zero-filled tensor.
func Zeros[T Element](name string, dims Shape) (*TypedTensor[T], error) {
	return tensor.Zeros[T](name, dims)
}

// CopyOf returns a tensor owning a copy of data. len(data) must equal the number of
// elements of dims.
func CopyOf[T Element](name string, dims Shape, data []T) (*TypedTensor[T], error) {
	return tensor.CopyOf[T](name, dims, data)
}

// Scalar returns a rank-0 tensor holding value.
func Scalar[T Element](name string, value T) *TypedTensor[T] {
	return tensor.Scalar[T](name, value)
}

// Wrap returns a tensor backed by data without copying. deleter runs exactly once,
// after the last handle is released. If Wrap fails the deleter does not run.
func Wrap[T Element](name string, dims Shape, data []T, deleter Deleter) (*TypedTensor[T], error) {
	return tensor.Wrap[T](name, dims, data, deleter)
}
