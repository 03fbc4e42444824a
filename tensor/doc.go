// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the tensors exchanged with Neuropod models.
//
// # Overview
//
// A Tensor is a named, shaped array of one element type. Tensor values are
// type-erased handles; As and Lookup return the typed view *TypedTensor[T] and fail
// with ErrTypeMismatch when T is not the stored element type. Bytes are never
// reinterpreted.
//
//	t, err := tensor.CopyOf("x", tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
//	if err != nil {
//	    return err
//	}
//	defer t.Release()
//
//	v, err := tensor.As[float32](t) // v.Data() is [1 2 3 4]
//	_, err = tensor.As[int64](t)    // ErrTypeMismatch
//
// # Supported Element Types
//
// float16 (github.com/x448/float16), float32, float64, signed and unsigned
// integers of 8, 16, 32 and 64 bits, bool and string. String tensors hold
// independent Go strings and have no fixed element width.
//
// # Ownership
//
// Every handle holds one reference on the tensor's storage. Clone adds a handle,
// Release drops one. Storage created with Wrap or Allocator.FromExternal belongs
// to the caller: its Deleter runs exactly once, after the last handle is released.
// Until then the caller must keep the memory valid; violating this is undefined
// behavior and is not detected.
//
// # Collections
//
// A Builder accumulates the named inputs of one inference call and Build turns them
// into a Map. Inference returns its outputs as a Map too. Map.Get fails with
// ErrKeyNotFound for absent names.
package tensor
