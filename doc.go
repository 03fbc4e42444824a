// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package neuropod runs packaged machine-learning models through one
// backend-agnostic API.
//
// # Overview
//
// A model package is a directory (or a zip archive of one) holding a config that
// names the model, the platform it was produced for and its input and output
// tensor specs, plus the engine files under 0/data. Load opens the package, picks
// the inference engine registered for the platform and returns a *Neuropod:
//
//	model, err := neuropod.Load("addition_model")
//	if err != nil {
//	    return err
//	}
//	defer model.Close()
//
//	b := model.NewInputBuilder()
//	_ = b.AddTensor("x", []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	_ = b.AddTensor("y", []float32{7, 8, 9, 10}, tensor.Shape{2, 2})
//	inputs, err := b.Build()
//	if err != nil {
//	    return err
//	}
//	defer inputs.Release()
//
//	outputs, err := model.Infer(inputs)
//	if err != nil {
//	    return err
//	}
//	defer outputs.Release()
//
//	out, err := tensor.Lookup[float32](outputs, "out") // [8 10 12 14]
//
// # Memory ownership
//
// AddTensor copies the caller's data. AddTensorFromMemory wraps it without copying
// and calls the supplied deleter exactly once, after the last tensor handle sharing
// the memory is released. Input and output maps are owned by the caller and must be
// released when no longer needed.
//
// # Engines
//
// Two engines are linked in: "onnx" runs ONNX graphs with a pure Go interpreter and
// "dense" runs fully connected networks stored as SafeTensors. Other engines plug in
// through the backend package.
package neuropod
