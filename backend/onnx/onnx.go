// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package onnx is the pure Go ONNX engine.
//
// # Overview
//
// The engine reads 0/data/model.onnx from a package whose platform is "onnx",
// compiles the graph once at load and evaluates each topological level of the graph
// concurrently at inference. Graph inputs and outputs must match the package specs.
//
// Supported operators: Add, Sub, Mul, Div, Max, Min, Pow, Neg, Abs, Relu, Sigmoid,
// Tanh, Exp, Log, Sqrt, Equal, Less, Greater, Where, MatMul, Gemm, Identity, Dropout,
// Reshape, Flatten, Squeeze, Unsqueeze, Transpose, Concat, Shape, Size, Cast,
// Constant and StringConcat.
// Models using other operators fail at load with WithStrictOps and at inference
// otherwise.
//
// Importing the neuropod package registers the engine; this package exposes its
// name and file constants.
package onnx

import (
	"github.com/neuropod-go/neuropod/internal/backend/onnx"
)

// Name is the registered backend name and the package platform it runs.
const Name = onnx.Name

// Version is the engine version compared with platform_version.
const Version = onnx.Version

// ModelFile is the model file name inside the package data directory.
const ModelFile = onnx.ModelFile

// Backend is a loaded ONNX model.
type Backend = onnx.Backend

// ErrUnsupportedOp reports a graph operator the engine cannot run.
var ErrUnsupportedOp = onnx.ErrUnsupportedOp
