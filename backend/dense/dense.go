// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dense is the engine for fully connected networks stored as SafeTensors.
//
// The package data directory holds weights.safetensors with layers.<i>.weight
// ([in, out]) and layers.<i>.bias ([out]) for i = 0, 1, ..., and an optional
// "activations" metadata entry listing one activation per layer, comma separated.
// The model has one float32 or float64 input [batch, in] and one output
// [batch, out] of the same type.
package dense

import (
	"github.com/neuropod-go/neuropod/internal/backend/dense"
)

// Name is the registered backend name and the package platform it runs.
const Name = dense.Name

// Version is the engine version compared with platform_version.
const Version = dense.Version

// WeightsFile is the weights file name inside the package data directory.
const WeightsFile = dense.WeightsFile

// ActivationsKey is the SafeTensors metadata key listing the layer activations.
const ActivationsKey = dense.ActivationsKey

// Activation is a layer activation.
type Activation = dense.Activation

// Supported activations.
const (
	Identity = dense.Identity
	ReLU     = dense.ReLU
	Sigmoid  = dense.Sigmoid
	Tanh     = dense.Tanh
)
