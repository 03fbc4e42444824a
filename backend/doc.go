// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend is the contract between Neuropod and inference engines.
//
// # Overview
//
// An engine implements Backend and registers a Constructor from its package init.
// neuropod.Load resolves the engine by explicit name or by the package platform,
// checks the package's platform_version against the registered Version and calls
// the constructor with the opened package:
//
//	func init() {
//	    backend.Register(backend.Registration{
//	        Name:      "myengine",
//	        Platforms: []string{"myplatform"},
//	        Version:   "v0.3.0",
//	        New:       load,
//	    })
//	}
//
// ValidateInputs, SelectOutputs and CheckOutputs implement the input and output
// checks every engine performs in Infer.
//
// # Shipped Engines
//
// Subpackages onnx and dense expose the engines linked into the neuropod package.
package backend
