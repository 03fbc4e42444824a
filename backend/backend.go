// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package backend

import (
	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/tensor"
)

// Backend is a loaded model bound to one inference engine.
type Backend = backend.Backend

// Options configures a backend at load.
type Options = backend.Options

// Constructor loads the model of an opened package.
type Constructor = backend.Constructor

// Registration describes an engine.
type Registration = backend.Registration

// Package is an opened model package.
type Package = manifest.Package

// Manifest is the parsed config of a model package.
type Manifest = manifest.Manifest

// Errors returned by backends and the registry.
var (
	ErrMissingInput   = backend.ErrMissingInput
	ErrUnknownBackend = backend.ErrUnknownBackend
	ErrLoad           = backend.ErrLoad
)

// Register adds an engine. It panics on a duplicate name, a missing constructor or
// an invalid version.
func Register(r Registration) { backend.Register(r) }

// Lookup returns the engine registered under name, or ErrUnknownBackend.
func Lookup(name string) (Registration, error) { return backend.Lookup(name) }

// ForPlatform returns the first engine supporting platform, or ErrUnknownBackend.
func ForPlatform(platform string) (Registration, error) { return backend.ForPlatform(platform) }

// Names returns the registered engine names in registration order.
func Names() []string { return backend.Names() }

// Registrations returns every registered engine in registration order.
func Registrations() []Registration { return backend.Registrations() }

// ValidateInputs checks inputs against specs and returns the sizes bound to
// symbolic dimensions. Inputs without a spec are ignored.
func ValidateInputs(specs []tensor.Spec, inputs *tensor.Map) (map[string]int64, error) {
	return backend.ValidateInputs(specs, inputs)
}

// SelectOutputs returns the specs named by names, or all specs for nil names.
func SelectOutputs(specs []tensor.Spec, names []string) ([]tensor.Spec, error) {
	return backend.SelectOutputs(specs, names)
}

// CheckOutputs checks that outputs holds one tensor per spec, consistent with the
// bindings made by ValidateInputs.
func CheckOutputs(specs []tensor.Spec, outputs *tensor.Map, bindings map[string]int64) error {
	return backend.CheckOutputs(specs, outputs, bindings)
}
