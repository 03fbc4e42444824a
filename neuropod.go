// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package neuropod

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/tensor"

	// Shipped engines.
	_ "github.com/neuropod-go/neuropod/internal/backend/dense"
	_ "github.com/neuropod-go/neuropod/internal/backend/onnx"
)

// Neuropod is a loaded model bound to one inference engine.
//
// The zero value is unloaded: every method fails with ErrInvalidState or returns
// a zero result. Load returns a loaded Neuropod; Close destroys it. Infer may be
// called concurrently with the shipped engines.
type Neuropod struct {
	mu      sync.RWMutex
	pkg     *manifest.Package
	backend backend.Backend
	inputs  []tensor.Spec
	outputs []tensor.Spec
	id      uuid.UUID
	closed  bool
}

// Load opens the model package at path, a directory or a zip archive, and loads it
// into the engine selected by WithBackend or, by default, by the package platform.
//
// An unregistered backend name fails with ErrUnknownBackend. Other failures match
// ErrLoad. On failure nothing is left open.
func Load(path string, opts ...Option) (*Neuropod, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend != "" {
		if _, err := backend.Lookup(o.backend); err != nil {
			return nil, err
		}
	}

	pkg, err := manifest.Open(path)
	if err != nil {
		return nil, err
	}
	b, err := backend.New(pkg, o.backend, backend.Options{
		Parallelism: o.parallelism,
		StrictOps:   o.strictOps,
	})
	if err != nil {
		if cerr := pkg.Close(); cerr != nil {
			klog.Warningf("Closing package %s: %v", pkg.Source(), cerr)
		}
		return nil, err
	}

	n := &Neuropod{
		pkg:     pkg,
		backend: b,
		inputs:  cloneSpecs(b.InputSpecs()),
		outputs: cloneSpecs(b.OutputSpecs()),
		id:      uuid.New(),
	}
	klog.V(1).InfoS("Loaded model", "id", n.id, "name", pkg.Manifest.Name, "backend", b.Name(),
		"inputs", len(n.inputs), "outputs", len(n.outputs))
	return n, nil
}

func cloneSpecs(specs []tensor.Spec) []tensor.Spec {
	out := make([]tensor.Spec, len(specs))
	for i, s := range specs {
		out[i] = s.Clone()
	}
	return out
}

// loaded returns the backend, or ErrInvalidState if n is not loaded.
// The caller must hold n.mu.
func (n *Neuropod) loaded() (backend.Backend, error) {
	switch {
	case n.backend == nil:
		return nil, fmt.Errorf("%w: model not loaded", tensor.ErrInvalidState)
	case n.closed:
		return nil, fmt.Errorf("%w: model %s closed", tensor.ErrInvalidState, n.id)
	}
	return n.backend, nil
}

// Inputs returns the declared input specs.
func (n *Neuropod) Inputs() ([]tensor.Spec, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, err := n.loaded(); err != nil {
		return nil, err
	}
	return cloneSpecs(n.inputs), nil
}

// Outputs returns the declared output specs.
func (n *Neuropod) Outputs() ([]tensor.Spec, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, err := n.loaded(); err != nil {
		return nil, err
	}
	return cloneSpecs(n.outputs), nil
}

// NewInputBuilder returns an empty builder allocating with the engine's allocator
// and checking element types against the input specs.
func (n *Neuropod) NewInputBuilder() (*tensor.Builder, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	b, err := n.loaded()
	if err != nil {
		return nil, err
	}
	return tensor.NewBuilder(b.Allocator(), n.inputs), nil
}

// Infer runs the model on inputs and returns every declared output.
// The caller owns both maps and must release them.
func (n *Neuropod) Infer(inputs *tensor.Map) (*tensor.Map, error) {
	return n.InferOutputs(inputs)
}

// InferOutputs is like Infer but computes only the named outputs.
// Requesting an undeclared output fails with ErrKeyNotFound.
func (n *Neuropod) InferOutputs(inputs *tensor.Map, names ...string) (*tensor.Map, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	b, err := n.loaded()
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		return nil, fmt.Errorf("%w: nil inputs", backend.ErrMissingInput)
	}
	if len(names) == 0 {
		names = nil
	}
	klog.V(2).InfoS("Infer", "id", n.id, "inputs", inputs.Names(), "outputs", names)
	return b.Infer(inputs, names)
}

// Close releases the engine and removes any files extracted from a zip package.
// Tensors built from borrowed memory are unaffected. Close on a closed Neuropod
// returns nil.
func (n *Neuropod) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.backend == nil {
		return fmt.Errorf("%w: model not loaded", tensor.ErrInvalidState)
	}
	if n.closed {
		return nil
	}
	n.closed = true
	err := n.backend.Close()
	if perr := n.pkg.Close(); err == nil {
		err = perr
	}
	klog.V(1).InfoS("Closed model", "id", n.id, "err", err)
	return err
}

// Name returns the model name from the package manifest.
func (n *Neuropod) Name() string {
	if n.pkg == nil {
		return ""
	}
	return n.pkg.Manifest.Name
}

// Platform returns the platform the model was packaged for.
func (n *Neuropod) Platform() string {
	if n.pkg == nil {
		return ""
	}
	return n.pkg.Manifest.Platform
}

// BackendName returns the registered name of the engine running the model.
func (n *Neuropod) BackendName() string {
	if n.backend == nil {
		return ""
	}
	return n.backend.Name()
}

// ID identifies this instance in log lines.
func (n *Neuropod) ID() uuid.UUID { return n.id }

// Path returns the path the model was loaded from.
func (n *Neuropod) Path() string {
	if n.pkg == nil {
		return ""
	}
	return n.pkg.Source()
}

// Backends returns the names of the registered engines.
func Backends() []string {
	return backend.Names()
}
