// Package backend defines the contract between the Neuropod façade and inference
// engines, and the registry engines add themselves to.
//
// An engine registers a Constructor from its package init:
//
//	func init() {
//		backend.Register(backend.Registration{
//			Name:      "onnx",
//			Platforms: []string{"onnx"},
//			Version:   "v1.0.0",
//			New:       Load,
//		})
//	}
//
// The façade resolves the backend by explicit name or by the package platform and
// calls the constructor with the opened package.
package backend

import (
	"errors"

	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Errors returned by backends and the registry.
var (
	ErrMissingInput   = errors.New("missing input")
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrLoad is manifest.ErrLoad.
	ErrLoad = manifest.ErrLoad
)

// Backend is a loaded model bound to one inference engine.
//
// Specs are fixed at load. Infer never mutates its inputs and returns a new Map
// owned by the caller.
type Backend interface {
	// Name returns the registered name of the engine.
	Name() string

	// InputSpecs returns the declared inputs.
	InputSpecs() []tensor.Spec

	// OutputSpecs returns the declared outputs.
	OutputSpecs() []tensor.Spec

	// Allocator returns the allocator input tensors should be created with.
	Allocator() tensor.Allocator

	// Infer runs the model. outputs selects a subset of the declared outputs;
	// nil requests all of them.
	Infer(inputs *tensor.Map, outputs []string) (*tensor.Map, error)

	// Close releases engine resources. It may be called more than once.
	Close() error
}

// Options configures a backend at load.
type Options struct {
	// Parallelism bounds the goroutines one Infer call may use. 0 means one per CPU.
	Parallelism int

	// StrictOps makes a load fail if the model uses operations the engine cannot run.
	// Otherwise such models load and fail at inference.
	StrictOps bool
}

// Constructor loads the model of an opened package. Failures should match ErrLoad.
type Constructor func(pkg *manifest.Package, opts Options) (Backend, error)
