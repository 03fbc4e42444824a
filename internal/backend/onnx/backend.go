// Package onnx is a pure Go inference engine for ONNX models.
//
// A package for the "onnx" platform stores its graph in 0/data/model.onnx. The graph
// inputs and outputs must match the manifest declarations by name and element type.
// The model is parsed with the protobuf wire decoder, initializers and Constant nodes
// are materialized once at load, and Infer calls only allocate intermediate values,
// so a loaded model can serve concurrent calls.
package onnx

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Name is the registered backend name and the manifest platform it serves.
const Name = "onnx"

// Version is the engine version checked against platform_version.
const Version = "v1.0.0"

// ModelFile is the graph file inside the package data directory.
const ModelFile = "model.onnx"

func init() {
	backend.Register(backend.Registration{
		Name:      Name,
		Platforms: []string{Name},
		Version:   Version,
		New:       Load,
	})
}

// Backend runs a compiled ONNX graph.
type Backend struct {
	inputs  []tensor.Spec
	outputs []tensor.Spec
	graph   *Graph
	cfg     parallel.Config

	mu     sync.RWMutex
	closed bool
}

var _ backend.Backend = (*Backend)(nil)

// Load parses and compiles the model of pkg.
func Load(pkg *manifest.Package, opts backend.Options) (backend.Backend, error) {
	data, err := pkg.ReadData(ModelFile)
	if err != nil {
		return nil, err
	}
	model, err := Parse(data)
	if err != nil {
		return nil, err
	}
	graph, err := Compile(model, NewRegistry(), opts.StrictOps)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ModelFile, err)
	}

	b := &Backend{
		inputs:  pkg.Manifest.InputSpecs(),
		outputs: pkg.Manifest.OutputSpecs(),
		graph:   graph,
		cfg:     parallel.WithWorkers(opts.Parallelism),
	}
	if err := b.checkSignature(); err != nil {
		graph.Close()
		return nil, err
	}

	klog.V(2).InfoS("Compiled ONNX graph",
		"producer", model.ProducerName,
		"opset", model.opsetVersion(),
		"nodes", graph.NumNodes(),
		"levels", graph.NumLevels())
	return b, nil
}

// checkSignature verifies that the manifest declarations match the graph.
func (b *Backend) checkSignature() error {
	for _, in := range b.graph.Inputs {
		spec, ok := tensor.FindSpec(b.inputs, in.Name)
		if !ok {
			return fmt.Errorf("graph input %q is not declared in the manifest", in.Name)
		}
		if spec.Type != in.Type {
			return fmt.Errorf("%w: input %q is declared %s, graph expects %s",
				tensor.ErrTypeMismatch, in.Name, spec.Type, in.Type)
		}
	}
	for _, spec := range b.inputs {
		if _, ok := tensor.FindSpec(b.graph.Inputs, spec.Name); !ok {
			return fmt.Errorf("declared input %q is not a graph input", spec.Name)
		}
	}
	for _, spec := range b.outputs {
		out, ok := tensor.FindSpec(b.graph.Outputs, spec.Name)
		if !ok {
			return fmt.Errorf("declared output %q is not a graph output", spec.Name)
		}
		if spec.Type != out.Type {
			return fmt.Errorf("%w: output %q is declared %s, graph produces %s",
				tensor.ErrTypeMismatch, spec.Name, spec.Type, out.Type)
		}
	}
	return nil
}

// Name returns "onnx".
func (b *Backend) Name() string { return Name }

// InputSpecs returns the declared inputs.
func (b *Backend) InputSpecs() []tensor.Spec { return b.inputs }

// OutputSpecs returns the declared outputs.
func (b *Backend) OutputSpecs() []tensor.Spec { return b.outputs }

// Allocator returns the heap allocator; the engine reads Go slices directly.
func (b *Backend) Allocator() tensor.Allocator { return tensor.DefaultAllocator }

// Unsupported returns operators the graph uses that the engine cannot run.
func (b *Backend) Unsupported() []string { return b.graph.Unsupported() }

// Infer validates inputs, runs the graph and returns the selected outputs in
// request order.
func (b *Backend) Infer(inputs *tensor.Map, outputs []string) (*tensor.Map, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("%w: onnx backend is closed", tensor.ErrInvalidState)
	}

	bindings, err := backend.ValidateInputs(b.inputs, inputs)
	if err != nil {
		return nil, err
	}
	selected, err := backend.SelectOutputs(b.outputs, outputs)
	if err != nil {
		return nil, err
	}

	feed := make(map[string]tensor.Tensor, len(b.inputs))
	for _, spec := range b.inputs {
		t, _ := inputs.Find(spec.Name)
		feed[spec.Name] = t
	}
	names := make([]string, len(selected))
	for i, spec := range selected {
		names[i] = spec.Name
	}
	values, err := b.graph.Run(context.Background(), feed, names, b.cfg)
	if err != nil {
		return nil, err
	}

	ordered := make([]tensor.Tensor, len(names))
	for i, name := range names {
		ordered[i] = values[name]
	}
	result, err := tensor.NewMap(ordered...)
	if err != nil {
		for _, t := range ordered {
			t.Release()
		}
		return nil, err
	}
	if err := backend.CheckOutputs(selected, result, bindings); err != nil {
		result.Release()
		return nil, err
	}
	return result, nil
}

// Close releases the graph constants. Later calls are no-ops.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.graph.Close()
	}
	return nil
}
