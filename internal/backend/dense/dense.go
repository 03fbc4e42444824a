// Package dense is an inference engine for fully connected feed-forward networks.
//
// A package for the "dense" platform stores its parameters in
// 0/data/weights.safetensors:
//
//	layers.0.weight  [in, hidden]
//	layers.0.bias    [hidden]
//	layers.1.weight  [hidden, out]
//	layers.1.bias    [out]
//
// and the activation of every layer in the "activations" metadata entry, a
// comma-separated list such as "relu,identity". The model has one float32 or float64
// input of shape [batch, in] and one output of the same type and shape [batch, out].
package dense

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/safetensors"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Name is the registered backend name and the manifest platform it serves.
const Name = "dense"

// Version is the engine version checked against platform_version.
const Version = "v1.0.0"

// WeightsFile is the parameter file inside the package data directory.
const WeightsFile = "weights.safetensors"

// ActivationsKey is the metadata entry listing the layer activations.
const ActivationsKey = "activations"

func init() {
	backend.Register(backend.Registration{
		Name:      Name,
		Platforms: []string{Name},
		Version:   Version,
		New:       Load,
	})
}

// Activation is an element-wise function applied after a layer.
type Activation string

// Supported activations.
const (
	Identity Activation = "identity"
	ReLU     Activation = "relu"
	Sigmoid  Activation = "sigmoid"
	Tanh     Activation = "tanh"
)

func (a Activation) fn() (func(float64) float64, error) {
	switch a {
	case Identity, "":
		return nil, nil
	case ReLU:
		return func(x float64) float64 { return max(x, 0) }, nil
	case Sigmoid:
		return func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }, nil
	case Tanh:
		return math.Tanh, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", string(a))
	}
}

// layer computes act(x·W + b).
type layer struct {
	weight *mat.Dense // [in, out]
	bias   []float64  // [out]
	act    func(float64) float64
	name   Activation
}

func (l *layer) in() int  { r, _ := l.weight.Dims(); return r }
func (l *layer) out() int { _, c := l.weight.Dims(); return c }

// Backend runs a stack of dense layers.
type Backend struct {
	input  tensor.Spec
	output tensor.Spec
	layers []layer
	cfg    parallel.Config

	mu     sync.RWMutex
	closed bool
}

var _ backend.Backend = (*Backend)(nil)

// Load reads the weights of pkg and checks them against the manifest.
func Load(pkg *manifest.Package, opts backend.Options) (backend.Backend, error) {
	inputs, outputs := pkg.Manifest.InputSpecs(), pkg.Manifest.OutputSpecs()
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("dense models have one input and one output, got %d and %d", len(inputs), len(outputs))
	}
	b := &Backend{
		input:  inputs[0],
		output: outputs[0],
		cfg:    parallel.WithWorkers(opts.Parallelism),
	}
	if t := b.input.Type; t != tensor.Float32 && t != tensor.Float64 {
		return nil, fmt.Errorf("%w: input %q must be float32 or float64, not %s", tensor.ErrTypeMismatch, b.input.Name, t)
	}
	if b.output.Type != b.input.Type {
		return nil, fmt.Errorf("%w: output %q is %s, input is %s", tensor.ErrTypeMismatch, b.output.Name, b.output.Type, b.input.Type)
	}

	f, err := safetensors.ReadFile(pkg.DataPath(WeightsFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", WeightsFile, err)
	}
	if b.layers, err = readLayers(f); err != nil {
		return nil, err
	}
	if err := b.checkDims(); err != nil {
		return nil, err
	}

	klog.V(2).InfoS("Loaded dense model", "layers", len(b.layers), "in", b.layers[0].in(), "out", b.layers[len(b.layers)-1].out())
	return b, nil
}

// readLayers loads layers.<i>.weight and layers.<i>.bias until the first missing index.
func readLayers(f *safetensors.File) ([]layer, error) {
	var acts []string
	if s := f.Metadata()[ActivationsKey]; s != "" {
		acts = strings.Split(s, ",")
	}

	var layers []layer
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("layers.%d.", i)
		if _, ok := f.Header.Tensors[prefix+"weight"]; !ok {
			break
		}
		w, err := readMatrix(f, prefix+"weight")
		if err != nil {
			return nil, err
		}
		bias, err := readVector(f, prefix+"bias")
		if err != nil {
			return nil, err
		}
		if _, c := w.Dims(); len(bias) != c {
			return nil, fmt.Errorf("%w: %sbias has %d values for %d outputs", tensor.ErrShapeMismatch, prefix, len(bias), c)
		}
		l := layer{weight: w, bias: bias, name: Identity}
		if i < len(acts) {
			l.name = Activation(strings.ToLower(strings.TrimSpace(acts[i])))
		}
		if l.act, err = l.name.fn(); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("%s has no layers.0.weight", WeightsFile)
	}
	if len(acts) > len(layers) {
		return nil, fmt.Errorf("%d activations for %d layers", len(acts), len(layers))
	}
	return layers, nil
}

// float64s reads a float32 or float64 tensor as float64 values.
func float64s(t tensor.Tensor) ([]float64, error) {
	switch t.Type() {
	case tensor.Float64:
		typed, err := tensor.As[float64](t)
		if err != nil {
			return nil, err
		}
		return typed.DataCopy(), nil
	case tensor.Float32:
		typed, err := tensor.As[float32](t)
		if err != nil {
			return nil, err
		}
		out := make([]float64, t.NumElements())
		for i, v := range typed.Data() {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q is %s, expected a float tensor", tensor.ErrTypeMismatch, t.Name(), t.Type())
	}
}

func readMatrix(f *safetensors.File, name string) (*mat.Dense, error) {
	t, err := f.Tensor(name)
	if err != nil {
		return nil, err
	}
	defer t.Release()
	dims := t.Dims()
	if len(dims) != 2 || dims[0] == 0 || dims[1] == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty matrix, got %v", tensor.ErrShapeMismatch, name, dims)
	}
	data, err := float64s(t)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(int(dims[0]), int(dims[1]), data), nil
}

func readVector(f *safetensors.File, name string) ([]float64, error) {
	t, err := f.Tensor(name)
	if err != nil {
		return nil, err
	}
	defer t.Release()
	if dims := t.Dims(); len(dims) != 1 {
		return nil, fmt.Errorf("%w: %s must be a vector, got %v", tensor.ErrShapeMismatch, name, dims)
	}
	return float64s(t)
}

// checkDims verifies that layers chain and match the declared input and output.
func (b *Backend) checkDims() error {
	for i := 1; i < len(b.layers); i++ {
		if b.layers[i-1].out() != b.layers[i].in() {
			return fmt.Errorf("%w: layer %d has %d outputs, layer %d takes %d inputs",
				tensor.ErrShapeMismatch, i-1, b.layers[i-1].out(), i, b.layers[i].in())
		}
	}
	check := func(spec tensor.Spec, want int) error {
		if spec.Dims == nil {
			return nil
		}
		if len(spec.Dims) != 2 {
			return fmt.Errorf("%w: %q must be declared [batch, features], got %s", tensor.ErrShapeMismatch, spec.Name, spec.ShapeString())
		}
		if d := spec.Dims[1]; d.Size >= 0 && d.Size != int64(want) {
			return fmt.Errorf("%w: %q declares %d features, weights have %d", tensor.ErrShapeMismatch, spec.Name, d.Size, want)
		}
		return nil
	}
	if err := check(b.input, b.layers[0].in()); err != nil {
		return err
	}
	return check(b.output, b.layers[len(b.layers)-1].out())
}

// Name returns "dense".
func (b *Backend) Name() string { return Name }

// InputSpecs returns the single declared input.
func (b *Backend) InputSpecs() []tensor.Spec { return []tensor.Spec{b.input} }

// OutputSpecs returns the single declared output.
func (b *Backend) OutputSpecs() []tensor.Spec { return []tensor.Spec{b.output} }

// Allocator returns the heap allocator.
func (b *Backend) Allocator() tensor.Allocator { return tensor.DefaultAllocator }

// Infer runs the forward pass. Batch rows are split across workers.
func (b *Backend) Infer(inputs *tensor.Map, outputs []string) (*tensor.Map, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("%w: dense backend is closed", tensor.ErrInvalidState)
	}

	bindings, err := backend.ValidateInputs(b.InputSpecs(), inputs)
	if err != nil {
		return nil, err
	}
	selected, err := backend.SelectOutputs(b.OutputSpecs(), outputs)
	if err != nil {
		return nil, err
	}

	x, _ := inputs.Find(b.input.Name)
	dims := x.Dims()
	in, out := b.layers[0].in(), b.layers[len(b.layers)-1].out()
	if len(dims) != 2 || dims[1] != int64(in) {
		return nil, fmt.Errorf("%w: input %q has shape %v, expected [batch, %d]", tensor.ErrShapeMismatch, b.input.Name, dims, in)
	}
	data, err := float64s(x)
	if err != nil {
		return nil, err
	}
	batch := int(dims[0])
	result := make([]float64, batch*out)
	// Chunks count rows here, not elements.
	cfg := b.cfg
	cfg.MinChunkSize = max(1, cfg.MinChunkSize/max(in, out))
	parallel.Chunks(batch, func(start, end int) {
		b.forward(data[start*in:end*in], result[start*out:end*out], end-start)
	}, cfg)

	y, err := b.wrap(result, tensor.Shape{dims[0], int64(out)})
	if err != nil {
		return nil, err
	}
	m, err := tensor.NewMap(y)
	if err != nil {
		y.Release()
		return nil, err
	}
	if err := backend.CheckOutputs(selected, m, bindings); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

// forward evaluates n > 0 rows of src into dst.
func (b *Backend) forward(src, dst []float64, n int) {
	x := mat.NewDense(n, b.layers[0].in(), src)
	for _, l := range b.layers {
		var y mat.Dense
		y.Mul(x, l.weight)
		y.Apply(func(_, j int, v float64) float64 {
			v += l.bias[j]
			if l.act != nil {
				v = l.act(v)
			}
			return v
		}, &y)
		x = &y
	}
	copy(dst, x.RawMatrix().Data)
}

// wrap converts the result to the declared output type.
func (b *Backend) wrap(result []float64, dims tensor.Shape) (tensor.Tensor, error) {
	if b.output.Type == tensor.Float64 {
		t, err := tensor.Adopt(b.output.Name, dims, result)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	narrow := make([]float32, len(result))
	for i, v := range result {
		narrow[i] = float32(v)
	}
	t, err := tensor.Adopt(b.output.Name, dims, narrow)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Close marks the backend closed. Later calls are no-ops.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
