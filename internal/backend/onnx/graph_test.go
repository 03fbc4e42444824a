package onnx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

func valueInfo(t *testing.T, name string, typ tensor.TensorType) ValueInfoProto {
	t.Helper()
	vi, err := ValueInfo(name, typ, nil)
	require.NoError(t, err)
	return vi
}

func node(op string, inputs []string, outputs ...string) NodeProto {
	return NodeProto{Name: outputs[0], OpType: op, Inputs: inputs, Outputs: outputs}
}

// diamondModel computes y = relu(x + b) * (x - b) and z = x + b, where b is an
// initializer. The Add and Sub nodes share the first level.
func diamondModel(t *testing.T) *ModelProto {
	return &ModelProto{Graph: &GraphProto{
		Nodes: []NodeProto{
			node("Mul", []string{"r", "d"}, "y"),
			node("Relu", []string{"z"}, "r"),
			node("Add", []string{"x", "b"}, "z"),
			node("Sub", []string{"x", "b"}, "d"),
		},
		Inputs:       []ValueInfoProto{valueInfo(t, "x", tensor.Float32), valueInfo(t, "b", tensor.Float32)},
		Outputs:      []ValueInfoProto{valueInfo(t, "y", tensor.Float32), valueInfo(t, "z", tensor.Float32)},
		Initializers: []TensorProto{{Name: "b", DataType: TensorProtoFloat, Dims: []int64{2}, FloatData: []float32{1, -1}}},
	}}
}

func TestCompileSchedule(t *testing.T) {
	g, err := Compile(diamondModel(t), nil, true)
	require.NoError(t, err)
	defer g.Close()

	require.Len(t, g.Inputs, 1, "initializers are not graph inputs")
	assert.Equal(t, "x", g.Inputs[0].Name)
	assert.Equal(t, 4, g.NumNodes())
	assert.Equal(t, 3, g.NumLevels())
	assert.Empty(t, g.Unsupported())
}

func TestRun(t *testing.T) {
	g, err := Compile(diamondModel(t), nil, true)
	require.NoError(t, err)
	defer g.Close()

	x, err := tensor.CopyOf("x", tensor.Shape{2}, []float32{2, -3})
	require.NoError(t, err)
	defer x.Release()

	for _, workers := range []int{1, 4} {
		out, err := g.Run(context.Background(), map[string]tensor.Tensor{"x": x}, []string{"y", "z"}, parallel.WithWorkers(workers))
		require.NoError(t, err)
		// z = [3, -4], relu = [3, 0], d = [1, -2]
		assert.Equal(t, []float32{3, 0}, values[float32](t, out["y"]))
		assert.Equal(t, []float32{3, -4}, values[float32](t, out["z"]))
		assert.Equal(t, "y", out["y"].Name())
		for _, v := range out {
			v.Release()
		}
	}
	assert.False(t, x.Released(), "inputs are borrowed")
}

func TestRunSelectsAndPassesThrough(t *testing.T) {
	m := diamondModel(t)
	m.Graph.Outputs = append(m.Graph.Outputs, valueInfo(t, "x", tensor.Float32))
	g, err := Compile(m, nil, true)
	require.NoError(t, err)
	defer g.Close()

	x, err := tensor.CopyOf("x", tensor.Shape{2}, []float32{5, 6})
	require.NoError(t, err)

	out, err := g.Run(context.Background(), map[string]tensor.Tensor{"x": x}, []string{"x"}, parallel.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 1)
	x.Release()
	// The returned handle keeps the input storage alive.
	assert.Equal(t, []float32{5, 6}, values[float32](t, out["x"]))
	out["x"].Release()

	_, err = g.Run(context.Background(), map[string]tensor.Tensor{}, []string{"y"}, parallel.DefaultConfig())
	assert.Error(t, err)
	_, err = g.Run(context.Background(), map[string]tensor.Tensor{"x": x}, []string{"nope"}, parallel.DefaultConfig())
	assert.ErrorIs(t, err, tensor.ErrKeyNotFound)
}

func TestRunCanceled(t *testing.T) {
	g, err := Compile(diamondModel(t), nil, true)
	require.NoError(t, err)
	defer g.Close()
	x, err := tensor.CopyOf("x", tensor.Shape{2}, []float32{1, 1})
	require.NoError(t, err)
	defer x.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Run(ctx, map[string]tensor.Tensor{"x": x}, []string{"y"}, parallel.DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunReleasesIntermediates(t *testing.T) {
	// a = relu(x), b = relu(a), c = relu(b)
	m := &ModelProto{Graph: &GraphProto{
		Nodes: []NodeProto{
			node("Relu", []string{"x"}, "a"),
			node("Relu", []string{"a"}, "b"),
			node("Relu", []string{"b"}, "c"),
		},
		Inputs:  []ValueInfoProto{valueInfo(t, "x", tensor.Float32)},
		Outputs: []ValueInfoProto{valueInfo(t, "c", tensor.Float32), valueInfo(t, "a", tensor.Float32)},
	}}
	reg := NewRegistry()
	relu, ok := reg.Get("Relu")
	require.True(t, ok)
	var seen []tensor.Tensor
	var releasedBeforeLast bool
	reg.Register("Relu", func(ctx *Context, n *NodeProto, in []tensor.Tensor) ([]tensor.Tensor, error) {
		if n.Outputs[0] == "c" {
			releasedBeforeLast = seen[1].Released()
		}
		seen = append(seen, in[0])
		return relu(ctx, n, in)
	})
	g, err := Compile(m, reg, true)
	require.NoError(t, err)
	defer g.Close()

	x, err := tensor.CopyOf("x", tensor.Shape{2}, []float32{-1, 2})
	require.NoError(t, err)
	defer x.Release()

	out, err := g.Run(context.Background(), map[string]tensor.Tensor{"x": x}, []string{"c"}, parallel.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.True(t, releasedBeforeLast, "a is dropped once b is computed")
	assert.False(t, x.Released())
	assert.Equal(t, []float32{0, 2}, values[float32](t, out["c"]))
	out["c"].Release()

	// A requested intermediate is kept for the caller.
	seen = nil
	out, err = g.Run(context.Background(), map[string]tensor.Tensor{"x": x}, []string{"c", "a"}, parallel.DefaultConfig())
	require.NoError(t, err)
	assert.False(t, releasedBeforeLast)
	assert.Equal(t, []float32{0, 2}, values[float32](t, out["a"]))
	for _, v := range out {
		v.Release()
	}
}

func TestCompileErrors(t *testing.T) {
	f32 := func(name string) ValueInfoProto { return valueInfo(t, name, tensor.Float32) }
	tests := map[string]*GraphProto{
		"undefined value": {
			Nodes:   []NodeProto{node("Relu", []string{"missing"}, "y")},
			Outputs: []ValueInfoProto{f32("y")},
		},
		"cycle": {
			Nodes:   []NodeProto{node("Relu", []string{"b"}, "a"), node("Relu", []string{"a"}, "b")},
			Outputs: []ValueInfoProto{f32("a")},
		},
		"duplicate producer": {
			Nodes:   []NodeProto{node("Relu", []string{"x"}, "y"), node("Neg", []string{"x"}, "y")},
			Inputs:  []ValueInfoProto{f32("x")},
			Outputs: []ValueInfoProto{f32("y")},
		},
		"overwrites input": {
			Nodes:   []NodeProto{node("Relu", []string{"x"}, "x")},
			Inputs:  []ValueInfoProto{f32("x")},
			Outputs: []ValueInfoProto{f32("x")},
		},
		"output never produced": {
			Inputs:  []ValueInfoProto{f32("x")},
			Outputs: []ValueInfoProto{f32("y")},
		},
	}
	for name, graph := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(&ModelProto{Graph: graph}, nil, false)
			assert.Error(t, err)
		})
	}

	_, err := Compile(&ModelProto{}, nil, false)
	assert.Error(t, err)
}

func TestUnsupportedStrictness(t *testing.T) {
	m := &ModelProto{Graph: &GraphProto{
		Nodes:   []NodeProto{node("Conv", []string{"x"}, "y"), node("Relu", []string{"x"}, "r")},
		Inputs:  []ValueInfoProto{valueInfo(t, "x", tensor.Float32)},
		Outputs: []ValueInfoProto{valueInfo(t, "y", tensor.Float32), valueInfo(t, "r", tensor.Float32)},
	}}

	_, err := Compile(m, nil, true)
	assert.ErrorIs(t, err, ErrUnsupportedOp)

	g, err := Compile(m, nil, false)
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, []string{"Conv"}, g.Unsupported())

	x, err := tensor.CopyOf("x", tensor.Shape{1}, []float32{-1})
	require.NoError(t, err)
	defer x.Release()
	inputs := map[string]tensor.Tensor{"x": x}

	// Outputs that do not depend on the unsupported node still run.
	out, err := g.Run(context.Background(), inputs, []string{"r"}, parallel.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, values[float32](t, out["r"]))
	out["r"].Release()

	_, err = g.Run(context.Background(), inputs, []string{"y"}, parallel.DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupportedOp)
}

func TestConstantFolding(t *testing.T) {
	m := &ModelProto{Graph: &GraphProto{
		Nodes: []NodeProto{
			{OpType: "Constant", Outputs: []string{"two"}, Attributes: []AttributeProto{{Name: "value_float", Type: AttributeProtoFloat, F: 2}}},
			node("Mul", []string{"x", "two"}, "y"),
		},
		Inputs:  []ValueInfoProto{valueInfo(t, "x", tensor.Float32)},
		Outputs: []ValueInfoProto{valueInfo(t, "y", tensor.Float32)},
	}}
	g, err := Compile(m, nil, true)
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, 1, g.NumNodes())

	x, err := tensor.CopyOf("x", tensor.Shape{2}, []float32{1.5, 3})
	require.NoError(t, err)
	defer x.Release()
	out, err := g.Run(context.Background(), map[string]tensor.Tensor{"x": x}, []string{"y"}, parallel.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 6}, values[float32](t, out["y"]))
	out["y"].Release()
}
