package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// runOp executes a single node and returns its first output.
func runOp(t *testing.T, node NodeProto, inputs ...tensor.Tensor) (tensor.Tensor, error) {
	t.Helper()
	if node.Outputs == nil {
		node.Outputs = []string{"out"}
	}
	outs, err := NewRegistry().Execute(&Context{Parallel: parallel.DefaultConfig()}, &node, inputs)
	if err != nil {
		return nil, err
	}
	require.Len(t, outs, 1)
	t.Cleanup(outs[0].Release)
	return outs[0], nil
}

func values[T tensor.Element](t *testing.T, x tensor.Tensor) []T {
	t.Helper()
	typed, err := tensor.As[T](x)
	require.NoError(t, err)
	return typed.Data()
}

func vec[T tensor.Element](t *testing.T, name string, dims tensor.Shape, data ...T) tensor.Tensor {
	t.Helper()
	x, err := tensor.CopyOf(name, dims, data)
	require.NoError(t, err)
	t.Cleanup(x.Release)
	return x
}

func TestArithmeticBroadcast(t *testing.T) {
	a := vec[float32](t, "a", tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := vec[float32](t, "b", tensor.Shape{3}, 10, 20, 30)

	out, err := runOp(t, NodeProto{OpType: "Add"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, "out", out.Name())
	assert.Equal(t, tensor.Shape{2, 3}, out.Dims())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, values[float32](t, out))

	col := vec[float32](t, "c", tensor.Shape{2, 1}, 2, 3)
	out, err = runOp(t, NodeProto{OpType: "Mul"}, a, col)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 6, 12, 15, 18}, values[float32](t, out))

	_, err = runOp(t, NodeProto{OpType: "Add"}, a, vec[float32](t, "d", tensor.Shape{2}, 1, 2))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = runOp(t, NodeProto{OpType: "Add"}, a, vec[float64](t, "e", tensor.Shape{3}, 1, 2, 3))
	assert.ErrorIs(t, err, tensor.ErrTypeMismatch)
}

func TestIntegerOps(t *testing.T) {
	a := vec[int64](t, "a", tensor.Shape{3}, 7, -8, 9)
	b := vec[int64](t, "b", tensor.Shape{3}, 2, 3, 0)

	out, err := runOp(t, NodeProto{OpType: "Max"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3, 9}, values[int64](t, out))

	_, err = runOp(t, NodeProto{OpType: "Div"}, a, b)
	assert.Error(t, err)

	out, err = runOp(t, NodeProto{OpType: "Abs"}, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, values[int64](t, out))
}

func TestUnaryAndCompare(t *testing.T) {
	x := vec[float64](t, "x", tensor.Shape{3}, -1, 0, 4)

	out, err := runOp(t, NodeProto{OpType: "Relu"}, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 4}, values[float64](t, out))

	out, err = runOp(t, NodeProto{OpType: "Sigmoid"}, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2689414, 0.5, 0.9820138}, values[float64](t, out), 1e-6)

	out, err = runOp(t, NodeProto{OpType: "Greater"}, x, vec[float64](t, "z", tensor.Shape{}, 0))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true}, values[bool](t, out))

	s := vec[string](t, "s", tensor.Shape{2}, "a", "b")
	out, err = runOp(t, NodeProto{OpType: "Equal"}, s, vec[string](t, "r", tensor.Shape{1}, "b"))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, values[bool](t, out))

	_, err = runOp(t, NodeProto{OpType: "Exp"}, vec[int32](t, "i", tensor.Shape{1}, 1))
	assert.ErrorIs(t, err, tensor.ErrTypeMismatch)
}

func TestStringConcat(t *testing.T) {
	x := vec[string](t, "x", tensor.Shape{3}, "apple", "banana", "carrot")
	space := tensor.Scalar("space", " ")
	t.Cleanup(space.Release)

	out, err := runOp(t, NodeProto{OpType: "StringConcat"}, x, space)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple ", "banana ", "carrot "}, values[string](t, out))
}

func TestFloat16Widening(t *testing.T) {
	h := func(v float32) float16.Float16 { return float16.Fromfloat32(v) }
	a := vec(t, "a", tensor.Shape{2}, h(1.5), h(-2))
	b := vec(t, "b", tensor.Shape{2}, h(0.5), h(4))

	out, err := runOp(t, NodeProto{OpType: "Add"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float16, out.Type())
	assert.Equal(t, []float16.Float16{h(2), h(2)}, values[float16.Float16](t, out))
}

func TestMatMul(t *testing.T) {
	a := vec[float32](t, "a", tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := vec[float32](t, "b", tensor.Shape{3, 2}, 7, 8, 9, 10, 11, 12)

	out, err := runOp(t, NodeProto{OpType: "MatMul"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, out.Dims())
	assert.Equal(t, []float32{58, 64, 139, 154}, values[float32](t, out))

	// Batched with a broadcast right operand, and 1-D promotion.
	batched := vec[int64](t, "x", tensor.Shape{2, 1, 2}, 1, 2, 3, 4)
	v := vec[int64](t, "v", tensor.Shape{2}, 10, 1)
	out, err = runOp(t, NodeProto{OpType: "MatMul"}, batched, v)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 1}, out.Dims())
	assert.Equal(t, []int64{12, 34}, values[int64](t, out))

	_, err = runOp(t, NodeProto{OpType: "MatMul"}, a, a)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestGemm(t *testing.T) {
	a := vec[float64](t, "a", tensor.Shape{2, 2}, 1, 2, 3, 4)
	b := vec[float64](t, "b", tensor.Shape{2, 2}, 1, 0, 0, 1)
	c := vec[float64](t, "c", tensor.Shape{2}, 10, 20)
	node := NodeProto{OpType: "Gemm", Attributes: []AttributeProto{
		{Name: "alpha", Type: AttributeProtoFloat, F: 2},
		{Name: "transA", Type: AttributeProtoInt, I: 1},
	}}

	// 2·Aᵀ·I + C
	out, err := runOp(t, node, a, b, c)
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 26, 14, 28}, values[float64](t, out))

	out, err = runOp(t, NodeProto{OpType: "Gemm"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, values[float64](t, out))

	_, err = runOp(t, NodeProto{OpType: "Gemm"}, a, b, vec[float64](t, "d", tensor.Shape{3}, 1, 2, 3))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestReshape(t *testing.T) {
	x := vec[int32](t, "x", tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)

	out, err := runOp(t, NodeProto{OpType: "Reshape"}, x, vec[int64](t, "s", tensor.Shape{2}, 3, -1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, out.Dims())
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, values[int32](t, out))

	out, err = runOp(t, NodeProto{OpType: "Reshape"}, x, vec[int64](t, "s", tensor.Shape{3}, 0, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 1}, out.Dims())

	_, err = runOp(t, NodeProto{OpType: "Reshape"}, x, vec[int64](t, "s", tensor.Shape{2}, 4, -1))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestShapeOps(t *testing.T) {
	x := vec[float32](t, "x", tensor.Shape{1, 2, 3}, 1, 2, 3, 4, 5, 6)

	out, err := runOp(t, NodeProto{OpType: "Squeeze"}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, out.Dims())

	out, err = runOp(t, NodeProto{OpType: "Unsqueeze"}, x, vec[int64](t, "axes", tensor.Shape{1}, -1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 3, 1}, out.Dims())

	out, err = runOp(t, NodeProto{OpType: "Flatten"}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 6}, out.Dims())

	out, err = runOp(t, NodeProto{OpType: "Shape", Attributes: []AttributeProto{{Name: "start", Type: AttributeProtoInt, I: 1}}}, x)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, values[int64](t, out))

	out, err = runOp(t, NodeProto{OpType: "Size"}, x)
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, values[int64](t, out))
}

func TestTranspose(t *testing.T) {
	x := vec[string](t, "x", tensor.Shape{2, 3}, "a", "b", "c", "d", "e", "f")

	out, err := runOp(t, NodeProto{OpType: "Transpose"}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, out.Dims())
	assert.Equal(t, []string{"a", "d", "b", "e", "c", "f"}, values[string](t, out))

	y := vec[int8](t, "y", tensor.Shape{1, 2, 2}, 1, 2, 3, 4)
	perm := NodeProto{OpType: "Transpose", Attributes: []AttributeProto{{Name: "perm", Type: AttributeProtoInts, Ints: []int64{2, 0, 1}}}}
	out, err = runOp(t, perm, y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 1, 2}, out.Dims())
	assert.Equal(t, []int8{1, 3, 2, 4}, values[int8](t, out))
}

func TestConcat(t *testing.T) {
	a := vec[float32](t, "a", tensor.Shape{2, 1}, 1, 2)
	b := vec[float32](t, "b", tensor.Shape{2, 2}, 3, 4, 5, 6)
	node := NodeProto{OpType: "Concat", Attributes: []AttributeProto{{Name: "axis", Type: AttributeProtoInt, I: -1}}}

	out, err := runOp(t, node, a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, out.Dims())
	assert.Equal(t, []float32{1, 3, 4, 2, 5, 6}, values[float32](t, out))

	out, err = runOp(t, NodeProto{OpType: "Concat"}, b, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 2}, out.Dims())
	assert.Equal(t, []float32{3, 4, 5, 6, 3, 4, 5, 6}, values[float32](t, out))

	_, err = runOp(t, NodeProto{OpType: "Concat"}, a, b)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestWhere(t *testing.T) {
	cond := vec[bool](t, "c", tensor.Shape{3}, true, false, true)
	x := vec[int32](t, "x", tensor.Shape{3}, 1, 2, 3)
	y := vec[int32](t, "y", tensor.Shape{}, -1)

	out, err := runOp(t, NodeProto{OpType: "Where"}, cond, x, y)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -1, 3}, values[int32](t, out))
}

func TestCast(t *testing.T) {
	to := func(dt int64) NodeProto {
		return NodeProto{OpType: "Cast", Attributes: []AttributeProto{{Name: "to", Type: AttributeProtoInt, I: dt}}}
	}
	f := vec[float32](t, "f", tensor.Shape{3}, 1.9, -2.5, 0)

	out, err := runOp(t, to(TensorProtoInt32), f)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 0}, values[int32](t, out))

	out, err = runOp(t, to(TensorProtoBool), f)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, values[bool](t, out))

	out, err = runOp(t, to(TensorProtoString), vec[int64](t, "i", tensor.Shape{2}, 42, -7))
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "-7"}, values[string](t, out))

	out, err = runOp(t, to(TensorProtoDouble), vec[string](t, "s", tensor.Shape{2}, "1.5", "1e3"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1000}, values[float64](t, out))

	_, err = runOp(t, to(TensorProtoInt64), vec[string](t, "s", tensor.Shape{1}, "x"))
	assert.Error(t, err)

	_, err = runOp(t, to(TensorProtoComplex64), f)
	assert.ErrorIs(t, err, tensor.ErrTypeMismatch)
}

func TestConstant(t *testing.T) {
	out, err := runOp(t, NodeProto{OpType: "Constant", Attributes: []AttributeProto{
		{Name: "value_ints", Type: AttributeProtoInts, Ints: []int64{1, 2}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, values[int64](t, out))

	out, err = runOp(t, NodeProto{OpType: "Constant", Attributes: []AttributeProto{
		{Name: "value", Type: AttributeProtoTensor, T: &TensorProto{DataType: TensorProtoFloat, Dims: []int64{1}, FloatData: []float32{3}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, values[float32](t, out))

	_, err = runOp(t, NodeProto{OpType: "Constant"})
	assert.Error(t, err)
}

func TestUnsupportedOp(t *testing.T) {
	_, err := runOp(t, NodeProto{OpType: "Conv"}, vec[float32](t, "x", tensor.Shape{1}, 1))
	assert.ErrorIs(t, err, ErrUnsupportedOp)
	assert.NotContains(t, NewRegistry().SupportedOps(), "Conv")
	assert.Contains(t, NewRegistry().SupportedOps(), "StringConcat")
}
