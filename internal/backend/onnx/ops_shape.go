package onnx

import (
	"fmt"
	"slices"

	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// registerShapeOps adds operators that move or reinterpret elements.
func (r *Registry) registerShapeOps() {
	r.Register("Reshape", handleReshape)
	r.Register("Flatten", handleFlatten)
	r.Register("Squeeze", handleSqueeze)
	r.Register("Unsqueeze", handleUnsqueeze)
	r.Register("Transpose", handleTranspose)
	r.Register("Concat", handleConcat)
	r.Register("Shape", handleShape)
}

// picker maps an output element to the source tensor and element it is copied from.
type picker func(i int) (src, idx int)

func gatherTyped[T tensor.Element](name string, dims tensor.Shape, srcs []tensor.Tensor, pick picker) (tensor.Tensor, error) {
	data := make([][]T, len(srcs))
	for i, s := range srcs {
		typed, err := tensor.As[T](s)
		if err != nil {
			return nil, err
		}
		data[i] = typed.Data()
	}
	res := make([]T, dims.NumElements())
	for i := range res {
		src, idx := pick(i)
		res[i] = data[src][idx]
	}
	return adopt(name, dims, res)
}

// gather builds a new tensor of shape dims by copying elements chosen by pick.
// All sources must have the same element type.
//
//nolint:gocyclo,cyclop // One case per element type
func gather(name string, dims tensor.Shape, srcs []tensor.Tensor, pick picker) (tensor.Tensor, error) {
	switch srcs[0].Type() {
	case tensor.Float16:
		return gatherTyped[float16.Float16](name, dims, srcs, pick)
	case tensor.Float32:
		return gatherTyped[float32](name, dims, srcs, pick)
	case tensor.Float64:
		return gatherTyped[float64](name, dims, srcs, pick)
	case tensor.Int8:
		return gatherTyped[int8](name, dims, srcs, pick)
	case tensor.Int16:
		return gatherTyped[int16](name, dims, srcs, pick)
	case tensor.Int32:
		return gatherTyped[int32](name, dims, srcs, pick)
	case tensor.Int64:
		return gatherTyped[int64](name, dims, srcs, pick)
	case tensor.Uint8:
		return gatherTyped[uint8](name, dims, srcs, pick)
	case tensor.Uint16:
		return gatherTyped[uint16](name, dims, srcs, pick)
	case tensor.Uint32:
		return gatherTyped[uint32](name, dims, srcs, pick)
	case tensor.Uint64:
		return gatherTyped[uint64](name, dims, srcs, pick)
	case tensor.Bool:
		return gatherTyped[bool](name, dims, srcs, pick)
	default:
		return gatherTyped[string](name, dims, srcs, pick)
	}
}

// int64s reads an int64 tensor operand.
func int64s(node *NodeProto, t tensor.Tensor) ([]int64, error) {
	typed, err := tensor.As[int64](t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node.OpType, err)
	}
	return typed.Data(), nil
}

// axesOf returns the axes operand at index i (opset 13 and later) or the axes attribute.
func axesOf(node *NodeProto, inputs []tensor.Tensor, i int) ([]int64, error) {
	if len(inputs) > i && inputs[i] != nil {
		return int64s(node, inputs[i])
	}
	return attrInts(node, "axes"), nil
}

// normalizeAxis maps a possibly negative axis into [0, rank).
func normalizeAxis(node *NodeProto, axis int64, rank int) (int, error) {
	if axis < 0 {
		axis += int64(rank)
	}
	if axis < 0 || axis >= int64(rank) {
		return 0, fmt.Errorf("%w: %s axis %d out of range for rank %d", tensor.ErrShapeMismatch, node.OpType, axis, rank)
	}
	return int(axis), nil
}

// handleReshape reinterprets the input with a new shape without copying.
// A 0 copies the input dimension unless allowzero is set; one -1 is inferred.
func handleReshape(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 2, 2); err != nil {
		return nil, err
	}
	target, err := int64s(node, inputs[1])
	if err != nil {
		return nil, err
	}
	in := inputs[0].Dims()
	allowZero := attrInt(node, "allowzero", 0) != 0

	dims := make(tensor.Shape, len(target))
	infer := -1
	known := 1
	for i, d := range target {
		switch {
		case d == 0 && !allowZero:
			if i >= len(in) {
				return nil, fmt.Errorf("%w: Reshape copies dimension %d of %v", tensor.ErrShapeMismatch, i, in)
			}
			dims[i] = in[i]
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("%w: Reshape target %v has more than one -1", tensor.ErrShapeMismatch, target)
			}
			infer = i
			continue
		case d < 0:
			return nil, fmt.Errorf("%w: Reshape target %v", tensor.ErrShapeMismatch, target)
		default:
			dims[i] = d
		}
		known *= int(dims[i])
	}
	if infer >= 0 {
		if known == 0 || inputs[0].NumElements()%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v to %v", tensor.ErrShapeMismatch, in, target)
		}
		dims[infer] = int64(inputs[0].NumElements() / known)
	}
	return single(tensor.View(inputs[0], outName(node, 0), dims))
}

// handleFlatten reshapes the input to a matrix split at axis.
func handleFlatten(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	in := inputs[0].Dims()
	axis := attrInt(node, "axis", 1)
	if axis < 0 {
		axis += int64(len(in))
	}
	if axis < 0 || axis > int64(len(in)) {
		return nil, fmt.Errorf("%w: Flatten axis %d out of range for rank %d", tensor.ErrShapeMismatch, axis, len(in))
	}
	dims := tensor.Shape{int64(in[:axis].NumElements()), int64(in[axis:].NumElements())}
	return single(tensor.View(inputs[0], outName(node, 0), dims))
}

// handleSqueeze removes size-1 dimensions, all of them if no axes are given.
func handleSqueeze(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 2); err != nil {
		return nil, err
	}
	axes, err := axesOf(node, inputs, 1)
	if err != nil {
		return nil, err
	}
	in := inputs[0].Dims()
	drop := make([]bool, len(in))
	for _, a := range axes {
		axis, err := normalizeAxis(node, a, len(in))
		if err != nil {
			return nil, err
		}
		if in[axis] != 1 {
			return nil, fmt.Errorf("%w: Squeeze axis %d has size %d", tensor.ErrShapeMismatch, axis, in[axis])
		}
		drop[axis] = true
	}
	dims := tensor.Shape{}
	for i, d := range in {
		if drop[i] || (len(axes) == 0 && d == 1) {
			continue
		}
		dims = append(dims, d)
	}
	return single(tensor.View(inputs[0], outName(node, 0), dims))
}

// handleUnsqueeze inserts size-1 dimensions at the given output axes.
func handleUnsqueeze(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 2); err != nil {
		return nil, err
	}
	axes, err := axesOf(node, inputs, 1)
	if err != nil {
		return nil, err
	}
	in := inputs[0].Dims()
	rank := len(in) + len(axes)
	insert := make([]bool, rank)
	for _, a := range axes {
		axis, err := normalizeAxis(node, a, rank)
		if err != nil {
			return nil, err
		}
		if insert[axis] {
			return nil, fmt.Errorf("%w: Unsqueeze axis %d repeated", tensor.ErrShapeMismatch, axis)
		}
		insert[axis] = true
	}
	dims := make(tensor.Shape, 0, rank)
	next := 0
	for i := range rank {
		if insert[i] {
			dims = append(dims, 1)
			continue
		}
		dims = append(dims, in[next])
		next++
	}
	return single(tensor.View(inputs[0], outName(node, 0), dims))
}

// handleTranspose permutes dimensions; the default reverses them.
func handleTranspose(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	in := inputs[0].Dims()
	perm := attrInts(node, "perm")
	if perm == nil {
		for i := len(in) - 1; i >= 0; i-- {
			perm = append(perm, int64(i))
		}
	}
	if len(perm) != len(in) {
		return nil, fmt.Errorf("%w: Transpose perm %v for rank %d", tensor.ErrShapeMismatch, perm, len(in))
	}
	seen := make([]bool, len(in))
	dims := make(tensor.Shape, len(in))
	for i, p := range perm {
		if p < 0 || p >= int64(len(in)) || seen[p] {
			return nil, fmt.Errorf("%w: Transpose perm %v is not a permutation", tensor.ErrShapeMismatch, perm)
		}
		seen[p] = true
		dims[i] = in[p]
	}

	inStrides, outStrides := in.Strides(), dims.Strides()
	pick := func(i int) (int, int) {
		idx := 0
		for d, p := range perm {
			idx += (i / outStrides[d]) % int(dims[d]) * inStrides[p]
		}
		return 0, idx
	}
	return single(gather(outName(node, 0), dims, inputs[:1], pick))
}

// handleConcat joins the inputs along axis.
func handleConcat(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, len(inputs)); err != nil {
		return nil, err
	}
	if slices.Contains(inputs, nil) {
		return nil, fmt.Errorf("Concat: inputs are required")
	}
	if err := sameType(node, inputs); err != nil {
		return nil, err
	}
	first := inputs[0].Dims()
	axis, err := normalizeAxis(node, attrInt(node, "axis", 0), len(first))
	if err != nil {
		return nil, err
	}

	dims := first.Clone()
	dims[axis] = 0
	// offsets[i] is where input i starts along axis.
	offsets := make([]int64, len(inputs)+1)
	for i, t := range inputs {
		d := t.Dims()
		if len(d) != len(first) {
			return nil, fmt.Errorf("%w: Concat ranks %v and %v", tensor.ErrShapeMismatch, first, d)
		}
		for j := range d {
			if j != axis && d[j] != first[j] {
				return nil, fmt.Errorf("%w: Concat shapes %v and %v", tensor.ErrShapeMismatch, first, d)
			}
		}
		dims[axis] += d[axis]
		offsets[i+1] = dims[axis]
	}

	inner := first[axis+1:].NumElements()
	size := int(dims[axis])
	pick := func(i int) (int, int) {
		outer, rest := i/(size*inner), i%(size*inner)
		pos := int64(rest / inner)
		src, _ := slices.BinarySearch(offsets, pos+1)
		src--
		width := int(offsets[src+1] - offsets[src])
		return src, (outer*width+int(pos-offsets[src]))*inner + rest%inner
	}
	return single(gather(outName(node, 0), dims, inputs, pick))
}

// handleShape returns the input dimensions as an int64 tensor, sliced by start and end.
func handleShape(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	in := inputs[0].Dims()
	rank := int64(len(in))
	clamp := func(v int64) int64 {
		if v < 0 {
			v += rank
		}
		return min(max(v, 0), rank)
	}
	start, end := clamp(attrInt(node, "start", 0)), clamp(attrInt(node, "end", rank))
	dims := []int64{}
	if start < end {
		dims = append(dims, in[start:end]...)
	}
	return single(adopt(outName(node, 0), tensor.Shape{int64(len(dims))}, dims))
}
