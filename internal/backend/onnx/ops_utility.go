package onnx

import (
	"fmt"
	"strconv"

	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// registerUtilityOps adds utility operators to the registry.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Dropout", handleIdentity)
	r.Register("Constant", handleConstant)
	r.Register("Cast", handleCast)
	r.Register("Size", handleSize)
	r.Register("Where", handleWhere)
}

// handleIdentity returns a new handle on the input. Dropout is the identity at inference.
func handleIdentity(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, len(inputs)); err != nil {
		return nil, err
	}
	return single(tensor.View(inputs[0], outName(node, 0), inputs[0].Dims()))
}

// handleConstant materializes the value, value_float(s), value_int(s) or
// value_string(s) attribute.
func handleConstant(_ *Context, node *NodeProto, _ []tensor.Tensor) ([]tensor.Tensor, error) {
	name := outName(node, 0)
	for i := range node.Attributes {
		a := &node.Attributes[i]
		switch a.Name {
		case "value":
			if a.T == nil {
				return nil, fmt.Errorf("Constant: value attribute has no tensor")
			}
			return single(TensorFromProto(name, a.T))
		case "value_float":
			return single(tensor.Scalar(name, a.F), nil)
		case "value_floats":
			return single(tensor.CopyOf(name, tensor.Shape{int64(len(a.Floats))}, a.Floats))
		case "value_int":
			return single(tensor.Scalar(name, a.I), nil)
		case "value_ints":
			return single(tensor.CopyOf(name, tensor.Shape{int64(len(a.Ints))}, a.Ints))
		case "value_string":
			return single(tensor.Scalar(name, string(a.S)), nil)
		case "value_strings":
			data := make([]string, len(a.Strings))
			for j, s := range a.Strings {
				data[j] = string(s)
			}
			return single(adopt(name, tensor.Shape{int64(len(data))}, data))
		}
	}
	return nil, fmt.Errorf("Constant: no value attribute found")
}

func handleSize(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(tensor.Scalar(outName(node, 0), int64(inputs[0].NumElements())), nil)
}

// handleWhere selects from X where the condition holds and from Y elsewhere.
func handleWhere(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 3, 3); err != nil {
		return nil, err
	}
	cond, err := tensor.As[bool](inputs[0])
	if err != nil {
		return nil, fmt.Errorf("Where condition: %w", err)
	}
	if err := sameType(node, inputs[1:]); err != nil {
		return nil, err
	}
	cd, xd, yd := cond.Dims(), inputs[1].Dims(), inputs[2].Dims()
	dims, err := tensor.BroadcastShapes(cd, xd)
	if err != nil {
		return nil, err
	}
	if dims, err = tensor.BroadcastShapes(dims, yd); err != nil {
		return nil, err
	}
	c := cond.Data()
	strides, cs, xs, ys := dims.Strides(), cd.Strides(), xd.Strides(), yd.Strides()
	pick := func(i int) (int, int) {
		if c[tensor.BroadcastIndex(dims, strides, cd, cs, i)] {
			return 0, tensor.BroadcastIndex(dims, strides, xd, xs, i)
		}
		return 1, tensor.BroadcastIndex(dims, strides, yd, ys, i)
	}
	return single(gather(outName(node, 0), dims, inputs[1:], pick))
}

// handleCast converts the input to the element type named by the "to" attribute.
func handleCast(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	to, err := ElemType(int32(attrInt(node, "to", TensorProtoUndefined))) //nolint:gosec // G115: enum values are small
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}
	in := inputs[0]
	name := outName(node, 0)
	if in.Type() == to {
		return single(tensor.View(in, name, in.Dims()))
	}
	v, err := readValues(in)
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}
	return single(v.write(name, in.Dims(), to))
}

// castValues holds tensor elements widened to one of the canonical kinds.
// Exactly one of f, i, u or s is set.
type castValues struct {
	f []float64
	i []int64
	u []uint64
	s []string
}

func widenTo[S, D tensor.Element](t tensor.Tensor, conv func(S) D) ([]D, error) {
	typed, err := tensor.As[S](t)
	if err != nil {
		return nil, err
	}
	out := make([]D, t.NumElements())
	for i, v := range typed.Data() {
		out[i] = conv(v)
	}
	return out, nil
}

func toF64[S float | integer](v S) float64 { return float64(v) }
func toI64[S float | integer](v S) int64 { return int64(v) }
func toU64[S integer](v S) uint64 { return uint64(v) } //nolint:gosec // G115: Cast wraps like C

//nolint:gocyclo,cyclop // One case per element type
func readValues(t tensor.Tensor) (castValues, error) {
	var v castValues
	var err error
	switch t.Type() {
	case tensor.Float16:
		v.f, err = widenTo(t, func(x float16.Float16) float64 { return float64(x.Float32()) })
	case tensor.Float32:
		v.f, err = widenTo(t, toF64[float32])
	case tensor.Float64:
		v.f, err = widenTo(t, toF64[float64])
	case tensor.Int8:
		v.i, err = widenTo(t, toI64[int8])
	case tensor.Int16:
		v.i, err = widenTo(t, toI64[int16])
	case tensor.Int32:
		v.i, err = widenTo(t, toI64[int32])
	case tensor.Int64:
		v.i, err = widenTo(t, toI64[int64])
	case tensor.Uint8:
		v.u, err = widenTo(t, toU64[uint8])
	case tensor.Uint16:
		v.u, err = widenTo(t, toU64[uint16])
	case tensor.Uint32:
		v.u, err = widenTo(t, toU64[uint32])
	case tensor.Uint64:
		v.u, err = widenTo(t, toU64[uint64])
	case tensor.Bool:
		v.i, err = widenTo(t, func(x bool) int64 {
			if x {
				return 1
			}
			return 0
		})
	case tensor.String:
		v.s, err = widenTo(t, func(x string) string { return x })
	default:
		err = fmt.Errorf("%w: cannot cast %s", tensor.ErrTypeMismatch, t.Type())
	}
	return v, err
}

// strings formats the elements in their shortest decimal form.
func (v castValues) strings() []string {
	switch {
	case v.s != nil:
		return v.s
	case v.f != nil:
		out := make([]string, len(v.f))
		for j, x := range v.f {
			out[j] = strconv.FormatFloat(x, 'g', -1, 64)
		}
		return out
	case v.i != nil:
		out := make([]string, len(v.i))
		for j, x := range v.i {
			out[j] = strconv.FormatInt(x, 10)
		}
		return out
	default:
		out := make([]string, len(v.u))
		for j, x := range v.u {
			out[j] = strconv.FormatUint(x, 10)
		}
		return out
	}
}

// parse converts string elements to float64 or, for integer targets, int64.
func (v *castValues) parse(integral bool) error {
	if v.s == nil {
		return nil
	}
	if integral {
		v.i = make([]int64, len(v.s))
		for j, s := range v.s {
			x, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("Cast: %w", err)
			}
			v.i[j] = x
		}
	} else {
		v.f = make([]float64, len(v.s))
		for j, s := range v.s {
			x, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("Cast: %w", err)
			}
			v.f[j] = x
		}
	}
	v.s = nil
	return nil
}

func castNumber[D float | integer](v castValues) []D {
	var out []D
	switch {
	case v.f != nil:
		out = make([]D, len(v.f))
		for j, x := range v.f {
			out[j] = D(x)
		}
	case v.i != nil:
		out = make([]D, len(v.i))
		for j, x := range v.i {
			out[j] = D(x)
		}
	default:
		out = make([]D, len(v.u))
		for j, x := range v.u {
			out[j] = D(x)
		}
	}
	return out
}

//nolint:gocyclo,cyclop // One case per element type
func (v castValues) write(name string, dims tensor.Shape, to tensor.TensorType) (tensor.Tensor, error) {
	if to == tensor.String {
		return adopt(name, dims, v.strings())
	}
	if err := v.parse(!to.IsFloat() && to != tensor.Bool); err != nil {
		return nil, err
	}
	switch to {
	case tensor.Float16:
		f := castNumber[float32](v)
		out := make([]float16.Float16, len(f))
		for j, x := range f {
			out[j] = float16.Fromfloat32(x)
		}
		return adopt(name, dims, out)
	case tensor.Float32:
		return adopt(name, dims, castNumber[float32](v))
	case tensor.Float64:
		return adopt(name, dims, castNumber[float64](v))
	case tensor.Int8:
		return adopt(name, dims, castNumber[int8](v))
	case tensor.Int16:
		return adopt(name, dims, castNumber[int16](v))
	case tensor.Int32:
		return adopt(name, dims, castNumber[int32](v))
	case tensor.Int64:
		return adopt(name, dims, castNumber[int64](v))
	case tensor.Uint8:
		return adopt(name, dims, castNumber[uint8](v))
	case tensor.Uint16:
		return adopt(name, dims, castNumber[uint16](v))
	case tensor.Uint32:
		return adopt(name, dims, castNumber[uint32](v))
	case tensor.Uint64:
		return adopt(name, dims, castNumber[uint64](v))
	default: // Bool
		f := castNumber[float64](v)
		out := make([]bool, len(f))
		for j, x := range f {
			out[j] = x != 0
		}
		return adopt(name, dims, out)
	}
}
