package onnx

import (
	"fmt"
	"math"

	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

type integer interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

type signed interface {
	float32 | float64 | int8 | int16 | int32 | int64
}

type float interface {
	float32 | float64
}

type number interface {
	float | integer
}

// registerMathOps adds element-wise operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", viaFloat32(arithmetic("Add")))
	r.Register("Sub", viaFloat32(arithmetic("Sub")))
	r.Register("Mul", viaFloat32(arithmetic("Mul")))
	r.Register("Div", viaFloat32(arithmetic("Div")))
	r.Register("Max", viaFloat32(arithmetic("Max")))
	r.Register("Min", viaFloat32(arithmetic("Min")))
	r.Register("Pow", viaFloat32(floatBinary(func(x, y float64) float64 { return math.Pow(x, y) })))

	r.Register("Equal", viaFloat32(compare("Equal")))
	r.Register("Greater", viaFloat32(compare("Greater")))
	r.Register("Less", viaFloat32(compare("Less")))

	r.Register("StringConcat", handleStringConcat)

	r.Register("Neg", viaFloat32(signedUnary(func(x float64) float64 { return -x })))
	r.Register("Abs", viaFloat32(signedUnary(math.Abs)))
	r.Register("Relu", viaFloat32(signedUnary(func(x float64) float64 { return max(x, 0) })))
	r.Register("Sigmoid", viaFloat32(floatUnary(func(x float64) float64 { return 1 / (1 + math.Exp(-x)) })))
	r.Register("Tanh", viaFloat32(floatUnary(math.Tanh)))
	r.Register("Exp", viaFloat32(floatUnary(math.Exp)))
	r.Register("Log", viaFloat32(floatUnary(math.Log)))
	r.Register("Sqrt", viaFloat32(floatUnary(math.Sqrt)))
}

// broadcast applies f to every pair of elements of a and b under NumPy broadcasting.
func broadcast[T, R tensor.Element](cfg parallel.Config, name string, a, b *tensor.TypedTensor[T], f func(x, y T) R) (tensor.Tensor, error) {
	ad, bd := a.Dims(), b.Dims()
	shape, err := tensor.BroadcastShapes(ad, bd)
	if err != nil {
		return nil, err
	}
	x, y := a.Data(), b.Data()
	res := make([]R, shape.NumElements())
	if ad.Equal(bd) {
		parallel.Chunks(len(res), func(start, end int) {
			for i := start; i < end; i++ {
				res[i] = f(x[i], y[i])
			}
		}, cfg)
	} else {
		strides, as, bs := shape.Strides(), ad.Strides(), bd.Strides()
		parallel.Chunks(len(res), func(start, end int) {
			for i := start; i < end; i++ {
				res[i] = f(x[tensor.BroadcastIndex(shape, strides, ad, as, i)],
					y[tensor.BroadcastIndex(shape, strides, bd, bs, i)])
			}
		}, cfg)
	}
	return adopt(name, shape, res)
}

// unary applies f to every element of a.
func unary[T, R tensor.Element](cfg parallel.Config, name string, a *tensor.TypedTensor[T], f func(T) R) (tensor.Tensor, error) {
	x := a.Data()
	res := make([]R, len(x))
	parallel.Chunks(len(res), func(start, end int) {
		for i := start; i < end; i++ {
			res[i] = f(x[i])
		}
	}, cfg)
	return adopt(name, a.Dims(), res)
}

func binaryArgs[T tensor.Element](a, b tensor.Tensor) (*tensor.TypedTensor[T], *tensor.TypedTensor[T], error) {
	x, err := tensor.As[T](a)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.As[T](b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func arithFunc[T number](op string) func(x, y T) T {
	switch op {
	case "Add":
		return func(x, y T) T { return x + y }
	case "Sub":
		return func(x, y T) T { return x - y }
	case "Mul":
		return func(x, y T) T { return x * y }
	case "Div":
		return func(x, y T) T { return x / y }
	case "Max":
		return func(x, y T) T { return max(x, y) }
	default:
		return func(x, y T) T { return min(x, y) }
	}
}

func arith[T number](ctx *Context, node *NodeProto, a, b tensor.Tensor) (tensor.Tensor, error) {
	x, y, err := binaryArgs[T](a, b)
	if err != nil {
		return nil, err
	}
	if node.OpType == "Div" && !tensor.TypeOf[T]().IsFloat() {
		for _, v := range y.Data() {
			if v == 0 {
				return nil, fmt.Errorf("%s: integer division by zero in %q", node.OpType, b.Name())
			}
		}
	}
	return broadcast(ctx.Parallel, outName(node, 0), x, y, arithFunc[T](node.OpType))
}

// arithmetic handles Add, Sub, Mul, Div, Max and Min over every numeric type.
func arithmetic(op string) OpHandler {
	return func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := wantInputs(node, inputs, 2, 2); err != nil {
			return nil, err
		}
		if err := sameType(node, inputs); err != nil {
			return nil, err
		}
		a, b := inputs[0], inputs[1]
		switch a.Type() {
		case tensor.Float32:
			return single(arith[float32](ctx, node, a, b))
		case tensor.Float64:
			return single(arith[float64](ctx, node, a, b))
		case tensor.Int8:
			return single(arith[int8](ctx, node, a, b))
		case tensor.Int16:
			return single(arith[int16](ctx, node, a, b))
		case tensor.Int32:
			return single(arith[int32](ctx, node, a, b))
		case tensor.Int64:
			return single(arith[int64](ctx, node, a, b))
		case tensor.Uint8:
			return single(arith[uint8](ctx, node, a, b))
		case tensor.Uint16:
			return single(arith[uint16](ctx, node, a, b))
		case tensor.Uint32:
			return single(arith[uint32](ctx, node, a, b))
		case tensor.Uint64:
			return single(arith[uint64](ctx, node, a, b))
		default:
			return nil, fmt.Errorf("%w: %s does not support %s", tensor.ErrTypeMismatch, op, a.Type())
		}
	}
}

func compareFunc[T number | string](op string) func(x, y T) bool {
	switch op {
	case "Equal":
		return func(x, y T) bool { return x == y }
	case "Greater":
		return func(x, y T) bool { return x > y }
	default:
		return func(x, y T) bool { return x < y }
	}
}

func cmpOp[T number | string](ctx *Context, node *NodeProto, a, b tensor.Tensor) (tensor.Tensor, error) {
	x, y, err := binaryArgs[T](a, b)
	if err != nil {
		return nil, err
	}
	return broadcast(ctx.Parallel, outName(node, 0), x, y, compareFunc[T](node.OpType))
}

// compare handles Equal, Greater and Less. The result is a bool tensor.
func compare(op string) OpHandler {
	return func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := wantInputs(node, inputs, 2, 2); err != nil {
			return nil, err
		}
		if err := sameType(node, inputs); err != nil {
			return nil, err
		}
		a, b := inputs[0], inputs[1]
		switch a.Type() {
		case tensor.Float32:
			return single(cmpOp[float32](ctx, node, a, b))
		case tensor.Float64:
			return single(cmpOp[float64](ctx, node, a, b))
		case tensor.Int8:
			return single(cmpOp[int8](ctx, node, a, b))
		case tensor.Int16:
			return single(cmpOp[int16](ctx, node, a, b))
		case tensor.Int32:
			return single(cmpOp[int32](ctx, node, a, b))
		case tensor.Int64:
			return single(cmpOp[int64](ctx, node, a, b))
		case tensor.Uint8:
			return single(cmpOp[uint8](ctx, node, a, b))
		case tensor.Uint16:
			return single(cmpOp[uint16](ctx, node, a, b))
		case tensor.Uint32:
			return single(cmpOp[uint32](ctx, node, a, b))
		case tensor.Uint64:
			return single(cmpOp[uint64](ctx, node, a, b))
		case tensor.String:
			if op != "Equal" {
				break
			}
			return single(cmpOp[string](ctx, node, a, b))
		case tensor.Bool:
			if op != "Equal" {
				break
			}
			x, y, err := binaryArgs[bool](a, b)
			if err != nil {
				return nil, err
			}
			return single(broadcast(ctx.Parallel, outName(node, 0), x, y, func(p, q bool) bool { return p == q }))
		}
		return nil, fmt.Errorf("%w: %s does not support %s", tensor.ErrTypeMismatch, op, a.Type())
	}
}

// handleStringConcat joins two string tensors element-wise with broadcasting.
func handleStringConcat(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 2, 2); err != nil {
		return nil, err
	}
	x, y, err := binaryArgs[string](inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("StringConcat: %w", err)
	}
	return single(broadcast(ctx.Parallel, outName(node, 0), x, y, func(p, q string) string { return p + q }))
}

func floatBinary(f func(x, y float64) float64) OpHandler {
	return func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := wantInputs(node, inputs, 2, 2); err != nil {
			return nil, err
		}
		if err := sameType(node, inputs); err != nil {
			return nil, err
		}
		switch inputs[0].Type() {
		case tensor.Float32:
			x, y, err := binaryArgs[float32](inputs[0], inputs[1])
			if err != nil {
				return nil, err
			}
			return single(broadcast(ctx.Parallel, outName(node, 0), x, y, func(p, q float32) float32 {
				return float32(f(float64(p), float64(q)))
			}))
		case tensor.Float64:
			x, y, err := binaryArgs[float64](inputs[0], inputs[1])
			if err != nil {
				return nil, err
			}
			return single(broadcast(ctx.Parallel, outName(node, 0), x, y, f))
		default:
			return nil, fmt.Errorf("%w: %s requires a float input, got %s",
				tensor.ErrTypeMismatch, node.OpType, inputs[0].Type())
		}
	}
}

func unaryOf[T signed](ctx *Context, node *NodeProto, a tensor.Tensor, f func(float64) float64) (tensor.Tensor, error) {
	x, err := tensor.As[T](a)
	if err != nil {
		return nil, err
	}
	return unary(ctx.Parallel, outName(node, 0), x, func(v T) T { return T(f(float64(v))) })
}

// floatUnary applies f to float32 and float64 tensors.
func floatUnary(f func(float64) float64) OpHandler {
	return func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := wantInputs(node, inputs, 1, 1); err != nil {
			return nil, err
		}
		switch a := inputs[0]; a.Type() {
		case tensor.Float32:
			return single(unaryOf[float32](ctx, node, a, f))
		case tensor.Float64:
			return single(unaryOf[float64](ctx, node, a, f))
		default:
			return nil, fmt.Errorf("%w: %s requires a float input, got %s", tensor.ErrTypeMismatch, node.OpType, a.Type())
		}
	}
}

// signedUnary applies f to float and signed integer tensors. Integer results are
// truncated back to the input type.
func signedUnary(f func(float64) float64) OpHandler {
	return func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		if err := wantInputs(node, inputs, 1, 1); err != nil {
			return nil, err
		}
		switch a := inputs[0]; a.Type() {
		case tensor.Float32:
			return single(unaryOf[float32](ctx, node, a, f))
		case tensor.Float64:
			return single(unaryOf[float64](ctx, node, a, f))
		case tensor.Int8:
			return single(unaryOf[int8](ctx, node, a, f))
		case tensor.Int16:
			return single(unaryOf[int16](ctx, node, a, f))
		case tensor.Int32:
			return single(unaryOf[int32](ctx, node, a, f))
		case tensor.Int64:
			return single(unaryOf[int64](ctx, node, a, f))
		default:
			return nil, fmt.Errorf("%w: %s requires a signed input, got %s", tensor.ErrTypeMismatch, node.OpType, a.Type())
		}
	}
}
