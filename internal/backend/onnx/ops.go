package onnx

import (
	"fmt"
	"slices"

	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// OpHandler runs one node. inputs holds one tensor per node input, nil for omitted
// optional inputs. The handler returns new handles named after node.Outputs and never
// releases its inputs.
type OpHandler func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error)

// Context carries per-call execution settings to operators.
type Context struct {
	Parallel parallel.Config
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerMathOps()
	r.registerMatMulOps()
	r.registerShapeOps()
	r.registerUtilityOps()

	return r
}

// Register adds or replaces an operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs the handler of node.OpType.
func (r *Registry) Execute(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, node.OpType)
	}
	return handler(ctx, node, inputs)
}

// SupportedOps returns the supported operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// attr returns the attribute called name, or nil.
func attr(node *NodeProto, name string) *AttributeProto {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return &node.Attributes[i]
		}
	}
	return nil
}

func attrInt(node *NodeProto, name string, defaultVal int64) int64 {
	if a := attr(node, name); a != nil {
		return a.I
	}
	return defaultVal
}

func attrInts(node *NodeProto, name string) []int64 {
	if a := attr(node, name); a != nil {
		return a.Ints
	}
	return nil
}

func attrFloat(node *NodeProto, name string, defaultVal float32) float32 {
	if a := attr(node, name); a != nil {
		return a.F
	}
	return defaultVal
}

// outName returns the name of the i-th output of node.
func outName(node *NodeProto, i int) string {
	if i < len(node.Outputs) {
		return node.Outputs[i]
	}
	return ""
}

// wantInputs checks the number of inputs. Trailing inputs beyond minN may be nil.
func wantInputs(node *NodeProto, inputs []tensor.Tensor, minN, maxN int) error {
	if len(inputs) < minN || len(inputs) > maxN {
		if minN == maxN {
			return fmt.Errorf("%s requires %d inputs, got %d", node.OpType, minN, len(inputs))
		}
		return fmt.Errorf("%s requires %d to %d inputs, got %d", node.OpType, minN, maxN, len(inputs))
	}
	for i := range minN {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is required", node.OpType, i)
		}
	}
	return nil
}

// sameType checks that all non-nil inputs share one element type.
func sameType(node *NodeProto, inputs []tensor.Tensor) error {
	var first tensor.Tensor
	for _, t := range inputs {
		if t == nil {
			continue
		}
		if first == nil {
			first = t
			continue
		}
		if t.Type() != first.Type() {
			return fmt.Errorf("%w: %s inputs %q (%s) and %q (%s)",
				tensor.ErrTypeMismatch, node.OpType, first.Name(), first.Type(), t.Name(), t.Type())
		}
	}
	return nil
}

func single(t tensor.Tensor, err error) ([]tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []tensor.Tensor{t}, nil
}

// viaFloat32 runs a float handler on float16 inputs by widening them to float32
// and narrowing the float32 results back.
func viaFloat32(h OpHandler) OpHandler {
	return func(ctx *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
		half := false
		for _, t := range inputs {
			if t != nil && t.Type() == tensor.Float16 {
				half = true
				break
			}
		}
		if !half {
			return h(ctx, node, inputs)
		}

		wide := make([]tensor.Tensor, len(inputs))
		defer func() {
			for i, t := range wide {
				if t != inputs[i] && t != nil {
					t.Release()
				}
			}
		}()
		for i, t := range inputs {
			wide[i] = t
			if t != nil && t.Type() == tensor.Float16 {
				wide[i] = widen(t)
			}
		}
		outs, err := h(ctx, node, wide)
		if err != nil {
			return nil, err
		}
		for i, t := range outs {
			if t.Type() == tensor.Float32 {
				outs[i] = narrow(t)
				t.Release()
			}
		}
		return outs, nil
	}
}

func widen(t tensor.Tensor) tensor.Tensor {
	src, _ := tensor.As[float16.Float16](t)
	data := make([]float32, t.NumElements())
	for i, v := range src.Data() {
		data[i] = v.Float32()
	}
	out, _ := tensor.Adopt(t.Name(), t.Dims(), data)
	return out
}

func narrow(t tensor.Tensor) tensor.Tensor {
	src, _ := tensor.As[float32](t)
	data := make([]float16.Float16, t.NumElements())
	for i, v := range src.Data() {
		data[i] = float16.Fromfloat32(v)
	}
	out, _ := tensor.Adopt(t.Name(), t.Dims(), data)
	return out
}
