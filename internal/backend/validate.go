package backend

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// ValidateInputs checks inputs against the declared specs. A declared input that is
// absent fails with ErrMissingInput and a released one with tensor.ErrInvalidState.
// A wrong element type fails with tensor.ErrTypeMismatch; a wrong rank, a wrong fixed
// size or an inconsistent symbol with tensor.ErrShapeMismatch. Inputs that are not
// declared are ignored.
//
// The returned bindings map each shape symbol to the size it was bound to.
func ValidateInputs(specs []tensor.Spec, inputs *tensor.Map) (map[string]int64, error) {
	bindings := make(map[string]int64)
	for _, spec := range specs {
		t, ok := inputs.Find(spec.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q (have %v)", ErrMissingInput, spec.Name, inputs.Names())
		}
		if t.Released() {
			return nil, fmt.Errorf("%w: input %q was released", tensor.ErrInvalidState, spec.Name)
		}
		if err := spec.Check(t, bindings); err != nil {
			return nil, err
		}
	}
	if inputs.Len() > len(specs) {
		for name := range inputs.All() {
			if _, ok := tensor.FindSpec(specs, name); !ok {
				klog.Warningf("Ignoring input %q: not declared by the model", name)
			}
		}
	}
	return bindings, nil
}

// SelectOutputs returns the specs of the requested outputs, in request order.
// nil or empty names select every declared output. An undeclared name fails with
// tensor.ErrKeyNotFound, a repeated one with tensor.ErrDuplicateName.
func SelectOutputs(specs []tensor.Spec, names []string) ([]tensor.Spec, error) {
	if len(names) == 0 {
		return specs, nil
	}
	out := make([]tensor.Spec, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		spec, ok := tensor.FindSpec(specs, name)
		if !ok {
			return nil, fmt.Errorf("%w: model has no output %q", tensor.ErrKeyNotFound, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: output %q requested twice", tensor.ErrDuplicateName, name)
		}
		seen[name] = true
		out = append(out, spec)
	}
	return out, nil
}

// CheckOutputs verifies that the tensors an engine produced match the output specs.
// bindings are the symbols bound by the inputs; outputs may bind new ones.
func CheckOutputs(specs []tensor.Spec, outputs *tensor.Map, bindings map[string]int64) error {
	if bindings == nil {
		bindings = make(map[string]int64)
	}
	for _, spec := range specs {
		t, err := outputs.Get(spec.Name)
		if err != nil {
			return fmt.Errorf("engine did not produce output: %w", err)
		}
		if err := spec.Check(t, bindings); err != nil {
			return fmt.Errorf("engine output does not match its declaration: %w", err)
		}
	}
	return nil
}
