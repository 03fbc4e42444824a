package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Dim is one declared dimension of a TensorSpec.
// It is either a fixed size, a wildcard accepting any size, or a named symbol that
// must bind to the same size everywhere it appears within one inference call.
type Dim struct {
	Size   int64  // Fixed size, or -1 when the dimension is a wildcard or a symbol.
	Symbol string // Symbol name, empty for fixed sizes and wildcards.
}

// FixedDim returns a dimension of exactly n elements.
func FixedDim(n int64) Dim { return Dim{Size: n} }

// AnyDim returns a wildcard dimension.
func AnyDim() Dim { return Dim{Size: -1} }

// SymbolDim returns a dimension bound by name.
func SymbolDim(name string) Dim { return Dim{Size: -1, Symbol: name} }

// IsWildcard reports whether d accepts any size without binding a symbol.
func (d Dim) IsWildcard() bool { return d.Size < 0 && d.Symbol == "" }

func (d Dim) String() string {
	switch {
	case d.Symbol != "":
		return d.Symbol
	case d.Size < 0:
		return "?"
	default:
		return strconv.FormatInt(d.Size, 10)
	}
}

// Spec declares the name, element type and (optionally) shape of a model input or output.
type Spec struct {
	Name string
	Type TensorType
	Dims []Dim // nil means the shape is not constrained.
}

// String formats the spec as `x: float32[?, 2]`.
func (s Spec) String() string {
	if s.Dims == nil {
		return fmt.Sprintf("%s: %s", s.Name, s.Type)
	}
	return fmt.Sprintf("%s: %s%s", s.Name, s.Type, s.ShapeString())
}

// ShapeString formats the declared dimensions as "[?, 2]", or "*" if unconstrained.
func (s Spec) ShapeString() string {
	if s.Dims == nil {
		return "*"
	}
	parts := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	if s.Dims != nil {
		s.Dims = append([]Dim(nil), s.Dims...)
	}
	return s
}

// Check validates t against the spec. Symbols seen so far are recorded in bindings,
// which is shared by all tensors of one inference call; it may be nil if the spec has
// no symbols.
func (s Spec) Check(t Tensor, bindings map[string]int64) error {
	if t.Type() != s.Type {
		return fmt.Errorf("%w: tensor %q is %s, expected %s", ErrTypeMismatch, s.Name, t.Type(), s.Type)
	}
	if s.Dims == nil {
		return nil
	}
	dims := t.Dims()
	if len(dims) != len(s.Dims) {
		return fmt.Errorf("%w: tensor %q has rank %d (shape %v), expected %s",
			ErrShapeMismatch, s.Name, len(dims), dims, s.ShapeString())
	}
	for i, d := range s.Dims {
		switch {
		case d.Symbol != "":
			if bound, ok := bindings[d.Symbol]; ok && bound != dims[i] {
				return fmt.Errorf("%w: tensor %q dimension %d is %d, but %s is already bound to %d",
					ErrShapeMismatch, s.Name, i, dims[i], d.Symbol, bound)
			}
			if bindings != nil {
				bindings[d.Symbol] = dims[i]
			}
		case d.Size >= 0 && d.Size != dims[i]:
			return fmt.Errorf("%w: tensor %q has shape %v, expected %s",
				ErrShapeMismatch, s.Name, dims, s.ShapeString())
		}
	}
	return nil
}

// FindSpec returns the spec with the given name.
func FindSpec(specs []Spec, name string) (Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}
