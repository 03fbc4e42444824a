// Package manifest opens Neuropod model packages and parses their metadata.
//
// A package is a directory (or a zip archive of one) laid out as:
//
//	config.json         (or config.yaml)
//	0/data/...          engine specific files
//
// The config declares the model name, the platform (which selects the backend),
// and the input and output tensor specs:
//
//	{
//	  "name": "addition_model",
//	  "platform": "onnx",
//	  "input_spec": [
//	    {"name": "x", "dtype": "float32", "shape": [null, 2]},
//	    {"name": "y", "dtype": "float32", "shape": ["batch", 2]}
//	  ],
//	  "output_spec": [{"name": "out", "dtype": "float32", "shape": null}]
//	}
//
// In a shape, null is a wildcard and a string is a symbol that must bind to the same
// size across all tensors of one inference call.
package manifest

import (
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// FormatVersion is the only package format version this module reads.
const FormatVersion = 1

// Manifest is the parsed config of a model package.
type Manifest struct {
	FormatVersion   int          `yaml:"format_version,omitempty"`
	Name            string       `yaml:"name"`
	Platform        string       `yaml:"platform"`
	PlatformVersion string       `yaml:"platform_version,omitempty"`
	InputSpec       []TensorSpec `yaml:"input_spec"`
	OutputSpec      []TensorSpec `yaml:"output_spec"`
	CustomOps       []string     `yaml:"custom_ops,omitempty"`
}

// TensorSpec is one entry of input_spec or output_spec.
type TensorSpec struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	Shape Shape  `yaml:"shape"`
}

// MarshalYAML writes a nil Shape as null so that it stays unconstrained.
func (s TensorSpec) MarshalYAML() (any, error) {
	type plain struct {
		Name  string `yaml:"name"`
		DType string `yaml:"dtype"`
		Shape any    `yaml:"shape"`
	}
	p := plain{Name: s.Name, DType: s.DType}
	if s.Shape != nil {
		p.Shape = s.Shape
	}
	return p, nil
}

// Shape is the shape of a TensorSpec. A nil Shape is unconstrained.
type Shape []Dim

// UnmarshalYAML decodes each entry with Dim.UnmarshalYAML. yaml.v3 does not call
// unmarshalers for null nodes, so null entries are mapped to wildcards here.
func (s *Shape) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return errors.Errorf("line %d: shape must be a sequence or null", node.Line)
	}
	dims := make(Shape, len(node.Content))
	for i, n := range node.Content {
		if n.ShortTag() == "!!null" {
			continue
		}
		if err := dims[i].UnmarshalYAML(n); err != nil {
			return err
		}
	}
	*s = dims
	return nil
}

// Dim is one shape entry. The zero value is a wildcard, which is what a YAML/JSON
// null decodes to.
type Dim struct {
	Size   int64
	Symbol string
	Fixed  bool
}

// UnmarshalYAML accepts an integer size (negative sizes are wildcards) or a symbol name.
func (d *Dim) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: shape entries must be scalars", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		*d = Dim{}
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 0, 64)
		if err != nil {
			return errors.Wrapf(err, "line %d: invalid dimension", node.Line)
		}
		if n < 0 {
			*d = Dim{}
		} else {
			*d = Dim{Size: n, Fixed: true}
		}
	case "!!str":
		if node.Value == "" {
			return errors.Errorf("line %d: empty dimension symbol", node.Line)
		}
		*d = Dim{Symbol: node.Value}
	default:
		return errors.Errorf("line %d: invalid dimension %q", node.Line, node.Value)
	}
	return nil
}

// MarshalYAML writes the dimension back in the form UnmarshalYAML accepts.
func (d Dim) MarshalYAML() (any, error) {
	switch {
	case d.Fixed:
		return d.Size, nil
	case d.Symbol != "":
		return d.Symbol, nil
	default:
		return nil, nil
	}
}

// Parse decodes a config. JSON configs are parsed as YAML, of which JSON is a subset.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes m as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate checks the fields every backend relies on.
func (m *Manifest) Validate() error {
	if m.FormatVersion == 0 {
		m.FormatVersion = FormatVersion
	}
	if m.FormatVersion != FormatVersion {
		return errors.Errorf("unsupported format_version %d (want %d)", m.FormatVersion, FormatVersion)
	}
	if m.Platform == "" {
		return errors.New("missing platform")
	}
	if len(m.CustomOps) > 0 {
		return errors.Errorf("custom ops are not supported: %v", m.CustomOps)
	}
	for _, list := range []struct {
		field string
		specs []TensorSpec
	}{{"input_spec", m.InputSpec}, {"output_spec", m.OutputSpec}} {
		seen := make(map[string]bool, len(list.specs))
		for i, s := range list.specs {
			if s.Name == "" {
				return errors.Errorf("%s[%d]: missing name", list.field, i)
			}
			if seen[s.Name] {
				return errors.Errorf("%s: duplicate name %q", list.field, s.Name)
			}
			seen[s.Name] = true
			if _, err := tensor.ParseType(s.DType); err != nil {
				return errors.Wrapf(err, "%s %q", list.field, s.Name)
			}
		}
	}
	return nil
}

// InputSpecs converts input_spec to tensor specs.
func (m *Manifest) InputSpecs() []tensor.Spec { return convertSpecs(m.InputSpec) }

// OutputSpecs converts output_spec to tensor specs.
func (m *Manifest) OutputSpecs() []tensor.Spec { return convertSpecs(m.OutputSpec) }

// convertSpecs assumes the dtypes were checked by Validate.
func convertSpecs(in []TensorSpec) []tensor.Spec {
	out := make([]tensor.Spec, len(in))
	for i, s := range in {
		typ, _ := tensor.ParseType(s.DType)
		out[i] = tensor.Spec{Name: s.Name, Type: typ}
		if s.Shape == nil {
			continue
		}
		out[i].Dims = make([]tensor.Dim, len(s.Shape))
		for j, d := range s.Shape {
			switch {
			case d.Fixed:
				out[i].Dims[j] = tensor.FixedDim(d.Size)
			case d.Symbol != "":
				out[i].Dims[j] = tensor.SymbolDim(d.Symbol)
			default:
				out[i].Dims[j] = tensor.AnyDim()
			}
		}
	}
	return out
}

// FromSpecs builds manifest entries from tensor specs, the inverse of InputSpecs.
func FromSpecs(specs []tensor.Spec) []TensorSpec {
	out := make([]TensorSpec, len(specs))
	for i, s := range specs {
		out[i] = TensorSpec{Name: s.Name, DType: s.Type.String()}
		if s.Dims == nil {
			continue
		}
		out[i].Shape = make(Shape, len(s.Dims))
		for j, d := range s.Dims {
			switch {
			case d.Symbol != "":
				out[i].Shape[j] = Dim{Symbol: d.Symbol}
			case d.Size >= 0:
				out[i].Shape[j] = Dim{Size: d.Size, Fixed: true}
			}
		}
	}
	return out
}
