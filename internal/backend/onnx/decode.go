package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by the model package
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from its protobuf encoding.
// Byte fields of the result (raw tensor data) alias data.
func Parse(data []byte) (*ModelProto, error) {
	m, err := decodeModel(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// decoder walks the fields of one protobuf message.
type decoder struct {
	b []byte
}

func (d *decoder) more() bool { return len(d.b) > 0 }

func (d *decoder) tag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	d.b = d.b[n:]
	return num, typ, nil
}

func (d *decoder) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) str() (string, error) {
	v, err := d.bytes()
	return string(v), err
}

func (d *decoder) fixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(d.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) fixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(d.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, d.b)
	if n < 0 {
		return protowire.ParseError(n)
	}
	d.b = d.b[n:]
	return nil
}

// varints reads a repeated varint field, packed or not.
func (d *decoder) varints(typ protowire.Type, fn func(uint64)) error {
	if typ != protowire.BytesType {
		v, err := d.varint()
		if err == nil {
			fn(v)
		}
		return err
	}
	packed, err := d.bytes()
	if err != nil {
		return err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return protowire.ParseError(n)
		}
		fn(v)
		packed = packed[n:]
	}
	return nil
}

// fixed32s reads a repeated fixed32 field, packed or not.
func (d *decoder) fixed32s(typ protowire.Type, fn func(uint32)) error {
	if typ != protowire.BytesType {
		v, err := d.fixed32()
		if err == nil {
			fn(v)
		}
		return err
	}
	packed, err := d.bytes()
	if err != nil {
		return err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed32(packed)
		if n < 0 {
			return protowire.ParseError(n)
		}
		fn(v)
		packed = packed[n:]
	}
	return nil
}

// fixed64s reads a repeated fixed64 field, packed or not.
func (d *decoder) fixed64s(typ protowire.Type, fn func(uint64)) error {
	if typ != protowire.BytesType {
		v, err := d.fixed64()
		if err == nil {
			fn(v)
		}
		return err
	}
	packed, err := d.bytes()
	if err != nil {
		return err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed64(packed)
		if n < 0 {
			return protowire.ParseError(n)
		}
		fn(v)
		packed = packed[n:]
	}
	return nil
}

// message decodes a length-delimited sub-message with fn.
func message[T any](d *decoder, fn func([]byte) (*T, error)) (*T, error) {
	b, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return fn(b)
}

//nolint:gocyclo,cyclop // Protobuf decoding is a field-by-field switch
func decodeModel(b []byte) (*ModelProto, error) {
	m := &ModelProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // ir_version
			var v uint64
			v, err = d.varint()
			m.IRVersion = int64(v) //nolint:gosec // G115: protobuf int64 is two's complement
		case 2: // producer_name
			m.ProducerName, err = d.str()
		case 3: // producer_version
			m.ProducerVersion, err = d.str()
		case 4: // domain
			m.Domain, err = d.str()
		case 5: // model_version
			var v uint64
			v, err = d.varint()
			m.ModelVersion = int64(v) //nolint:gosec // G115: protobuf int64 is two's complement
		case 6: // doc_string
			m.DocString, err = d.str()
		case 7: // graph
			m.Graph, err = message(d, decodeGraph)
		case 8: // opset_import
			var opset *OperatorSetID
			if opset, err = message(d, decodeOperatorSetID); err == nil {
				m.OpsetImport = append(m.OpsetImport, *opset)
			}
		case 14: // metadata_props
			var entry *StringStringEntry
			if entry, err = message(d, decodeStringStringEntry); err == nil {
				m.MetadataProps = append(m.MetadataProps, *entry)
			}
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("model field %d: %w", num, err)
		}
	}
	return m, nil
}

func decodeGraph(b []byte) (*GraphProto, error) {
	g := &GraphProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // node
			var node *NodeProto
			if node, err = message(d, decodeNode); err == nil {
				g.Nodes = append(g.Nodes, *node)
			}
		case 2: // name
			g.Name, err = d.str()
		case 5: // initializer
			var t *TensorProto
			if t, err = message(d, decodeTensor); err == nil {
				g.Initializers = append(g.Initializers, *t)
			}
		case 10: // doc_string
			g.DocString, err = d.str()
		case 11: // input
			var vi *ValueInfoProto
			if vi, err = message(d, decodeValueInfo); err == nil {
				g.Inputs = append(g.Inputs, *vi)
			}
		case 12: // output
			var vi *ValueInfoProto
			if vi, err = message(d, decodeValueInfo); err == nil {
				g.Outputs = append(g.Outputs, *vi)
			}
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("graph field %d: %w", num, err)
		}
	}
	return g, nil
}

func decodeNode(b []byte) (*NodeProto, error) {
	n := &NodeProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // input
			var s string
			if s, err = d.str(); err == nil {
				n.Inputs = append(n.Inputs, s)
			}
		case 2: // output
			var s string
			if s, err = d.str(); err == nil {
				n.Outputs = append(n.Outputs, s)
			}
		case 3: // name
			n.Name, err = d.str()
		case 4: // op_type
			n.OpType, err = d.str()
		case 5: // attribute
			var attr *AttributeProto
			if attr, err = message(d, decodeAttribute); err == nil {
				n.Attributes = append(n.Attributes, *attr)
			}
		case 7: // domain
			n.Domain, err = d.str()
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("node field %d: %w", num, err)
		}
	}
	return n, nil
}

//nolint:gocyclo,cyclop // Protobuf decoding is a field-by-field switch
func decodeTensor(b []byte) (*TensorProto, error) {
	t := &TensorProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // dims
			err = d.varints(typ, func(v uint64) { t.Dims = append(t.Dims, int64(v)) }) //nolint:gosec // G115
		case 2: // data_type
			var v uint64
			v, err = d.varint()
			t.DataType = int32(v) //nolint:gosec // G115: enum values are small
		case 4: // float_data
			err = d.fixed32s(typ, func(v uint32) { t.FloatData = append(t.FloatData, math.Float32frombits(v)) })
		case 5: // int32_data
			err = d.varints(typ, func(v uint64) { t.Int32Data = append(t.Int32Data, int32(v)) }) //nolint:gosec // G115
		case 6: // string_data
			var s []byte
			if s, err = d.bytes(); err == nil {
				t.StringData = append(t.StringData, s)
			}
		case 7: // int64_data
			err = d.varints(typ, func(v uint64) { t.Int64Data = append(t.Int64Data, int64(v)) }) //nolint:gosec // G115
		case 8: // name
			t.Name, err = d.str()
		case 9: // raw_data
			t.RawData, err = d.bytes()
		case 10: // double_data
			err = d.fixed64s(typ, func(v uint64) { t.DoubleData = append(t.DoubleData, math.Float64frombits(v)) })
		case 11: // uint64_data
			err = d.varints(typ, func(v uint64) { t.Uint64Data = append(t.Uint64Data, v) })
		case 14: // data_location
			var v uint64
			if v, err = d.varint(); err == nil && v != 0 {
				err = fmt.Errorf("tensor %q: external data is not supported", t.Name)
			}
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("tensor field %d: %w", num, err)
		}
	}
	return t, nil
}

func decodeValueInfo(b []byte) (*ValueInfoProto, error) {
	vi := &ValueInfoProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // name
			vi.Name, err = d.str()
		case 2: // type
			vi.Type, err = message(d, decodeType)
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("value info field %d: %w", num, err)
		}
	}
	return vi, nil
}

func decodeType(b []byte) (*TypeProto, error) {
	tp := &TypeProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		if num == 1 { // tensor_type
			tp.TensorType, err = message(d, decodeTensorType)
		} else {
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return tp, nil
}

func decodeTensorType(b []byte) (*TensorTypeProto, error) {
	tt := &TensorTypeProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // elem_type
			var v uint64
			v, err = d.varint()
			tt.ElemType = int32(v) //nolint:gosec // G115: enum values are small
		case 2: // shape
			tt.Shape, err = message(d, decodeShape)
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return tt, nil
}

func decodeShape(b []byte) (*TensorShapeProto, error) {
	s := &TensorShapeProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		if num == 1 { // dim
			var dim *DimensionProto
			if dim, err = message(d, decodeDimension); err == nil {
				s.Dims = append(s.Dims, *dim)
			}
		} else {
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func decodeDimension(b []byte) (*DimensionProto, error) {
	dim := &DimensionProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // dim_value
			var v uint64
			v, err = d.varint()
			dim.DimValue, dim.HasValue = int64(v), true //nolint:gosec // G115
		case 2: // dim_param
			dim.DimParam, err = d.str()
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return dim, nil
}

//nolint:gocyclo,cyclop // Protobuf decoding is a field-by-field switch
func decodeAttribute(b []byte) (*AttributeProto, error) {
	a := &AttributeProto{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // name
			a.Name, err = d.str()
		case 2: // f
			var v uint32
			v, err = d.fixed32()
			a.F = math.Float32frombits(v)
		case 3: // i
			var v uint64
			v, err = d.varint()
			a.I = int64(v) //nolint:gosec // G115
		case 4: // s
			a.S, err = d.bytes()
		case 5: // t
			a.T, err = message(d, decodeTensor)
		case 7: // floats
			err = d.fixed32s(typ, func(v uint32) { a.Floats = append(a.Floats, math.Float32frombits(v)) })
		case 8: // ints
			err = d.varints(typ, func(v uint64) { a.Ints = append(a.Ints, int64(v)) }) //nolint:gosec // G115
		case 9: // strings
			var s []byte
			if s, err = d.bytes(); err == nil {
				a.Strings = append(a.Strings, s)
			}
		case 20: // type
			var v uint64
			v, err = d.varint()
			a.Type = int32(v) //nolint:gosec // G115: enum values are small
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("attribute field %d: %w", num, err)
		}
	}
	return a, nil
}

func decodeOperatorSetID(b []byte) (*OperatorSetID, error) {
	o := &OperatorSetID{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // domain
			o.Domain, err = d.str()
		case 2: // version
			var v uint64
			v, err = d.varint()
			o.Version = int64(v) //nolint:gosec // G115
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

func decodeStringStringEntry(b []byte) (*StringStringEntry, error) {
	e := &StringStringEntry{}
	d := &decoder{b: b}
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1: // key
			e.Key, err = d.str()
		case 2: // value
			e.Value, err = d.str()
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}
