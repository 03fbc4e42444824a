package onnx

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

var elemTypes = map[int32]tensor.TensorType{
	TensorProtoFloat:   tensor.Float32,
	TensorProtoUint8:   tensor.Uint8,
	TensorProtoInt8:    tensor.Int8,
	TensorProtoUint16:  tensor.Uint16,
	TensorProtoInt16:   tensor.Int16,
	TensorProtoInt32:   tensor.Int32,
	TensorProtoInt64:   tensor.Int64,
	TensorProtoString:  tensor.String,
	TensorProtoBool:    tensor.Bool,
	TensorProtoFloat16: tensor.Float16,
	TensorProtoDouble:  tensor.Float64,
	TensorProtoUint32:  tensor.Uint32,
	TensorProtoUint64:  tensor.Uint64,
}

// ElemType converts an ONNX element type to a tensor type.
func ElemType(dataType int32) (tensor.TensorType, error) {
	typ, ok := elemTypes[dataType]
	if !ok {
		return tensor.Invalid, fmt.Errorf("%w: unsupported ONNX data type %d", tensor.ErrTypeMismatch, dataType)
	}
	return typ, nil
}

// DataType converts a tensor type to its ONNX element type.
func DataType(typ tensor.TensorType) (int32, error) {
	for dt, t := range elemTypes {
		if t == typ {
			return dt, nil
		}
	}
	return TensorProtoUndefined, fmt.Errorf("%w: %s has no ONNX data type", tensor.ErrTypeMismatch, typ)
}

// TensorFromProto decodes an initializer or constant into an owned tensor named name.
//
//nolint:gocyclo,cyclop // One case per element type
func TensorFromProto(name string, tp *TensorProto) (tensor.Tensor, error) {
	typ, err := ElemType(tp.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	dims := tensor.Shape(tp.Dims).Clone()
	if err = dims.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	n := dims.NumElements()

	if typ == tensor.String {
		if len(tp.StringData) != n {
			return nil, fmt.Errorf("%w: tensor %q has %d strings for shape %v",
				tensor.ErrShapeMismatch, name, len(tp.StringData), dims)
		}
		data := make([]string, n)
		for i, s := range tp.StringData {
			data[i] = string(s)
		}
		return adopt(name, dims, data)
	}
	if len(tp.RawData) > 0 {
		return fromRaw(name, typ, dims, tp.RawData)
	}

	switch typ {
	case tensor.Float32:
		return fromField(name, dims, tp.FloatData, func(v float32) float32 { return v })
	case tensor.Float64:
		return fromField(name, dims, tp.DoubleData, func(v float64) float64 { return v })
	case tensor.Int64:
		return fromField(name, dims, tp.Int64Data, func(v int64) int64 { return v })
	case tensor.Int32:
		return fromField(name, dims, tp.Int32Data, func(v int32) int32 { return v })
	case tensor.Int16:
		return fromField(name, dims, tp.Int32Data, func(v int32) int16 { return int16(v) }) //nolint:gosec // G115
	case tensor.Int8:
		return fromField(name, dims, tp.Int32Data, func(v int32) int8 { return int8(v) }) //nolint:gosec // G115
	case tensor.Uint8:
		return fromField(name, dims, tp.Int32Data, func(v int32) uint8 { return uint8(v) }) //nolint:gosec // G115
	case tensor.Uint16:
		return fromField(name, dims, tp.Int32Data, func(v int32) uint16 { return uint16(v) }) //nolint:gosec // G115
	case tensor.Bool:
		return fromField(name, dims, tp.Int32Data, func(v int32) bool { return v != 0 })
	case tensor.Float16:
		return fromField(name, dims, tp.Int32Data, func(v int32) float16.Float16 {
			return float16.Frombits(uint16(v)) //nolint:gosec // G115: float16 bits
		})
	case tensor.Uint32:
		return fromField(name, dims, tp.Uint64Data, func(v uint64) uint32 { return uint32(v) }) //nolint:gosec // G115
	default:
		return fromField(name, dims, tp.Uint64Data, func(v uint64) uint64 { return v })
	}
}

func fromField[S any, D tensor.Element](name string, dims tensor.Shape, src []S, conv func(S) D) (tensor.Tensor, error) {
	if len(src) != dims.NumElements() {
		return nil, fmt.Errorf("%w: tensor %q has %d values for shape %v",
			tensor.ErrShapeMismatch, name, len(src), dims)
	}
	data := make([]D, len(src))
	for i, v := range src {
		data[i] = conv(v)
	}
	return adopt(name, dims, data)
}

// fromRaw decodes little-endian raw_data into an owned tensor.
func fromRaw(name string, typ tensor.TensorType, dims tensor.Shape, raw []byte) (tensor.Tensor, error) {
	if want := dims.NumElements() * typ.Size(); len(raw) != want {
		return nil, fmt.Errorf("%w: tensor %q has %d raw bytes, shape %v needs %d",
			tensor.ErrShapeMismatch, name, len(raw), dims, want)
	}
	t, err := tensor.DefaultAllocator.Allocate(name, typ, dims)
	if err != nil {
		return nil, err
	}
	if _, err = binary.Decode(raw, binary.LittleEndian, sliceOf(t)); err != nil {
		t.Release()
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return t, nil
}

// TensorToProto encodes t as a TensorProto using raw_data for fixed-width types.
func TensorToProto(t tensor.Tensor) (*TensorProto, error) {
	dt, err := DataType(t.Type())
	if err != nil {
		return nil, err
	}
	tp := &TensorProto{Name: t.Name(), DataType: dt, Dims: t.Dims()}
	if t.Type() == tensor.String {
		s, err := tensor.As[string](t)
		if err != nil {
			return nil, err
		}
		for _, v := range s.Data() {
			tp.StringData = append(tp.StringData, []byte(v))
		}
		return tp, nil
	}
	tp.RawData, err = binary.Append(nil, binary.LittleEndian, sliceOf(t))
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", t.Name(), err)
	}
	return tp, nil
}

// sliceOf returns the backing slice of a fixed-width tensor as an untyped value.
func sliceOf(t tensor.Tensor) any {
	switch typed := t.(type) {
	case *tensor.TypedTensor[float16.Float16]:
		return typed.Data()
	case *tensor.TypedTensor[float32]:
		return typed.Data()
	case *tensor.TypedTensor[float64]:
		return typed.Data()
	case *tensor.TypedTensor[int8]:
		return typed.Data()
	case *tensor.TypedTensor[int16]:
		return typed.Data()
	case *tensor.TypedTensor[int32]:
		return typed.Data()
	case *tensor.TypedTensor[int64]:
		return typed.Data()
	case *tensor.TypedTensor[uint8]:
		return typed.Data()
	case *tensor.TypedTensor[uint16]:
		return typed.Data()
	case *tensor.TypedTensor[uint32]:
		return typed.Data()
	case *tensor.TypedTensor[uint64]:
		return typed.Data()
	case *tensor.TypedTensor[bool]:
		return typed.Data()
	default:
		return nil
	}
}

func adopt[T tensor.Element](name string, dims tensor.Shape, data []T) (tensor.Tensor, error) {
	t, err := tensor.Adopt(name, dims, data)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ValueInfo describes a graph input or output of type typ. A nil dims leaves the
// shape unknown.
func ValueInfo(name string, typ tensor.TensorType, dims []tensor.Dim) (ValueInfoProto, error) {
	dt, err := DataType(typ)
	if err != nil {
		return ValueInfoProto{}, err
	}
	tt := &TensorTypeProto{ElemType: dt}
	if dims != nil {
		tt.Shape = &TensorShapeProto{Dims: make([]DimensionProto, len(dims))}
		for i, d := range dims {
			switch {
			case d.Symbol != "":
				tt.Shape.Dims[i] = DimensionProto{DimParam: d.Symbol}
			case d.Size >= 0:
				tt.Shape.Dims[i] = DimensionProto{DimValue: d.Size, HasValue: true}
			}
		}
	}
	return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: tt}}, nil
}

// specOf converts a graph value description into a tensor spec.
func specOf(vi *ValueInfoProto) (tensor.Spec, error) {
	if vi.Type == nil || vi.Type.TensorType == nil {
		return tensor.Spec{}, fmt.Errorf("value %q is not a tensor", vi.Name)
	}
	typ, err := ElemType(vi.Type.TensorType.ElemType)
	if err != nil {
		return tensor.Spec{}, fmt.Errorf("value %q: %w", vi.Name, err)
	}
	spec := tensor.Spec{Name: vi.Name, Type: typ}
	if shape := vi.Type.TensorType.Shape; shape != nil {
		spec.Dims = make([]tensor.Dim, len(shape.Dims))
		for i, d := range shape.Dims {
			switch {
			case d.HasValue:
				spec.Dims[i] = tensor.FixedDim(d.DimValue)
			case d.DimParam != "":
				spec.Dims[i] = tensor.SymbolDim(d.DimParam)
			default:
				spec.Dims[i] = tensor.AnyDim()
			}
		}
	}
	return spec, nil
}
