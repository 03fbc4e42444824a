// Package safetensors reads and writes tensor collections in the SafeTensors format.
//
// Format:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw little-endian bytes]
//
// The header maps each tensor name to its dtype, shape and [begin, end) offsets in
// the data section. An optional "__metadata__" entry holds string key/value pairs.
package safetensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// DType is a SafeTensors element type name.
type DType string

// Supported SafeTensors dtypes.
const (
	F16  DType = "F16"
	F32  DType = "F32"
	F64  DType = "F64"
	I8   DType = "I8"
	I16  DType = "I16"
	I32  DType = "I32"
	I64  DType = "I64"
	U8   DType = "U8"
	U16  DType = "U16"
	U32  DType = "U32"
	U64  DType = "U64"
	Bool DType = "BOOL"
)

// Common errors.
var (
	ErrInvalidHeader    = errors.New("invalid safetensors header")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrOffsetOverlap    = errors.New("tensor offsets overlap")
	ErrOutOfBounds      = errors.New("tensor extends beyond data section")
)

// Validation limits.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

const metadataKey = "__metadata__"

var dtypeToType = map[DType]tensor.TensorType{
	F16:  tensor.Float16,
	F32:  tensor.Float32,
	F64:  tensor.Float64,
	I8:   tensor.Int8,
	I16:  tensor.Int16,
	I32:  tensor.Int32,
	I64:  tensor.Int64,
	U8:   tensor.Uint8,
	U16:  tensor.Uint16,
	U32:  tensor.Uint32,
	U64:  tensor.Uint64,
	Bool: tensor.Bool,
}

// TensorType converts a SafeTensors dtype to a tensor type.
func (d DType) TensorType() (tensor.TensorType, error) {
	t, ok := dtypeToType[d]
	if !ok {
		return tensor.Invalid, fmt.Errorf("%w: %s", ErrUnsupportedDType, d)
	}
	return t, nil
}

// FromTensorType converts a tensor type to its SafeTensors dtype.
// String tensors have no SafeTensors representation.
func FromTensorType(t tensor.TensorType) (DType, error) {
	for d, tt := range dtypeToType {
		if tt == t {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, t)
}

// TensorInfo describes a tensor in the header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end)
}

// Header is the JSON header.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// UnmarshalJSON splits "__metadata__" from the tensor entries.
func (h *Header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap[metadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]TensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == metadataKey {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// MarshalJSON writes the metadata and tensors as one flat object.
func (h Header) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		flat[metadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		flat[name] = info
	}
	return json.Marshal(flat)
}

// Names returns the tensor names ordered by data offset.
func (h *Header) Names() []string {
	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := h.Tensors[names[i]], h.Tensors[names[j]]
		if a.DataOffsets[0] != b.DataOffsets[0] {
			return a.DataOffsets[0] < b.DataOffsets[0]
		}
		return names[i] < names[j]
	})
	return names
}

// Validate checks names, dtypes, sizes and offsets against a data section of dataSize bytes.
func (h *Header) Validate(dataSize int64) error {
	if len(h.Tensors) > MaxTensorCount {
		return fmt.Errorf("%w: %d tensors, max %d", ErrInvalidHeader, len(h.Tensors), MaxTensorCount)
	}
	names := h.Names()
	for i, name := range names {
		if name == "" || len(name) > MaxTensorNameLen {
			return fmt.Errorf("%w: invalid tensor name %q", ErrInvalidHeader, name)
		}
		info := h.Tensors[name]
		typ, err := info.DType.TensorType()
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		shape := tensor.Shape(info.Shape)
		if err := shape.Validate(); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start {
			return fmt.Errorf("%w: tensor %q has offsets [%d, %d)", ErrInvalidHeader, name, start, end)
		}
		if end > dataSize {
			return fmt.Errorf("%w: tensor %q ends at %d, data section has %d bytes", ErrOutOfBounds, name, end, dataSize)
		}
		if want := int64(shape.NumElements() * typ.Size()); end-start != want {
			return fmt.Errorf("%w: tensor %q of shape %v needs %d bytes, offsets span %d",
				ErrInvalidHeader, name, shape, want, end-start)
		}
		if i+1 < len(names) {
			next := h.Tensors[names[i+1]]
			if end > next.DataOffsets[0] {
				return fmt.Errorf("%w: %q [%d, %d) and %q [%d, %d)", ErrOffsetOverlap,
					name, start, end, names[i+1], next.DataOffsets[0], next.DataOffsets[1])
			}
		}
	}
	return nil
}
