package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// File is a SafeTensors file held in memory.
type File struct {
	Header Header
	data   []byte
}

// ReadFile reads and validates a SafeTensors file.
func ReadFile(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Read reads and validates a SafeTensors stream.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read safetensors: %w", err)
	}
	return Parse(data)
}

// Parse validates a complete SafeTensors buffer. The File keeps a reference to data.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrInvalidHeader, len(data))
	}
	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > MaxHeaderSize || headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: invalid header size %d", ErrInvalidHeader, headerSize)
	}

	f := &File{data: data[8+headerSize:]}
	if err := json.Unmarshal(data[8:8+headerSize], &f.Header); err != nil {
		return nil, fmt.Errorf("%w: failed to parse header JSON: %v", ErrInvalidHeader, err)
	}
	if err := f.Header.Validate(int64(len(f.data))); err != nil {
		return nil, err
	}
	return f, nil
}

// Metadata returns the metadata map from the header.
func (f *File) Metadata() map[string]string {
	return f.Header.Metadata
}

// Names returns the tensor names in data order.
func (f *File) Names() []string {
	return f.Header.Names()
}

// Tensor decodes the named tensor into a newly allocated tensor.
func (f *File) Tensor(name string) (tensor.Tensor, error) {
	info, ok := f.Header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: tensor %q not in file", tensor.ErrKeyNotFound, name)
	}
	typ, err := info.DType.TensorType()
	if err != nil {
		return nil, err
	}
	raw := f.data[info.DataOffsets[0]:info.DataOffsets[1]]

	if typ == tensor.Bool {
		// Any non-zero byte is true; never reinterpret arbitrary bytes as Go bools.
		values := make([]bool, len(raw))
		for i, b := range raw {
			values[i] = b != 0
		}
		return tensor.DefaultAllocator.Copy(name, typ, tensor.Shape(info.Shape), values)
	}

	t, err := tensor.DefaultAllocator.Allocate(name, typ, tensor.Shape(info.Shape))
	if err != nil {
		return nil, err
	}
	copy(bytesOf(t), raw)
	return t, nil
}

// Map decodes every tensor into a Map, in data order.
func (f *File) Map() (*tensor.Map, error) {
	names := f.Names()
	tensors := make([]tensor.Tensor, 0, len(names))
	for _, name := range names {
		t, err := f.Tensor(name)
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, t)
	}
	return tensor.NewMap(tensors...)
}

// ReadMap reads every tensor of the SafeTensors file at path.
func ReadMap(path string) (*tensor.Map, map[string]string, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := f.Map()
	if err != nil {
		return nil, nil, err
	}
	return m, f.Metadata(), nil
}

// bytesOf returns the little-endian bytes backing a fixed-width tensor.
func bytesOf(t tensor.Tensor) []byte {
	switch t.Type() {
	case tensor.Float16:
		return typedBytes[float16.Float16](t)
	case tensor.Float32:
		return typedBytes[float32](t)
	case tensor.Float64:
		return typedBytes[float64](t)
	case tensor.Int8:
		return typedBytes[int8](t)
	case tensor.Int16:
		return typedBytes[int16](t)
	case tensor.Int32:
		return typedBytes[int32](t)
	case tensor.Int64:
		return typedBytes[int64](t)
	case tensor.Uint8:
		return typedBytes[uint8](t)
	case tensor.Uint16:
		return typedBytes[uint16](t)
	case tensor.Uint32:
		return typedBytes[uint32](t)
	case tensor.Uint64:
		return typedBytes[uint64](t)
	case tensor.Bool:
		return boolBytes(t)
	default:
		return nil
	}
}

func typedBytes[T tensor.Fixed](t tensor.Tensor) []byte {
	typed, err := tensor.As[T](t)
	if err != nil {
		return nil
	}
	return typed.Bytes()
}

func boolBytes(t tensor.Tensor) []byte {
	typed, err := tensor.As[bool](t)
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	for _, v := range typed.Data() {
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}
