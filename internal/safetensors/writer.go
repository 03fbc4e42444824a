package safetensors

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Write encodes every tensor of m, with optional metadata, to w.
//
// Tensors are written in alphabetical order by name. String tensors cannot be
// stored and fail with ErrUnsupportedDType.
func Write(w io.Writer, m *tensor.Map, metadata map[string]string) error {
	names := m.Names()
	sort.Strings(names)

	header := Header{Metadata: metadata, Tensors: make(map[string]TensorInfo, len(names))}
	payloads := make([][]byte, len(names))

	var currentOffset int64
	for i, name := range names {
		t, _ := m.Find(name)
		dtype, err := FromTensorType(t.Type())
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		if t.Released() {
			return fmt.Errorf("%w: tensor %q was released", tensor.ErrInvalidState, name)
		}
		payloads[i] = bytesOf(t)
		size := int64(len(payloads[i]))
		header.Tensors[name] = TensorInfo{
			DType:       dtype,
			Shape:       append([]int64{}, t.Dims()...),
			DataOffsets: [2]int64{currentOffset, currentOffset + size},
		}
		currentOffset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, name := range names {
		if _, err := bw.Write(payloads[i]); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return bw.Flush()
}

// WriteFile writes m to a SafeTensors file at path.
func WriteFile(path string, m *tensor.Map, metadata map[string]string) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(file, m, metadata)
}
