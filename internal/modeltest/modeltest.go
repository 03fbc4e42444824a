// Package modeltest writes small model packages for tests.
package modeltest

import (
	"archive/zip"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neuropod-go/neuropod/internal/backend/onnx"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/safetensors"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// WritePackage writes m as config.yaml and files under the data directory of a new
// temporary directory, and returns the directory.
func WritePackage(t testing.TB, m *manifest.Manifest, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	config, err := m.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), config, 0o644))

	data := filepath.Join(dir, filepath.FromSlash(manifest.DataDir))
	require.NoError(t, os.MkdirAll(data, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(data, name), content, 0o644))
	}
	return dir
}

// ONNX writes a package for the onnx platform whose model.onnx is the graph built
// from nodes. The graph inputs and outputs are inputs and outputs.
func ONNX(t testing.TB, name string, inputs, outputs []tensor.Spec, nodes ...onnx.NodeProto) string {
	t.Helper()
	graph := &onnx.GraphProto{Name: name, Nodes: nodes}
	for _, s := range inputs {
		vi, err := onnx.ValueInfo(s.Name, s.Type, s.Dims)
		require.NoError(t, err)
		graph.Inputs = append(graph.Inputs, vi)
	}
	for _, s := range outputs {
		vi, err := onnx.ValueInfo(s.Name, s.Type, s.Dims)
		require.NoError(t, err)
		graph.Outputs = append(graph.Outputs, vi)
	}
	model := &onnx.ModelProto{
		IRVersion:    8,
		OpsetImport:  []onnx.OperatorSetID{{Version: 17}},
		ProducerName: "modeltest",
		Graph:        graph,
	}
	m := &manifest.Manifest{
		Name:       name,
		Platform:   onnx.Name,
		InputSpec:  manifest.FromSpecs(inputs),
		OutputSpec: manifest.FromSpecs(outputs),
	}
	return WritePackage(t, m, map[string][]byte{onnx.ModelFile: onnx.Marshal(model)})
}

var pairDims = []tensor.Dim{tensor.SymbolDim("batch"), tensor.FixedDim(2)}

// Addition writes a model computing out = x + y over float32 [batch, 2] tensors.
func Addition(t testing.TB) string {
	t.Helper()
	return ONNX(t, "addition_model",
		[]tensor.Spec{
			{Name: "x", Type: tensor.Float32, Dims: pairDims},
			{Name: "y", Type: tensor.Float32, Dims: pairDims},
		},
		[]tensor.Spec{{Name: "out", Type: tensor.Float32, Dims: pairDims}},
		onnx.NodeProto{Name: "add", OpType: "Add", Inputs: []string{"x", "y"}, Outputs: []string{"out"}},
	)
}

// Strings writes a model joining string vectors x and y with a space.
func Strings(t testing.TB) string {
	t.Helper()
	dims := []tensor.Dim{tensor.SymbolDim("n")}
	return ONNX(t, "strings_model",
		[]tensor.Spec{
			{Name: "x", Type: tensor.String, Dims: dims},
			{Name: "y", Type: tensor.String, Dims: dims},
		},
		[]tensor.Spec{{Name: "out", Type: tensor.String, Dims: dims}},
		onnx.NodeProto{
			Name: "space", OpType: "Constant", Outputs: []string{"space"},
			Attributes: []onnx.AttributeProto{{Name: "value_string", Type: onnx.AttributeProtoString, S: []byte(" ")}},
		},
		onnx.NodeProto{Name: "left", OpType: "StringConcat", Inputs: []string{"x", "space"}, Outputs: []string{"x_space"}},
		onnx.NodeProto{Name: "right", OpType: "StringConcat", Inputs: []string{"x_space", "y"}, Outputs: []string{"out"}},
	)
}

// Dense writes a two-layer float32 network mapping x [batch, 2] to y [batch, 1]:
//
//	h = relu(x·[[1, -1, 0.5], [2, 0, -1]] + [0, 1, 0])
//	y = h·[[1], [1], [2]] - 1
//
// so x = [1, 1] gives 2, [0, 0] gives 0 and [-1, 2] gives 4.
func Dense(t testing.TB) string {
	t.Helper()
	w0, err := tensor.CopyOf("layers.0.weight", tensor.Shape{2, 3}, []float32{1, -1, 0.5, 2, 0, -1})
	require.NoError(t, err)
	b0, err := tensor.CopyOf("layers.0.bias", tensor.Shape{3}, []float32{0, 1, 0})
	require.NoError(t, err)
	w1, err := tensor.CopyOf("layers.1.weight", tensor.Shape{3, 1}, []float32{1, 1, 2})
	require.NoError(t, err)
	b1, err := tensor.CopyOf("layers.1.bias", tensor.Shape{1}, []float32{-1})
	require.NoError(t, err)
	weights, err := tensor.NewMap(w0, b0, w1, b1)
	require.NoError(t, err)
	defer weights.Release()

	m := &manifest.Manifest{
		Name:     "dense_model",
		Platform: "dense",
		InputSpec: manifest.FromSpecs([]tensor.Spec{
			{Name: "x", Type: tensor.Float32, Dims: []tensor.Dim{tensor.AnyDim(), tensor.FixedDim(2)}},
		}),
		OutputSpec: manifest.FromSpecs([]tensor.Spec{
			{Name: "y", Type: tensor.Float32, Dims: []tensor.Dim{tensor.AnyDim(), tensor.FixedDim(1)}},
		}),
	}
	dir := WritePackage(t, m, nil)
	path := filepath.Join(dir, filepath.FromSlash(manifest.DataDir), "weights.safetensors")
	require.NoError(t, safetensors.WriteFile(path, weights, map[string]string{"activations": "relu,identity"}))
	return dir
}

// Zip archives the package directory dir and returns the archive path.
func Zip(t testing.TB, dir string) string {
	t.Helper()
	archive := filepath.Join(t.TempDir(), filepath.Base(dir)+".zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		fw, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return archive
}
