package manifest

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

const additionConfig = `{
  "name": "addition_model",
  "platform": "onnx",
  "input_spec": [
    {"name": "x", "dtype": "float32", "shape": [null, 2]},
    {"name": "y", "dtype": "float", "shape": ["batch", 2]}
  ],
  "output_spec": [
    {"name": "out", "dtype": "float32", "shape": null}
  ]
}`

func TestParseJSON(t *testing.T) {
	m, err := Parse([]byte(additionConfig))
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, m.FormatVersion)
	assert.Equal(t, "addition_model", m.Name)
	assert.Equal(t, "onnx", m.Platform)

	inputs := m.InputSpecs()
	require.Len(t, inputs, 2)
	assert.Equal(t, tensor.Spec{Name: "x", Type: tensor.Float32,
		Dims: []tensor.Dim{tensor.AnyDim(), tensor.FixedDim(2)}}, inputs[0])
	assert.Equal(t, tensor.Spec{Name: "y", Type: tensor.Float32,
		Dims: []tensor.Dim{tensor.SymbolDim("batch"), tensor.FixedDim(2)}}, inputs[1])

	outputs := m.OutputSpecs()
	require.Len(t, outputs, 1)
	assert.Nil(t, outputs[0].Dims)
}

func TestParseYAML(t *testing.T) {
	m, err := Parse([]byte(`
name: strings_model
platform: onnx
platform_version: v1.0.0
input_spec:
  - {name: x, dtype: string, shape: [-1]}
  - {name: s, dtype: int64, shape: []}
output_spec:
  - {name: out, dtype: string, shape: [3]}
`))
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", m.PlatformVersion)
	in := m.InputSpecs()
	assert.Equal(t, []tensor.Dim{tensor.AnyDim()}, in[0].Dims)
	assert.NotNil(t, in[1].Dims)
	assert.Empty(t, in[1].Dims)
	assert.Equal(t, []tensor.Dim{tensor.FixedDim(3)}, m.OutputSpecs()[0].Dims)
}

func TestParseKeepsNullDims(t *testing.T) {
	m, err := Parse([]byte(`
platform: dense
input_spec:
  - name: x
    dtype: float32
    shape:
      - null
      - 2
      - ~
      - n
`))
	require.NoError(t, err)
	assert.Equal(t, []tensor.Dim{tensor.AnyDim(), tensor.FixedDim(2), tensor.AnyDim(), tensor.SymbolDim("n")},
		m.InputSpecs()[0].Dims)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"version":      `{"format_version": 2, "platform": "onnx"}`,
		"platform":     `{"name": "m"}`,
		"custom ops":   `{"platform": "onnx", "custom_ops": ["libfoo.so"]}`,
		"dtype":        `{"platform": "onnx", "input_spec": [{"name": "x", "dtype": "complex64"}]}`,
		"missing name": `{"platform": "onnx", "input_spec": [{"dtype": "float32"}]}`,
		"duplicate":    `{"platform": "onnx", "output_spec": [{"name": "a", "dtype": "bool"}, {"name": "a", "dtype": "bool"}]}`,
		"bad dim":      `{"platform": "onnx", "input_spec": [{"name": "x", "dtype": "bool", "shape": [1.5]}]}`,
		"bad shape":    `{"platform": "onnx", "input_spec": [{"name": "x", "dtype": "bool", "shape": 3}]}`,
		"syntax":       `{"platform": `,
	}
	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(config))
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	specs := []tensor.Spec{
		{Name: "x", Type: tensor.Float64, Dims: []tensor.Dim{tensor.SymbolDim("n"), tensor.AnyDim(), tensor.FixedDim(4)}},
		{Name: "y", Type: tensor.String},
		{Name: "z", Type: tensor.Int8, Dims: []tensor.Dim{}},
	}
	m := &Manifest{Name: "m", Platform: "dense", InputSpec: FromSpecs(specs)}
	data, err := m.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, specs, parsed.InputSpecs())
}

func writePackage(t *testing.T, dir, config string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "0", "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0", "data", "model.bin"), []byte("weights"), 0o644))
}

func TestOpenDirectory(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, additionConfig)

	pkg, err := Open(dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, pkg.Close()) }()

	assert.Equal(t, dir, pkg.Root)
	assert.Equal(t, dir, pkg.Source())
	assert.Equal(t, filepath.Join(dir, "0", "data", "model.bin"), pkg.DataPath("model.bin"))

	data, err := pkg.ReadData("model.bin")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	size, err := pkg.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len(additionConfig)+len("weights")), size)

	_, err = pkg.ReadData("missing.bin")
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func zipDir(t *testing.T, src, archive, prefix string) {
	t.Helper()
	f, err := os.Create(archive)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		fw, err := w.Create(prefix + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestOpenZip(t *testing.T) {
	for _, prefix := range []string{"", "addition_model/"} {
		t.Run(fmt.Sprintf("prefix=%q", prefix), func(t *testing.T) {
			src := t.TempDir()
			writePackage(t, src, additionConfig)
			archive := filepath.Join(t.TempDir(), "model.zip")
			zipDir(t, src, archive, prefix)

			pkg, err := Open(archive)
			require.NoError(t, err)
			assert.Equal(t, "addition_model", pkg.Manifest.Name)
			data, err := pkg.ReadData("model.bin")
			require.NoError(t, err)
			assert.Equal(t, "weights", string(data))

			root := pkg.tmpDir
			require.NoError(t, pkg.Close())
			_, err = os.Stat(root)
			assert.True(t, errors.Is(err, fs.ErrNotExist), "extraction directory should be removed")
			require.NoError(t, pkg.Close())
		})
	}
}

func TestOpenZipRejectsTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	_, err = w.Create("../escape.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = Open(archive)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrLoad)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, le.Path, "missing")

	empty := t.TempDir()
	_, err = Open(empty)
	assert.ErrorIs(t, err, ErrLoad)
	assert.Contains(t, err.Error(), "no config file")

	bad := t.TempDir()
	writePackage(t, bad, `{"format_version": 7, "platform": "onnx"}`)
	_, err = Open(bad)
	assert.ErrorIs(t, err, ErrLoad)
	assert.Contains(t, err.Error(), "format_version")

	notZip := filepath.Join(t.TempDir(), "model.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0o644))
	_, err = Open(notZip)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestNewLoadError(t *testing.T) {
	assert.NoError(t, NewLoadError("p", nil))
	// The sentinel itself carries no stack.
	assert.Equal(t, "load error", fmt.Sprintf("%+v", ErrLoad))

	cause := errors.New("boom")
	err := NewLoadError("p", cause)
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "load p: boom", err.Error())
	assert.Contains(t, fmt.Sprintf("%+v", err), "TestNewLoadError")

	again := NewLoadError("q", err)
	assert.Same(t, err, again)
}
