package onnx_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/backend/onnx"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/modeltest"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

func load(t *testing.T, dir string) backend.Backend {
	t.Helper()
	pkg, err := manifest.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pkg.Close() })
	b, err := backend.New(pkg, onnx.Name, backend.Options{StrictOps: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func build(t *testing.T, b backend.Backend, add func(*tensor.Builder)) *tensor.Map {
	t.Helper()
	builder := tensor.NewBuilder(b.Allocator(), b.InputSpecs())
	add(builder)
	m, err := builder.Build()
	require.NoError(t, err)
	t.Cleanup(m.Release)
	return m
}

func TestAdditionModel(t *testing.T) {
	b := load(t, modeltest.Addition(t))
	assert.Equal(t, onnx.Name, b.Name())
	require.Len(t, b.InputSpecs(), 2)

	inputs := build(t, b, func(builder *tensor.Builder) {
		require.NoError(t, builder.AddTensor("x", []float32{1, 2, 3, 4}, tensor.Shape{2, 2}))
		require.NoError(t, builder.AddTensor("y", []float32{7, 8, 9, 10}, tensor.Shape{2, 2}))
	})
	out, err := b.Infer(inputs, nil)
	require.NoError(t, err)
	defer out.Release()

	sum, err := tensor.Lookup[float32](out, "out")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, sum.Dims())
	assert.Equal(t, []float32{8, 10, 12, 14}, sum.Data())
}

func TestStringsModel(t *testing.T) {
	b := load(t, modeltest.Strings(t))
	inputs := build(t, b, func(builder *tensor.Builder) {
		require.NoError(t, builder.AddTensor("x", []string{"apple", "banana", "carrot"}, tensor.Shape{3}))
		require.NoError(t, builder.AddTensor("y", []string{"sauce", "pudding", "cake"}, tensor.Shape{3}))
	})
	out, err := b.Infer(inputs, []string{"out"})
	require.NoError(t, err)
	defer out.Release()

	joined, err := tensor.Lookup[string](out, "out")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, joined.Dims())
	assert.Equal(t, []string{"apple sauce", "banana pudding", "carrot cake"}, joined.Data())
}

func TestInferValidation(t *testing.T) {
	b := load(t, modeltest.Addition(t))

	missing := build(t, b, func(builder *tensor.Builder) {
		require.NoError(t, builder.AddTensor("x", []float32{1, 2}, tensor.Shape{1, 2}))
	})
	_, err := b.Infer(missing, nil)
	assert.ErrorIs(t, err, backend.ErrMissingInput)

	mismatched := build(t, b, func(builder *tensor.Builder) {
		require.NoError(t, builder.AddTensor("x", []float32{1, 2}, tensor.Shape{1, 2}))
		require.NoError(t, builder.AddTensor("y", []float32{1, 2, 3, 4}, tensor.Shape{2, 2}))
	})
	_, err = b.Infer(mismatched, nil)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch, "batch symbol binds to 1 then 2")

	_, err = b.Infer(missing, []string{"nope"})
	assert.Error(t, err)
}

func TestConcurrentInfer(t *testing.T) {
	b := load(t, modeltest.Addition(t))
	inputs := build(t, b, func(builder *tensor.Builder) {
		require.NoError(t, builder.AddTensor("x", []float32{1, 2, 3, 4}, tensor.Shape{2, 2}))
		require.NoError(t, builder.AddTensor("y", []float32{7, 8, 9, 10}, tensor.Shape{2, 2}))
	})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := b.Infer(inputs, nil)
			if err == nil {
				out.Release()
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestLoadRejectsMismatchedManifest(t *testing.T) {
	dir := modeltest.Addition(t)
	config := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(config)
	require.NoError(t, err)
	m, err := manifest.Parse(data)
	require.NoError(t, err)
	m.OutputSpec[0].DType = "int32"
	data, err = m.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config, data, 0o644))

	pkg, err := manifest.Open(dir)
	require.NoError(t, err)
	defer pkg.Close()
	_, err = backend.New(pkg, "", backend.Options{})
	assert.ErrorIs(t, err, backend.ErrLoad)
	assert.ErrorIs(t, err, tensor.ErrTypeMismatch)
}

func TestClose(t *testing.T) {
	b := load(t, modeltest.Addition(t))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	empty, err := tensor.NewMap()
	require.NoError(t, err)
	_, err = b.Infer(empty, nil)
	assert.ErrorIs(t, err, tensor.ErrInvalidState)
}
