package backend

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

type fakeBackend struct {
	name string
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) InputSpecs() []tensor.Spec { return nil }
func (f *fakeBackend) OutputSpecs() []tensor.Spec { return nil }
func (f *fakeBackend) Allocator() tensor.Allocator { return tensor.DefaultAllocator }
func (f *fakeBackend) Close() error { return nil }
func (f *fakeBackend) Infer(*tensor.Map, []string) (*tensor.Map, error) {
	return tensor.NewMap()
}

func fakeConstructor(name string) Constructor {
	return func(*manifest.Package, Options) (Backend, error) {
		return &fakeBackend{name: name}, nil
	}
}

func openPackage(t *testing.T, config string) *manifest.Package {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644))
	pkg, err := manifest.Open(dir)
	require.NoError(t, err)
	return pkg
}

func TestRegistry(t *testing.T) {
	Register(Registration{Name: "test-a", Platforms: []string{"test-platform"}, Version: "v1.2.0", New: fakeConstructor("test-a")})
	Register(Registration{Name: "test-b", Platforms: []string{"test-platform", "other"}, Version: "v2.0.0", New: fakeConstructor("test-b")})

	r, err := Lookup("test-b")
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", r.Version)

	_, err = Lookup("no-such-backend")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	r, err = ForPlatform("test-platform")
	require.NoError(t, err)
	assert.Equal(t, "test-a", r.Name, "first registration wins")

	r, err = ForPlatform("other")
	require.NoError(t, err)
	assert.Equal(t, "test-b", r.Name)

	_, err = ForPlatform("tensorflow")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	assert.Subset(t, Names(), []string{"test-a", "test-b"})
	assert.GreaterOrEqual(t, len(Registrations()), 2)

	assert.Panics(t, func() {
		Register(Registration{Name: "test-a", New: fakeConstructor("dup")})
	})
	assert.Panics(t, func() { Register(Registration{Name: "test-nil"}) })
	assert.Panics(t, func() {
		Register(Registration{Name: "test-version", Version: "1.0", New: fakeConstructor("x")})
	})
}

func TestNewSelectsBackend(t *testing.T) {
	Register(Registration{Name: "test-new", Platforms: []string{"test-new-platform"}, Version: "v1.0.0", New: fakeConstructor("test-new")})
	Register(Registration{Name: "test-failing", Version: "v1.0.0", New: func(*manifest.Package, Options) (Backend, error) {
		return nil, errors.New("corrupt weights")
	}})

	pkg := openPackage(t, `{"platform": "test-new-platform"}`)

	b, err := New(pkg, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, "test-new", b.Name())

	b, err = New(pkg, "test-new", Options{})
	require.NoError(t, err)
	assert.Equal(t, "test-new", b.Name())

	_, err = New(pkg, "does-not-exist", Options{})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(pkg, "test-failing", Options{})
	assert.ErrorIs(t, err, ErrLoad)
	assert.Contains(t, err.Error(), "corrupt weights")

	newer := openPackage(t, `{"platform": "test-new-platform", "platform_version": "v1.5.0"}`)
	_, err = New(newer, "", Options{})
	assert.ErrorIs(t, err, ErrLoad)
}

func TestCheckVersion(t *testing.T) {
	r := Registration{Name: "x", Version: "v1.4.2"}
	assert.NoError(t, CheckVersion(r, ""))
	assert.NoError(t, CheckVersion(r, "v1.4.0"))
	assert.NoError(t, CheckVersion(r, "v1.4.2"))
	assert.Error(t, CheckVersion(r, "v1.5"))
	assert.Error(t, CheckVersion(r, "1.0.0"))
	assert.Error(t, CheckVersion(Registration{Name: "y"}, "v0.1.0"))
}

func newMap(t *testing.T, tensors ...tensor.Tensor) *tensor.Map {
	t.Helper()
	m, err := tensor.NewMap(tensors...)
	require.NoError(t, err)
	return m
}

func f32(t *testing.T, name string, dims tensor.Shape) tensor.Tensor {
	t.Helper()
	x, err := tensor.Zeros[float32](name, dims)
	require.NoError(t, err)
	return x
}

func TestValidateInputs(t *testing.T) {
	specs := []tensor.Spec{
		{Name: "x", Type: tensor.Float32, Dims: []tensor.Dim{tensor.SymbolDim("batch"), tensor.FixedDim(2)}},
		{Name: "y", Type: tensor.Float32, Dims: []tensor.Dim{tensor.SymbolDim("batch"), tensor.AnyDim()}},
	}

	bindings, err := ValidateInputs(specs, newMap(t, f32(t, "x", tensor.Shape{3, 2}), f32(t, "y", tensor.Shape{3, 7})))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"batch": 3}, bindings)

	_, err = ValidateInputs(specs, newMap(t, f32(t, "x", tensor.Shape{3, 2})))
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = ValidateInputs(specs, newMap(t, f32(t, "x", tensor.Shape{3, 2}), f32(t, "y", tensor.Shape{4, 2})))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = ValidateInputs(specs, newMap(t, f32(t, "x", tensor.Shape{3, 3}), f32(t, "y", tensor.Shape{3, 2})))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	y64, err := tensor.Zeros[float64]("y", tensor.Shape{3, 2})
	require.NoError(t, err)
	_, err = ValidateInputs(specs, newMap(t, f32(t, "x", tensor.Shape{3, 2}), y64))
	assert.ErrorIs(t, err, tensor.ErrTypeMismatch)

	released := newMap(t, f32(t, "x", tensor.Shape{3, 2}), f32(t, "y", tensor.Shape{3, 2}))
	released.Release()
	_, err = ValidateInputs(specs, released)
	assert.ErrorIs(t, err, tensor.ErrInvalidState)

	// Undeclared inputs are ignored.
	_, err = ValidateInputs(specs, newMap(t,
		f32(t, "x", tensor.Shape{1, 2}), f32(t, "y", tensor.Shape{1, 1}), f32(t, "z", tensor.Shape{5})))
	assert.NoError(t, err)
}

func TestSelectOutputs(t *testing.T) {
	specs := []tensor.Spec{{Name: "a", Type: tensor.Int64}, {Name: "b", Type: tensor.Bool}}

	all, err := SelectOutputs(specs, nil)
	require.NoError(t, err)
	assert.Equal(t, specs, all)

	some, err := SelectOutputs(specs, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []tensor.Spec{{Name: "b", Type: tensor.Bool}}, some)

	_, err = SelectOutputs(specs, []string{"c"})
	assert.ErrorIs(t, err, tensor.ErrKeyNotFound)

	_, err = SelectOutputs(specs, []string{"a", "a"})
	assert.ErrorIs(t, err, tensor.ErrDuplicateName)
}

func TestCheckOutputs(t *testing.T) {
	specs := []tensor.Spec{{Name: "out", Type: tensor.Float32, Dims: []tensor.Dim{tensor.SymbolDim("batch")}}}

	assert.NoError(t, CheckOutputs(specs, newMap(t, f32(t, "out", tensor.Shape{3})), map[string]int64{"batch": 3}))
	assert.ErrorIs(t, CheckOutputs(specs, newMap(t, f32(t, "out", tensor.Shape{4})), map[string]int64{"batch": 3}),
		tensor.ErrShapeMismatch)
	assert.ErrorIs(t, CheckOutputs(specs, newMap(t), nil), tensor.ErrKeyNotFound)
}
