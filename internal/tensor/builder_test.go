package tensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderLifecycle(t *testing.T) {
	b := NewBuilder(nil, nil)
	assert.Equal(t, builderEmpty, b.state)

	require.NoError(t, b.AddTensor("x", []float32{1, 2, 3, 4}, Shape{2, 2}))
	assert.Equal(t, builderAccumulating, b.state)
	require.NoError(t, b.AddTensor("y", []string{"a"}, Shape{1}))

	m, err := b.Build()
	require.NoError(t, err)
	assert.True(t, b.Built())
	assert.Equal(t, []string{"x", "y"}, m.Names())

	err = b.AddTensor("z", []float32{1}, Shape{1})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = b.Build()
	assert.ErrorIs(t, err, ErrInvalidState)
	m.Release()
}

func TestBuilderEmptyBuild(t *testing.T) {
	m, err := NewBuilder(DefaultAllocator, nil).Build()
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestBuilderDuplicateName(t *testing.T) {
	b := NewBuilder(nil, nil)
	require.NoError(t, b.AddTensor("x", []int64{1}, Shape{1}))

	err := b.AddTensor("x", []int64{2}, Shape{1})
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Equal(t, 1, b.Len())

	m, err := b.Build()
	require.NoError(t, err)
	x, err := Lookup[int64](m, "x")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, x.Data())
}

func TestBuilderFailedAddKeepsOwnership(t *testing.T) {
	b := NewBuilder(nil, nil)
	require.NoError(t, b.AddTensor("x", []float32{1}, Shape{1}))

	calls := 0
	err := b.AddTensorFromMemory("x", Shape{1}, []float32{2}, func() { calls++ })
	assert.ErrorIs(t, err, ErrDuplicateName)

	err = b.AddTensorFromMemory("y", Shape{5}, []float32{2}, func() { calls++ })
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 0, calls)
}

func TestBuilderBorrowedDeleter(t *testing.T) {
	calls := 0
	deleter := func() { calls++ }
	b := NewBuilder(nil, nil)
	require.NoError(t, b.AddTensorFromMemory("x", Shape{2, 2}, []float32{1, 2, 3, 4}, deleter))
	require.NoError(t, b.AddTensorFromMemory("y", Shape{2, 2}, []float32{7, 8, 9, 10}, deleter))

	m, err := b.Build()
	require.NoError(t, err)
	for _, tensor := range m.All() {
		assert.True(t, tensor.IsExternal())
	}
	assert.Equal(t, 0, calls)
	m.Release()
	assert.Equal(t, 2, calls)
}

func TestBuilderSpecTypeCheck(t *testing.T) {
	specs := []Spec{{Name: "x", Type: Float32}}
	b := NewBuilder(nil, specs)

	err := b.AddTensor("x", []float64{1}, Shape{1})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	err = b.AddTensor("x", []complex128{1}, Shape{1})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	// Undeclared names are accepted.
	require.NoError(t, b.AddTensor("extra", []float64{1}, Shape{1}))
	require.NoError(t, b.AddTensor("x", []float32{1}, Shape{1}))
}

func TestBuilderAddTensor(t *testing.T) {
	b := NewBuilder(nil, nil)
	x := Scalar[int32]("x", 3)
	require.NoError(t, b.Add(x))
	assert.ErrorIs(t, b.Add(x), ErrDuplicateName)
	assert.ErrorIs(t, b.Add(nil), ErrInvalidState)

	unnamed := Scalar[int32]("", 3)
	assert.ErrorIs(t, b.Add(unnamed), ErrInvalidState)

	released := Scalar[int32]("r", 3)
	released.Release()
	assert.ErrorIs(t, b.Add(released), ErrInvalidState)

	b.Discard()
	assert.True(t, x.Released())
	assert.ErrorIs(t, b.Add(Scalar[int32]("z", 1)), ErrInvalidState)
}

func TestMapLookup(t *testing.T) {
	x, err := CopyOf("x", Shape{2}, []float32{1, 2})
	require.NoError(t, err)
	s, err := CopyOf("s", Shape{1}, []string{"hi"})
	require.NoError(t, err)

	m, err := NewMap(x, s)
	require.NoError(t, err)

	got, ok := m.Find("x")
	require.True(t, ok)
	assert.Equal(t, "x", got.Name())

	_, ok = m.Find("missing")
	assert.False(t, ok)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), "missing")

	_, err = Lookup[float64](m, "x")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	str, err := Lookup[string](m, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, str.Data())

	var names []string
	for name := range m.All() {
		names = append(names, name)
	}
	if diff := cmp.Diff([]string{"x", "s"}, names); diff != "" {
		t.Errorf("All() order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, `{Tensor[float32][2] "x", Tensor[string][1] "s"}`, m.String())
}

func TestMapDuplicateAndClone(t *testing.T) {
	_, err := NewMap(Scalar[float32]("a", 1), Scalar[float32]("a", 2))
	assert.ErrorIs(t, err, ErrDuplicateName)

	calls := 0
	w, err := Wrap("w", Shape{1}, []float32{1}, func() { calls++ })
	require.NoError(t, err)
	m, err := NewMap(w)
	require.NoError(t, err)

	c := m.Clone()
	m.Release()
	assert.Equal(t, 0, calls)
	c.Release()
	assert.Equal(t, 1, calls)
}

func TestNilMap(t *testing.T) {
	var m *Map
	assert.Equal(t, 0, m.Len())
	assert.Nil(t, m.Names())
	_, err := m.Get("x")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
