package tensor

import (
	"fmt"
	"iter"
	"strings"
)

// Map is an immutable, insertion-ordered collection of uniquely named tensors.
//
// It is produced by a Builder for inference inputs and by backends for inference
// outputs. The Map holds one handle per tensor; Release drops all of them.
type Map struct {
	names   []string
	tensors map[string]Tensor
}

// NewMap builds a Map from named tensors, taking over their handles.
// Names must be non-empty and unique.
func NewMap(tensors ...Tensor) (*Map, error) {
	m := &Map{
		names:   make([]string, 0, len(tensors)),
		tensors: make(map[string]Tensor, len(tensors)),
	}
	for _, t := range tensors {
		if err := m.insert(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Map) insert(t Tensor) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInvalidState)
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("%w: tensor %s has no name", ErrInvalidState, t)
	}
	if _, ok := m.tensors[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	m.names = append(m.names, name)
	m.tensors[name] = t
	return nil
}

// Len returns the number of tensors.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Names returns the tensor names in insertion order.
func (m *Map) Names() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.names...)
}

// Find returns the tensor with the given name, if present.
func (m *Map) Find(name string) (Tensor, bool) {
	if m == nil {
		return nil, false
	}
	t, ok := m.tensors[name]
	return t, ok
}

// Get returns the tensor with the given name, or ErrKeyNotFound naming the missing key.
func (m *Map) Get(name string) (Tensor, error) {
	t, ok := m.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: no tensor named %q (have %v)", ErrKeyNotFound, name, m.Names())
	}
	return t, nil
}

// All iterates over the tensors in insertion order.
func (m *Map) All() iter.Seq2[string, Tensor] {
	return func(yield func(string, Tensor) bool) {
		if m == nil {
			return
		}
		for _, name := range m.names {
			if !yield(name, m.tensors[name]) {
				return
			}
		}
	}
}

// Clone returns a new Map whose tensors share storage with m.
func (m *Map) Clone() *Map {
	out := &Map{
		names:   m.Names(),
		tensors: make(map[string]Tensor, m.Len()),
	}
	for name, t := range m.All() {
		out.tensors[name] = t.Clone()
	}
	return out
}

// Release releases every tensor handle held by the map.
func (m *Map) Release() {
	for _, t := range m.All() {
		t.Release()
	}
}

// String lists the tensors of the map.
func (m *Map) String() string {
	parts := make([]string, 0, m.Len())
	for _, t := range m.All() {
		parts = append(parts, t.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Lookup finds a tensor by name and downcasts it to element type T.
// It fails with ErrKeyNotFound or ErrTypeMismatch.
func Lookup[T Element](m *Map, name string) (*TypedTensor[T], error) {
	t, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return As[T](t)
}
