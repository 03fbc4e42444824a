package tensor

import (
	"fmt"
)

type builderState int

const (
	builderEmpty builderState = iota
	builderAccumulating
	builderBuilt
)

func (s builderState) String() string {
	switch s {
	case builderEmpty:
		return "empty"
	case builderAccumulating:
		return "accumulating"
	default:
		return "built"
	}
}

// Builder accumulates named input tensors for one inference call.
//
// A Builder moves from empty to accumulating on the first successful add and to
// built on Build. Adding after Build, or building twice, fails with ErrInvalidState.
// A failed add leaves the Builder unchanged and does not take ownership of the data.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	alloc   Allocator
	specs   []Spec
	state   builderState
	tensors []Tensor
	names   map[string]struct{}
}

// NewBuilder returns an empty Builder allocating with alloc. When specs is non-nil,
// the element type of every input with a declared spec is checked as it is added.
func NewBuilder(alloc Allocator, specs []Spec) *Builder {
	if alloc == nil {
		alloc = DefaultAllocator
	}
	return &Builder{
		alloc: alloc,
		specs: specs,
		names: make(map[string]struct{}),
	}
}

// Len returns the number of tensors added so far.
func (b *Builder) Len() int { return len(b.tensors) }

// Built reports whether Build was called successfully.
func (b *Builder) Built() bool { return b.state == builderBuilt }

// AddTensor copies data, a slice of a supported element type, into a new tensor
// of shape dims. The caller keeps ownership of data.
func (b *Builder) AddTensor(name string, data any, dims Shape) error {
	typ, err := b.precheck(name, data)
	if err != nil {
		return err
	}
	t, err := b.alloc.Copy(name, typ, dims, data)
	if err != nil {
		return err
	}
	b.push(t)
	return nil
}

// AddTensorFromMemory wraps data without copying. deleter runs exactly once, when
// the last handle on the tensor is released. If AddTensorFromMemory fails, the
// deleter is not called and the caller keeps ownership of data.
func (b *Builder) AddTensorFromMemory(name string, dims Shape, data any, deleter Deleter) error {
	typ, err := b.precheck(name, data)
	if err != nil {
		return err
	}
	t, err := b.alloc.FromExternal(name, typ, dims, data, deleter)
	if err != nil {
		return err
	}
	b.push(t)
	return nil
}

// Add takes ownership of an already allocated tensor. On failure the caller keeps
// ownership and must release it.
func (b *Builder) Add(t Tensor) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInvalidState)
	}
	if t.Released() {
		return fmt.Errorf("%w: tensor %q was already released", ErrInvalidState, t.Name())
	}
	if err := b.checkName(t.Name()); err != nil {
		return err
	}
	if err := b.checkType(t.Name(), t.Type()); err != nil {
		return err
	}
	b.push(t)
	return nil
}

// Build finalizes the builder and returns the accumulated inputs. The returned
// Map owns the tensors; release it once inference is done.
func (b *Builder) Build() (*Map, error) {
	if b.state == builderBuilt {
		return nil, fmt.Errorf("%w: builder was already built", ErrInvalidState)
	}
	m, err := NewMap(b.tensors...)
	if err != nil {
		return nil, err
	}
	b.state = builderBuilt
	b.tensors = nil
	return m, nil
}

// Discard releases any accumulated tensors without building. The Builder cannot be
// used afterwards.
func (b *Builder) Discard() {
	for _, t := range b.tensors {
		t.Release()
	}
	b.tensors = nil
	b.state = builderBuilt
}

func (b *Builder) precheck(name string, data any) (TensorType, error) {
	if err := b.checkName(name); err != nil {
		return Invalid, err
	}
	typ := typeOfSlice(data)
	if typ == Invalid {
		return Invalid, fmt.Errorf("%w: tensor %q: unsupported data %T", ErrTypeMismatch, name, data)
	}
	if err := b.checkType(name, typ); err != nil {
		return Invalid, err
	}
	return typ, nil
}

func (b *Builder) checkName(name string) error {
	if b.state == builderBuilt {
		return fmt.Errorf("%w: cannot add %q, builder is %s", ErrInvalidState, name, b.state)
	}
	if name == "" {
		return fmt.Errorf("%w: tensor name must not be empty", ErrInvalidState)
	}
	if _, ok := b.names[name]; ok {
		return fmt.Errorf("%w: %q was already added", ErrDuplicateName, name)
	}
	return nil
}

func (b *Builder) checkType(name string, typ TensorType) error {
	spec, ok := FindSpec(b.specs, name)
	if !ok || spec.Type == typ {
		return nil
	}
	return fmt.Errorf("%w: input %q is declared %s, got %s", ErrTypeMismatch, name, spec.Type, typ)
}

func (b *Builder) push(t Tensor) {
	b.names[t.Name()] = struct{}{}
	b.tensors = append(b.tensors, t)
	b.state = builderAccumulating
}
