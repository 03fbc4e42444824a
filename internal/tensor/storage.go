package tensor

import (
	"sync/atomic"
)

// Deleter releases caller-owned memory wrapped by FromExternal.
// It is invoked exactly once, when the last handle sharing the memory is released.
type Deleter func()

// storage is the reference-counted owning record shared by every handle of a tensor.
// Copied tensors have no deleter and their memory is reclaimed by the GC; borrowed
// tensors run the deleter when refCount drops to zero.
type storage struct {
	refCount atomic.Int64
	deleter  Deleter
}

// newStorage creates a storage record with refCount = 1.
func newStorage(deleter Deleter) *storage {
	s := &storage{deleter: deleter}
	s.refCount.Store(1)
	return s
}

// addRef increments the reference count (for Clone operations).
func (s *storage) addRef() {
	s.refCount.Add(1)
}

// release decrements the reference count and runs the deleter on the transition to zero.
func (s *storage) release() {
	switch n := s.refCount.Add(-1); {
	case n == 0:
		if s.deleter != nil {
			s.deleter()
		}
	case n < 0:
		panic("tensor: storage released more times than it was retained")
	}
}

// refs returns the current reference count.
func (s *storage) refs() int64 {
	return s.refCount.Load()
}

// handle is the per-handle reference on a storage. Releasing a handle more than once
// only decrements the storage once.
type handle struct {
	st       *storage
	released atomic.Bool
}

func (h *handle) release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	h.st.release()
	return true
}
