package tensor

import "errors"

// Common errors.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrDuplicateName = errors.New("duplicate tensor name")
	ErrInvalidState  = errors.New("invalid state")
	ErrKeyNotFound   = errors.New("key not found")
)
