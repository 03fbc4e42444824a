package manifest

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// ErrLoad is matched by every failure to open a model package or construct its backend.
var ErrLoad = stderrors.New("load error")

// LoadError records a failure to load the model package at Path.
// It unwraps to both ErrLoad and the underlying cause.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrLoad and the cause.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}

// NewLoadError wraps err as a *LoadError for path and records the stack.
// An err that already is a LoadError is returned unchanged.
func NewLoadError(path string, err error) error {
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	return errors.WithStack(&LoadError{Path: path, Err: err})
}

