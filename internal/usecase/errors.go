package usecase

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch with errors.Is on these, never on message text.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream error")
	ErrRetryable  = errors.New("retryable error")
)

// PipelineError carries one of the error kinds together with its cause.
type PipelineError struct {
	Kind error
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

func validationError(op, format string, args ...any) error {
	return newError(ErrValidation, op, fmt.Errorf(format, args...))
}
