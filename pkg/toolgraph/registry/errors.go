package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for registration and lookup.
var (
	// ErrToolNotFound indicates no tool is registered under the requested name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool indicates a second registration under the same name.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrFrozen indicates Register was called after Freeze.
	ErrFrozen = errors.New("registry is frozen")

	// ErrInvalidTool indicates an empty name or nil implementation.
	ErrInvalidTool = errors.New("invalid tool")
)

// InputError reports required inputs that were not supplied.
type InputError struct {
	Tool    string
	Missing []string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return fmt.Sprintf("tool %s: missing required inputs: %s", e.Tool, strings.Join(e.Missing, ", "))
}

// ExecutionError wraps a failure raised by a tool implementation.
type ExecutionError struct {
	Tool string
	// Panic holds the recovered value when the tool panicked.
	Panic any
	Err   error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Panic)
	}
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// transientError marks an error as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable by WithRetry. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
