// Package core provides the prompt library's record types and error taxonomy.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for library operations.
var (
	ErrNotFound          = errors.New("prompt not found")
	ErrDuplicateName     = errors.New("prompt name already exists")
	ErrConflict          = errors.New("constraint violation")
	ErrInvalidCursor     = errors.New("invalid since cursor")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidTransition = errors.New("invalid version status transition")
)

// ValidationError carries field-level validation context.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// StoreError wraps an I/O failure from a storage backend. It matches
// ErrStoreUnavailable under errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Unavailable wraps err as a StoreError for op. Sentinel errors from this
// package pass through untouched so callers can still match them.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{ErrNotFound, ErrDuplicateName, ErrConflict, ErrInvalidTransition} {
		if errors.Is(err, s) {
			return err
		}
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
