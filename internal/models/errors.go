package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every field or invariant violation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned for operations on unknown entries or users.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the stored revision no longer matches the
	// revision the caller observed. Callers refetch and retry.
	ErrConflict = errors.New("revision conflict")

	// ErrTransport is returned for subscription or connection failures.
	ErrTransport = errors.New("transport error")
)

// ValidationError describes why a single field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
