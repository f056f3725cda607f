// Package store provides typed PostgreSQL persistence with ownership-scoped
// queries. Callers pass the authenticated user id (or nil when auth is
// disabled) and the store refuses cross-tenant rows by returning ErrNotFound.
package store

import (
	"errors"
	"fmt"
)

// Sentinel errors translated to HTTP statuses at the API boundary.
var (
	// ErrNotFound is returned when a row does not exist or is not visible to
	// the caller. Cross-tenant access returns this, never a forbidden error,
	// to avoid existence leaks.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a write contradicts existing state, e.g.
	// reusing an event id under a different session.
	ErrConflict = errors.New("resource conflict")

	// ErrAlreadyExists is returned on unique-constraint violations.
	ErrAlreadyExists = errors.New("resource already exists")
)

// ValidationError indicates invalid input data.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
