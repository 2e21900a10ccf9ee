package shared

import (
	"errors"
	"fmt"
)

// Error kinds recognised across the engine. Services wrap them with
// entity-specific detail; the HTTP layer maps each kind to a status code.
var (
	// ErrNotFound indicates an entity key has no record.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a business-rule violation.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a unique-key collision on create.
	ErrDuplicate = errors.New("duplicate entry")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NotFound builds a NotFound error for the given entity and key.
func NotFound(entity, key string) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf("%s %s not found", entity, key)}
}

// Validationf builds a Validation error with formatted detail.
func Validationf(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// Duplicate builds a Duplicate error for a unique-field collision.
func Duplicate(entity, field, value string) error {
	return &kindError{kind: ErrDuplicate, msg: fmt.Sprintf("%s with %s %s already exists", entity, field, value)}
}
