package composer

import (
	"errors"
	"strings"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

var (
	// ErrNoCounterparty is reported when searching or adding products before
	// a client or supplier has been selected.
	ErrNoCounterparty = newValidationError("counterparty", "select a counterparty first")
	// ErrLineNotFound is returned by line operations on unknown products.
	ErrLineNotFound = errors.New("composer: line not found")
	// ErrClosed is returned once a composition was submitted or discarded.
	ErrClosed = errors.New("composer: composition closed")
)

// Problem is a single field-level validation failure.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError blocks submission and is reported inline.
type ValidationError struct {
	Problems []Problem
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Problems: []Problem{{Field: field, Message: message}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for every validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError is a rejection by the order store. Message is shown to
// the user verbatim; Field names the offending input when known.
type PersistenceError struct {
	Field   string
	Message string
	Err     error
}

func (e *PersistenceError) Error() string {
	return e.Message
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
