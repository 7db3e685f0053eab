package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a missing capability.
	ErrForbidden = errors.New("forbidden")
)

// LookupFailure wraps a failed call to an external lookup (search, discount).
// Callers degrade to "no results" and surface it as a notice.
type LookupFailure struct {
	Op  string
	Err error
}

func (e *LookupFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LookupFailure) Unwrap() error {
	return e.Err
}
