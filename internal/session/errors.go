package session

import (
	"errors"
	"fmt"
)

var ErrEmptyText = errors.New("text must not be empty")

// ValidationError reports a local precondition that failed before anything
// was sent.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
