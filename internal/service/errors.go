package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the job does not exist or is not visible to the caller.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidState means the requested transition is not legal from the
	// job's current status, e.g. cancelling a job already claimed.
	ErrInvalidState = errors.New("invalid job state for operation")
)

// ValidationError rejects bad input on the write path; it maps to a 400 and is
// never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalidField(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
