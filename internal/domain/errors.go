package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when an operation references an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrForbidden is returned when a caller is neither the job owner nor system.
	ErrForbidden = errors.New("job belongs to another user")

	// ErrAlreadyPaused is returned when pausing a job that is not running.
	ErrAlreadyPaused = errors.New("job is already paused")

	// ErrAlreadyRunning is returned when resuming a job that is not paused.
	ErrAlreadyRunning = errors.New("job is already running")
)

// ValidationError marks a malformed or logically inconsistent job
// definition. The job is never persisted when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job definition: " + e.Reason
	}
	return fmt.Sprintf("invalid job definition: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
