package stockledger

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
var (
	// Command failure classes.
	ErrConflict         = errors.New("stockledger: conflict")
	ErrInvalidReference = errors.New("stockledger: invalid reference")
	ErrNotFound         = errors.New("stockledger: not found")

	// General errors
	ErrInvalidInput = errors.New("stockledger: invalid input")

	// Roll errors
	ErrRollNotFound = errors.New("stockledger: roll not found")
	ErrRollExists   = errors.New("stockledger: roll already exists")

	// Consumption record errors
	ErrRecordNotFound = errors.New("stockledger: consumption record not found")
	ErrRecordExists   = errors.New("stockledger: consumption record already exists")

	// Job errors
	ErrJobNotFound = errors.New("stockledger: job not found")
	ErrJobExists   = errors.New("stockledger: job already exists")

	// Order errors
	ErrOrderNotFound  = errors.New("stockledger: order not found")
	ErrOrderExists    = errors.New("stockledger: order already exists")
	ErrOrderCompleted = errors.New("stockledger: order is completed")
	ErrOrderNotQueued = errors.New("stockledger: order has no planning index")
	ErrIndexMoved     = errors.New("stockledger: planning index changed concurrently")

	// Store errors
	ErrStoreClosed      = errors.New("stockledger: store is closed")
	ErrWatchUnsupported = errors.New("stockledger: store does not support change streams")
	ErrLockNotObtained  = errors.New("stockledger: lock not obtained")
)

// Conflict wraps cause so that it matches both ErrConflict and cause.
func Conflict(cause error) error {
	return fmt.Errorf("%w: %w", ErrConflict, cause)
}

// NotFound wraps cause so that it matches both ErrNotFound and cause.
func NotFound(cause error) error {
	return fmt.Errorf("%w: %w", ErrNotFound, cause)
}

// InvalidReference wraps cause so that it matches both ErrInvalidReference
// and cause.
func InvalidReference(cause error) error {
	return fmt.Errorf("%w: %w", ErrInvalidReference, cause)
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("stockledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "stockledger: no errors"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("stockledger: %d errors occurred: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsConflict returns true if another transaction won a race against the
// failed command.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error is a not found error. A job that
// does not resolve is an invalid reference, not a missing entity.
func IsNotFound(err error) bool {
	if IsInvalidReference(err) {
		return false
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRollNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsInvalidReference returns true if the caller named an identity that
// does not resolve.
func IsInvalidReference(err error) bool {
	return errors.Is(err, ErrInvalidReference)
}

// IsRetryable returns true if the command may succeed after re-reading
// current state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockNotObtained)
}
