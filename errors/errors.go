package errors

import (
	"errors"
	"fmt"
)

// Error categories. Component errors wrap one of these with %w so callers can
// branch on the category without knowing the concrete type.

var (
	// ErrNotFound indicates a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid user input (attachment type or size)
	ErrInvalidInput = errors.New("invalid input")

	// ErrPrecondition indicates an operation was refused before any network call
	ErrPrecondition = errors.New("precondition failed")

	// ErrTransport indicates the backend call failed (status, network or decoding)
	ErrTransport = errors.New("transport failed")

	// ErrServiceUnavailable indicates a required service is unavailable
	ErrServiceUnavailable = errors.New("service unavailable")
)

// WrapError wraps an error with context message
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsPrecondition checks if error is a precondition error
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

// IsTransport checks if error is a transport error
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsServiceUnavailable checks if error is a service unavailable error
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// kindError is a user-facing message that belongs to one of the categories
// above.
type kindError struct {
	kind    error
	message string
}

func (e *kindError) Error() string { return e.message }
func (e *kindError) Unwrap() error { return e.kind }

// WithKind returns an error whose text is message and which matches kind
// under errors.Is.
func WithKind(kind error, message string) error {
	return &kindError{kind: kind, message: message}
}
