package domain

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned when a credential is missing, invalid,
	// expired, or resolves to a disabled or unknown user.
	ErrUnauthenticated = errors.New("domain: unauthenticated")
	// ErrForbidden is returned when the acting user may not perform the operation.
	ErrForbidden = errors.New("domain: forbidden")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("domain: not found")
	// ErrConflict is returned by stores when a uniqueness constraint is hit.
	ErrConflict = errors.New("domain: conflict")
)

// ValidationError captures caller mistakes that can be surfaced to users.
type ValidationError struct {
	Message     string
	FieldErrors map[string]string
	MissingIDs  []string
}

// NewValidationError returns a ValidationError with a user-facing message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	msg := v.Message
	if msg == "" {
		msg = "validation failed"
	}
	if len(v.MissingIDs) > 0 {
		msg += ": " + strings.Join(v.MissingIDs, ", ")
	}
	return msg
}

// Field records a field level validation error.
func (v *ValidationError) Field(field, message string) *ValidationError {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
	return v
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case IsValidation(err):
		return "validation"
	}
	return "internal"
}
