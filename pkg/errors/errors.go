package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned sentinels still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// NewRetryable creates an Error the caller may safely retry.
func NewRetryable(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Retryable: true}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// WrapWith attaches err to a copy of base, keeping its code, status and
// retry flag.
func WrapWith(err error, base *Error, message string) *Error {
	clone := Clone(base, message)
	if clone != nil {
		clone.Err = err
	}
	return clone
}

// Predefined errors for common scenarios.
var (
	ErrNotFound             = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden            = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized         = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict             = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation           = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal             = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrDuplicateEnrollment  = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "user already holds an open enrollment for this course")
	ErrAlreadyWaitlisted    = New("ALREADY_WAITLISTED", http.StatusConflict, "user already on the waitlist for this course")
	ErrCapacityBelowCurrent = New("CAPACITY_BELOW_CURRENT", http.StatusConflict, "max capacity cannot be lower than current enrollments")
	ErrInvalidTransition    = New("INVALID_STATE_TRANSITION", http.StatusConflict, "enrollment status transition not allowed")
	ErrWaitlistDisabled     = New("WAITLIST_DISABLED", http.StatusConflict, "course does not allow a waitlist")
	ErrCapacityExceeded     = NewRetryable("CAPACITY_EXCEEDED", http.StatusConflict, "course is full")
	ErrSeatsAvailable       = NewRetryable("SEATS_AVAILABLE", http.StatusConflict, "course has free seats; enroll directly")
	ErrServiceBusy          = NewRetryable("SERVICE_BUSY", http.StatusServiceUnavailable, "service busy, retry later")
	ErrCacheMiss            = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsRetryable reports whether err carries the retryable flag.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
