package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
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

// Is matches errors by code so clones and wraps compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Circulation and penalty domain errors.
var (
	ErrOutOfStock          = New("OUT_OF_STOCK", http.StatusConflict, "no available copies")
	ErrMemberNotEligible   = New("MEMBER_NOT_ELIGIBLE", http.StatusForbidden, "member is not in good standing")
	ErrAlreadyReturned     = New("ALREADY_RETURNED", http.StatusConflict, "borrow record already closed")
	ErrAlreadyProcessed    = New("ALREADY_PROCESSED", http.StatusConflict, "request already processed")
	ErrInvalidAmount       = New("INVALID_AMOUNT", http.StatusBadRequest, "invalid payment amount")
	ErrReasonRequired      = New("REASON_REQUIRED", http.StatusBadRequest, "rejection reason is required")
	ErrAlreadyOnWaitlist   = New("ALREADY_ON_WAITLIST", http.StatusConflict, "student already on waitlist for this book")
	ErrBookAvailable       = New("BOOK_AVAILABLE", http.StatusConflict, "book currently has available copies")
	ErrConcurrencyConflict = New("CONCURRENCY_CONFLICT", http.StatusConflict, "record changed concurrently")
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
