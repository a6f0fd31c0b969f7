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
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Transition guard denials. Codes match the guard's deny reasons so callers
// can branch on them without string parsing.
var (
	ErrAccountRequired   = New("ACCOUNT_REQUIRED", http.StatusPreconditionFailed, "a linked user account is required before verification")
	ErrSkipNotAllowed    = New("SKIP_NOT_ALLOWED", http.StatusConflict, "enrollment status cannot skip ahead in the progression")
	ErrPaymentNotSettled = New("PAYMENT_NOT_SETTLED", http.StatusPreconditionFailed, "payment intent has not settled")
	ErrRemarksRequired   = New("REMARKS_REQUIRED", http.StatusBadRequest, "remarks are required when rejecting an enrollment")
)

// Payment orchestration failures. Each kind maps to a distinct caller action:
// retry as-is, re-enter payment details, or escalate to an operator.
var (
	ErrGatewayUnreachable = New("GATEWAY_UNREACHABLE", http.StatusBadGateway, "payment gateway unreachable")
	ErrMethodRejected     = New("METHOD_REJECTED", http.StatusUnprocessableEntity, "payment method rejected by gateway")
	ErrPaymentUnexpected  = New("PAYMENT_UNEXPECTED", http.StatusBadGateway, "unexpected payment gateway response")
	ErrIntentActive       = New("INTENT_ACTIVE", http.StatusConflict, "an active payment intent already exists for this enrollment")
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
