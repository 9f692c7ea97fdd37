package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an application error for HTTP status mapping.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindUpstream     ErrorKind = "upstream"
	KindInternal     ErrorKind = "internal"
)

// AppError carries a kind and an API error code alongside the message shown to callers.
// Err holds the underlying cause and is only ever logged.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details for the error envelope.
func (e *AppError) WithDetails(details any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Common application errors used across services.
var (
	ErrInvalidToken        = &AppError{Kind: KindUnauthorized, Code: "INVALID_TOKEN", Message: "Invalid or expired token"}
	ErrUnauthenticated     = &AppError{Kind: KindUnauthorized, Code: "UNAUTHENTICATED", Message: "Authentication required"}
	ErrForbidden           = &AppError{Kind: KindForbidden, Code: "FORBIDDEN", Message: "Operator role required"}
	ErrInvalidHash         = &AppError{Kind: KindUnauthorized, Code: "INVALID_HASH", Message: "Gateway response hash verification failed"}
	ErrRegistrationMissing = &AppError{Kind: KindNotFound, Code: "REGISTRATION_NOT_FOUND", Message: "Registration not found"}
	ErrTransactionMissing  = &AppError{Kind: KindNotFound, Code: "TRANSACTION_NOT_FOUND", Message: "Registration has no payment transaction"}
	ErrAlreadyPaid         = &AppError{Kind: KindValidation, Code: "ALREADY_PAID", Message: "Registration is already paid"}
)

// NewValidationError builds a client-facing validation error. The message is passed
// through verbatim to the caller.
func NewValidationError(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message}
}

// NewUpstreamError wraps a gateway failure.
func NewUpstreamError(message string, err error) *AppError {
	return &AppError{Kind: KindUpstream, Code: "GATEWAY_ERROR", Message: message, Err: err}
}

// NewInternalError wraps an unexpected failure. Callers only ever see a generic message.
func NewInternalError(err error) *AppError {
	return &AppError{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "Internal server error", Err: err}
}

// AsAppError extracts an AppError from err, treating anything else as internal.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(err)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	return AsAppError(err).Kind
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstream, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
