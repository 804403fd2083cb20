// Package errors defines the service's typed error model: sentinel kinds
// callers branch on with errors.Is, and AppError values carrying the wire
// code and message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Every AppError wraps one of these (or a concrete cause for
// internals), so call sites never need to match on codes or statuses.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limited")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
)

// kind ties a sentinel to its wire code and HTTP status.
type kind struct {
	sentinel error
	code     string
	status   int
}

var kinds = []kind{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrAlreadyExists, "CONFLICT", http.StatusConflict},
	{ErrInvalidInput, "VALIDATION", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrRateLimited, "RATE_LIMITED", http.StatusTooManyRequests},
	{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

// AppError is a structured application error. Code and Message are what the
// HTTP layer puts on the wire; Status and the wrapped Err stay server-side.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// newKind builds an AppError for a sentinel registered in kinds.
func newKind(sentinel error, message string) *AppError {
	for _, k := range kinds {
		if k.sentinel == sentinel {
			return &AppError{Code: k.code, Message: message, Status: k.status, Err: sentinel}
		}
	}
	return &AppError{Code: "INTERNAL", Message: message, Status: http.StatusInternalServerError, Err: sentinel}
}

// NotFound reports a missing resource by id.
func NotFound(resource, id string) *AppError {
	return newKind(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// AlreadyExists reports a uniqueness conflict on field=value.
func AlreadyExists(resource, field, value string) *AppError {
	return newKind(ErrAlreadyExists, fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

// InvalidInput reports a request the caller can fix.
func InvalidInput(message string) *AppError {
	return newKind(ErrInvalidInput, message)
}

// Unauthorized reports missing or invalid credentials.
func Unauthorized(message string) *AppError {
	return newKind(ErrUnauthorized, message)
}

// Forbidden reports valid credentials without sufficient rights.
func Forbidden(message string) *AppError {
	return newKind(ErrForbidden, message)
}

// RateLimited reports that the caller exceeded an operation's budget.
func RateLimited(message string) *AppError {
	return newKind(ErrRateLimited, message)
}

// Internal wraps an unexpected cause. The wire message is generic; the cause
// surfaces only in logs.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap adds context while preserving the error chain.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps any error to a status code: AppError carries its own,
// bare sentinels map through the kinds table, everything else is a 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
