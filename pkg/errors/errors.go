package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the externally visible categories
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindInternal        Kind = "INTERNAL"
)

// HTTPStatusMap maps error kinds to HTTP status codes
var HTTPStatusMap = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindUnauthenticated: http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindRateLimited:     http.StatusTooManyRequests,
	KindInternal:        http.StatusInternalServerError,
}

// ErrorResponse is the body written for every failed request.
// Detail carries the raw error text and is only filled in development.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    Kind   `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
	Detail  string `json:"error,omitempty"`
}

// AppError represents an application error with a kind and a machine-readable code
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = e.Code + ": " + e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	if status, exists := HTTPStatusMap[e.Kind]; exists {
		return status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse converts AppError to ErrorResponse
func (e *AppError) ToErrorResponse(traceID string, withDetail bool) ErrorResponse {
	resp := ErrorResponse{
		Message: e.Code,
		Code:    e.Kind,
		TraceID: traceID,
	}
	if withDetail {
		resp.Detail = e.Error()
	}
	return resp
}

// New creates a new AppError
func New(kind Kind, code string, cause error) *AppError {
	return &AppError{Kind: kind, Code: code, Cause: cause}
}

// Validation reports a user-correctable input problem
func Validation(code string) *AppError {
	return &AppError{Kind: KindValidation, Code: code}
}

// Validationf reports a user-correctable input problem with a readable message
func Validationf(code, format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated reports bad credentials or an invalid, expired or rotated-out token
func Unauthenticated(code string) *AppError {
	return &AppError{Kind: KindUnauthenticated, Code: code}
}

// Forbidden reports an authenticated caller acting on a resource it does not own
func Forbidden(code string) *AppError {
	return &AppError{Kind: KindForbidden, Code: code}
}

// NotFound reports a missing resource
func NotFound(code string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code}
}

// Conflict reports a uniqueness or concurrency violation
func Conflict(code string) *AppError {
	return &AppError{Kind: KindConflict, Code: code}
}

// Internal wraps an unexpected storage or service failure
func Internal(code string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Code: code, Cause: cause}
}

// As extracts an AppError from err. Errors that are not AppErrors become INTERNAL.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("INTERNAL_ERROR", err)
}

// IsKind reports whether err is an AppError of the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// WrapError wraps an error with additional context, keeping its kind
func WrapError(err error, code string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{Kind: appErr.Kind, Code: code, Cause: err}
	}
	return Internal(code, err)
}
