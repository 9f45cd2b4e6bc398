package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for API responses and logs.
type Code string

const (
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeForbidden    Code = "FORBIDDEN"
	ErrCodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     Code = "INTERNAL_ERROR"
	ErrCodeUnavailable  Code = "SERVICE_UNAVAILABLE"
)

// AppError carries a stable error code, the HTTP status it maps to, and
// optional key/value context surfaced in the response body.
type AppError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair surfaced in the error response.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(code Code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func NewInvalidInputError(message string) *AppError {
	return newError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return newError(ErrCodeNotFound, resource+" not found", http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return newError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return newError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return newError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return newError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewUnavailableError(message string) *AppError {
	return newError(ErrCodeUnavailable, message, http.StatusServiceUnavailable)
}

// Wrap annotates err with a code and status while keeping it unwrappable.
func Wrap(err error, code Code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Cause: err}
}

// GetAppError finds the first AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
