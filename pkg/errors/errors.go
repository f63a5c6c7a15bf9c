package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels classify an AppError independently of its code.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrRateLimited    = errors.New("rate limited")
	ErrServiceUnavail = errors.New("service unavailable")
)

// AppError is an error with a stable machine-readable code and the HTTP
// status it maps to. A positive RetryAfter is sent as a Retry-After header and
// as retryAfterSeconds in the body.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Status     int    `json:"-"`
	RetryAfter int    `json:"-"`
	Err        error  `json:"-"`
}

func newError(status int, code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// NotFound reports a missing resource, e.g. NotFound("comment", id).
func NotFound(resource, id string) *AppError {
	return newError(http.StatusNotFound, "NOT_FOUND", resource+" "+id+" not found", ErrNotFound)
}

// AlreadyExists is a 409.
func AlreadyExists(code, message string) *AppError {
	return newError(http.StatusConflict, code, message, ErrAlreadyExists)
}

// InvalidInput is a 400 with code INVALID_INPUT.
func InvalidInput(message string) *AppError {
	return BadRequest("INVALID_INPUT", message)
}

func BadRequest(code, message string) *AppError {
	return newError(http.StatusBadRequest, code, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", message, ErrUnauthorized)
}

func Forbidden(code, message string) *AppError {
	return newError(http.StatusForbidden, code, message, ErrForbidden)
}

// RateLimited is a 429; retryAfter is the number of seconds until the
// caller's window resets.
func RateLimited(message string, retryAfter int) *AppError {
	e := newError(http.StatusTooManyRequests, "RATE_LIMITED", message, ErrRateLimited)
	e.RetryAfter = retryAfter
	return e
}

// Unavailable is a 503 for a dependency that cannot serve requests. The
// result matches both ErrServiceUnavail and cause.
func Unavailable(code, message string, retryAfter int, cause error) *AppError {
	err := ErrServiceUnavail
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrServiceUnavail, cause)
	}
	e := newError(http.StatusServiceUnavailable, code, message, err)
	e.RetryAfter = retryAfter
	return e
}

// Internal hides err behind a generic 500 message.
func Internal(err error) *AppError {
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", err)
}

// Misconfigured is a 500 for a server missing required settings.
func Misconfigured(code, message string) *AppError {
	return newError(http.StatusInternalServerError, code, message, ErrInternal)
}
