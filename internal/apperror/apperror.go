// Package apperror defines the error taxonomy shared by the service and
// handler layers.
//
// Services return one of the constructors below (wrapped with %w as the
// error travels up). Handlers never inspect message text; they match the
// sentinel with errors.Is and map it to a status code in writeError.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
	ErrConfig       = errors.New("misconfigured")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict is returned when the resource is busy, for example when a report
// for the same key is already being generated by another request.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means no usable session was presented.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Upstream wraps a failure of GitHub or the model API. The cause is kept for
// logging; Message is the only part shown to clients.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrUpstream, cause),
		Message: message,
	}
}

// Misconfigured reports a server-side configuration problem such as a preset
// without a prompt template.
func Misconfigured(message string) *AppError {
	return &AppError{
		Err:     ErrConfig,
		Message: message,
	}
}
