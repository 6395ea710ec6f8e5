// Package apperror defines the error taxonomy shared by services and handlers.
//
// Services return these errors; handler/response.go is the only place that
// turns them into HTTP status codes and JSON bodies.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExpectation marks a request that is missing the parameters an
	// operation cannot run without (remove without a filter).
	ErrExpectation = errors.New("expectation failed")
	// ErrWarning marks a partial success: the write happened but a follow-up
	// step (usually mail delivery) failed.
	ErrWarning = errors.New("warning")
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

// NotFoundMessage is NotFound with a caller-supplied message, for endpoints
// whose clients display the text verbatim.
func NotFoundMessage(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// ConflictMessage is Conflict with a caller-supplied message.
func ConflictMessage(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Unauthorized returns an AppError for a failed credential check or a
// missing capability. HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func ExpectationFailed(message string) *AppError {
	return &AppError{
		Err:     ErrExpectation,
		Message: message,
	}
}

// Warning reports that the primary write succeeded but a secondary step did
// not. The message is shown to the user as-is.
func Warning(message string) *AppError {
	return &AppError{
		Err:     ErrWarning,
		Message: message,
	}
}
