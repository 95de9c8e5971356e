// Package apperrors defines coded errors returned to callers of the service.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code
type Code string

// Error codes
const (
	ErrNotFound        Code = "NOT_FOUND"
	ErrConflict        Code = "CONFLICT"
	ErrStatusLocked    Code = "STATUS_LOCKED"
	ErrInvalidArgument Code = "INVALID_ARGUMENT"
	ErrRunInProgress   Code = "RUN_IN_PROGRESS"
	ErrLocked          Code = "LOCKED"
	ErrInternal        Code = "INTERNAL"
)

var messages = map[Code]string{
	ErrNotFound:        "resource not found",
	ErrConflict:        "expected value no longer matches",
	ErrStatusLocked:    "status is managed by the project board",
	ErrInvalidArgument: "invalid argument",
	ErrRunInProgress:   "a run of this kind is already in progress",
	ErrLocked:          "another process holds the lock",
	ErrInternal:        "internal error",
}

// AppError is an error with a code
type AppError struct {
	Code    Code
	Message string
	// Current carries the authoritative value for conflict errors
	Current *string
}

// Error implements error
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an AppError with the default message for code
func New(code Code) *AppError {
	return &AppError{Code: code, Message: messageFor(code)}
}

// Newf creates an AppError with a formatted message
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports that the caller's expected value is stale. current
// is the stored value, nil when unset.
func ConflictError(current *string) *AppError {
	msg := messageFor(ErrConflict)
	if current != nil {
		msg = fmt.Sprintf("%s (current value %q)", msg, *current)
	} else {
		msg += " (current value unset)"
	}
	return &AppError{Code: ErrConflict, Message: msg, Current: current}
}

// CodeOf returns the code of err, or ErrInternal when err carries none
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func messageFor(code Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[ErrInternal]
}
