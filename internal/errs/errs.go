package errs

import (
	"errors"
)

// Code is an error class shared by the mailbox, storage and bootstrap layers.
type Code string

const (
	// Configuration marks missing or invalid operator-provisioned artifacts
	// (credential files, tokens, settings). Never retried automatically.
	Configuration Code = "configuration"
	// Unavailable marks transient service or network failures. Callers may retry.
	Unavailable Code = "unavailable"
	// NotFound marks an expected absence (no message yet, no code in a message).
	NotFound Code = "not_found"
	Internal Code = "internal"
)

// Error is a coded error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// MessageOf returns the operator-facing message of the outermost coded error.
// Untyped errors yield "internal error".
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether an operation failing with err may succeed when repeated
// without operator intervention.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case Unavailable, NotFound:
		return err != nil
	default:
		return false
	}
}
