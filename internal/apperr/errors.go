package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeConfigurationMissing = "configuration_missing"
	CodeExternalService      = "external_service"
	CodeUnsupportedInput     = "unsupported_input"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeInternal             = "internal"
)

type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func statusForCode(code string) int {
	switch code {
	case CodeUnsupportedInput:
		return 400
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeExternalService:
		return 502
	default:
		return 500
	}
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Status: statusForCode(code), Err: err}
}

func ConfigurationMissing(message string) error {
	return newError(CodeConfigurationMissing, message, nil)
}

// ExternalService wraps a collaborator failure with the message shown to the user.
func ExternalService(message string, err error) error {
	return newError(CodeExternalService, message, err)
}

func UnsupportedInput(message string) error {
	return newError(CodeUnsupportedInput, message, nil)
}

func Forbidden(message string) error {
	return newError(CodeForbidden, message, nil)
}

func NotFound(message string) error {
	return newError(CodeNotFound, message, nil)
}

func Internal(message string, err error) error {
	return newError(CodeInternal, message, err)
}

// As extracts an *Error from err, or wraps unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(CodeInternal, "internal error", err)
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
