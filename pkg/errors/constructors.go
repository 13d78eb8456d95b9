package errors

import (
	"errors"
	"fmt"
)

// New creates an [Error] with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an [Error] with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil when err is nil
// so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a [CodeValidation] error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a [CodeValidation] error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound creates a [CodeNotFound] error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Unauthorized creates a [CodeAuthentication] error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates a [CodeAuthorization] error.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// RateLimited creates a [CodeRateLimited] error.
func RateLimited(message string) *Error {
	return New(CodeRateLimited, message)
}

// Internal creates a [CodeInternal] error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates a [CodeInternal] error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable creates a [CodeUnavailable] error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// FromError returns err as an *Error, wrapping foreign errors as
// [CodeInternal] so they never leak their text to API callers.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
