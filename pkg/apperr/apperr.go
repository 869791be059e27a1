// Package apperr implements the data host's error taxonomy: a small closed
// set of Kinds that every component returns instead of ad hoc errors, and
// the mapping from Kind to wire-protocol status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the data host's canonical error categories.
type Kind uint8

const (
	KindInternal Kind = iota
	KindBadRequest
	KindConflict
	KindForbidden
	KindMethodNotAllowed
	KindNotFound
	KindNotImplemented
	KindTimeout
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindNotFound:
		return "not_found"
	case KindNotImplemented:
		return "not_implemented"
	case KindTimeout:
		return "timeout"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// StatusCode returns the canonical HTTP status for a Kind.
func StatusCode(k Kind) int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindNotFound:
		return http.StatusNotFound
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type every package in this module returns
// for an expected failure condition.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...any) *Error         { return newf(KindInternal, format, args...) }
func BadRequest(format string, args ...any) *Error        { return newf(KindBadRequest, format, args...) }
func Conflict(format string, args ...any) *Error          { return newf(KindConflict, format, args...) }
func Forbidden(format string, args ...any) *Error         { return newf(KindForbidden, format, args...) }
func MethodNotAllowed(format string, args ...any) *Error  { return newf(KindMethodNotAllowed, format, args...) }
func NotFound(format string, args ...any) *Error          { return newf(KindNotFound, format, args...) }
func NotImplemented(format string, args ...any) *Error    { return newf(KindNotImplemented, format, args...) }
func Timeout(format string, args ...any) *Error           { return newf(KindTimeout, format, args...) }
func Unauthorized(format string, args ...any) *Error      { return newf(KindUnauthorized, format, args...) }

// Wrap attaches kind and a message to an underlying cause, preserving it for
// errors.Unwrap/errors.Is chains.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, defaulting
// to KindInternal for anything else. Used at the gateway boundary so every
// error, including ones from third-party libraries, resolves to some status
// code.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
