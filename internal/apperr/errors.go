// Package apperr defines the error kinds shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindInvalidArgument Kind = "invalid_argument"
	KindUnauthorized    Kind = "unauthorized"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindState           Kind = "state"
	KindExternalService Kind = "external_service"
	KindInternal        Kind = "internal"
)

// Error is a classified error. Message is safe to show to clients; Err
// keeps the underlying cause for logs and errors.Is checks.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }

func InvalidArgument(format string, args ...any) error {
	return newf(KindInvalidArgument, format, args...)
}

func Unauthorized(format string, args ...any) error { return newf(KindUnauthorized, format, args...) }

func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

func Forbidden(format string, args ...any) error { return newf(KindForbidden, format, args...) }

func State(format string, args ...any) error { return newf(KindState, format, args...) }

// ExternalService wraps a failure of the generative backend or another
// remote dependency.
func ExternalService(err error, format string, args ...any) error {
	e := newf(KindExternalService, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected failure; its message is not meant for clients.
func Internal(err error, format string, args ...any) error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind == KindInternal {
			return "internal error"
		}
		return appErr.Message
	}
	return "internal error"
}
