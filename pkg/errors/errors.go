// Package errors defines the error kinds surfaced by the authorization engine.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind.
// Transport code maps kinds to status codes; storage causes stay in Err and are
// never rendered to callers for KindInternal.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a machine-checkable error category.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
	// KindRateLimited is returned by the request limiter, never by the
	// authorization core.
	KindRateLimited Kind = "rate_limited"
)

// Error is a categorized error. Required, CallerID and CallerRole are set on
// KindForbidden so denials can be audited.
type Error struct {
	Kind       Kind
	Message    string
	Err        error
	Required   []string
	CallerID   int64
	CallerRole string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Internal wraps a storage or systemic failure.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// Forbidden builds a denial that records what was required and who asked.
func Forbidden(required []string, callerID int64, callerRole string) *Error {
	return &Error{
		Kind:       KindForbidden,
		Message:    "insufficient permissions",
		Required:   required,
		CallerID:   callerID,
		CallerRole: callerRole,
	}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of err. Errors without a kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if !errors.As(err, &typed) {
		return KindInternal
	}
	return typed.Kind
}

// As is errors.As for *Error.
func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
