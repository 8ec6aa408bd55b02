// Package orcherr defines the error taxonomy shared by every component so
// that retry deciders, HTTP mapping, and logging can all dispatch on a
// stable kind instead of parsing error strings.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy every internal error carries.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindAuthentication        Kind = "authentication"
	KindAuthorization         Kind = "authorization"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindRateLimited           Kind = "rate_limited"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindDependencyTimeout     Kind = "dependency_timeout"
	KindResourceExhausted     Kind = "resource_exhausted"
	KindIntegrityViolation    Kind = "integrity_violation"
	KindPolicyViolation       Kind = "policy_violation"
	KindInternal              Kind = "internal"
	KindShutdown              Kind = "shutdown"
)

// Retryable reports whether errors of this kind are retryable by default,
// absent a job class's own allow/deny lists (§4.3 failure handling).
func (k Kind) Retryable() bool {
	switch k {
	case KindDependencyUnavailable, KindDependencyTimeout, KindResourceExhausted, KindInternal:
		return true
	default:
		return false
	}
}

// Error is the structured error type every leaf component returns.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a lower-level cause,
// matching the manager/runtime wrapping idiom (fmt.Errorf("...: %w", err))
// but preserving the kind for dispatch.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, defaulting
// to KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Validation(format string, a ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, a...))
}

func NotFound(format string, a ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, a...))
}

func Conflict(format string, a ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, a...))
}

func DependencyUnavailable(cause error, format string, a ...any) *Error {
	return Wrap(KindDependencyUnavailable, fmt.Sprintf(format, a...), cause)
}

func DependencyTimeout(cause error, format string, a ...any) *Error {
	return Wrap(KindDependencyTimeout, fmt.Sprintf(format, a...), cause)
}

func ResourceExhausted(format string, a ...any) *Error {
	return New(KindResourceExhausted, fmt.Sprintf(format, a...))
}

func PolicyViolation(format string, a ...any) *Error {
	return New(KindPolicyViolation, fmt.Sprintf(format, a...))
}

func Internal(cause error, format string, a ...any) *Error {
	return Wrap(KindInternal, fmt.Sprintf(format, a...), cause)
}
