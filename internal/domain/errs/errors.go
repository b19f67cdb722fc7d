// Package errs defines the error taxonomy shared by the approval core.
// Every expected, user-facing failure carries a Kind; anything without one is
// treated as an infrastructure fault.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transport adapters
type Kind string

const (
	KindUnauthenticated            Kind = "Unauthenticated"
	KindTenantMismatch             Kind = "TenantMismatch"
	KindPermissionDenied           Kind = "PermissionDenied"
	KindInvalidTransition          Kind = "InvalidTransition"
	KindAlreadyFinalized           Kind = "AlreadyFinalized"
	KindConcurrentModification     Kind = "ConcurrentModification"
	KindNoTemplateAvailable        Kind = "NoTemplateAvailable"
	KindTemplateInvariantViolation Kind = "TemplateInvariantViolation"
	KindValidation                 Kind = "ValidationError"
	KindNotFound                   Kind = "NotFound"
	KindInternal                   Kind = "Internal"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether a caller may retry automatically after re-reading state
func (k Kind) Retryable() bool {
	return k == KindConcurrentModification
}

// Error is a classified error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrUnauthenticated            = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrTenantMismatch             = &Error{Kind: KindTenantMismatch, Message: "resource belongs to another company"}
	ErrPermissionDenied           = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrInvalidTransition          = &Error{Kind: KindInvalidTransition, Message: "transition not allowed"}
	ErrAlreadyFinalized           = &Error{Kind: KindAlreadyFinalized, Message: "disbursement already finalized"}
	ErrConcurrentModification     = &Error{Kind: KindConcurrentModification, Message: "disbursement was modified concurrently"}
	ErrNoTemplateAvailable        = &Error{Kind: KindNoTemplateAvailable, Message: "no workflow template available"}
	ErrTemplateInvariantViolation = &Error{Kind: KindTemplateInvariantViolation, Message: "workflow template is malformed"}
	ErrValidation                 = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound                   = &Error{Kind: KindNotFound, Message: "not found"}
)

// New creates a classified error
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsExpected reports whether err is a classified, user-facing outcome
func IsExpected(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindInternal
}

// MessageOf returns the user-facing message for err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
