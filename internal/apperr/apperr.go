package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for reporting to clients.
type Kind string

const (
	Authentication Kind = "authentication"
	Authorization  Kind = "authorization"
	Validation     Kind = "validation"
	NotFound       Kind = "not_found"
	Conflict       Kind = "conflict"
	External       Kind = "external"
	Transient      Kind = "transient"
	Internal       Kind = "internal"
)

// Error is a classified error carrying a short human-readable message.
// Message is safe to show to the end user; Err is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err under kind with a user-facing message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Unauthenticated(msg string) *Error { return New(Authentication, msg) }
func Forbidden(msg string) *Error       { return New(Authorization, msg) }
func Invalid(msg string) *Error         { return New(Validation, msg) }
func Missing(msg string) *Error         { return New(NotFound, msg) }
func Duplicate(msg string) *Error       { return New(Conflict, msg) }

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the user-facing message of err. Unclassified errors get a
// generic message so internals are not leaked to clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
