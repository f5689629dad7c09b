// Package errs defines the fixed vocabulary of error kinds that cross the
// Passcrow wire protocol. A server never leaks more than one of these kinds
// (plus an optional human string) to a caller; the underlying cause, if any,
// stays in the server's own logs.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the protocol's well-known error conditions. The
// string value is also the literal that appears in a response's "error"
// field, so it must never change once published.
type Kind string

// The fixed error kinds of the protocol (spec §7).
const (
	KindBadRequest          Kind = "Bad request"
	KindRequestTooLarge     Kind = "Request too large"
	KindUnsupportedVersion  Kind = "Unsupported version"
	KindUnsupportedKind     Kind = "Unsupported kind of Identity"
	KindInsufficientPayment Kind = "Insufficient payment"
	KindNotFound            Kind = "Not found"
	KindIncorrectCode       Kind = "Incorrect verification code"
	KindRateLimited         Kind = "Sorry, rate limited."
	KindInternalError       Kind = "Internal Error"
	KindInvalidThreshold    Kind = "Invalid threshold"
	KindDecryptError        Kind = "Decrypt error"
)

// Error wraps a Kind with an optional underlying cause. Only Kind (and, for
// a handful of kinds, a short descriptive suffix) is ever serialized back to
// a remote caller; the cause is for server-side logs.
type Error struct {
	kind   Kind
	detail string
	cause  error
}

// New creates an Error of the given kind with no further detail.
func New(kind Kind) *Error {
	return &Error{kind: kind}
}

// Newf creates an Error of the given kind with a caller-visible detail
// string appended (used sparingly -- most kinds are returned bare so they
// cannot become an information oracle).
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause. cause is retained for logging via Unwrap but
// is never included in Error().
func Wrap(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

func (e *Error) Error() string {
	if e.detail != "" {
		return string(e.kind) + ": " + e.detail
	}
	return string(e.kind)
}

// Kind returns the wire-level error kind, suitable for placing verbatim in a
// response's "error" field.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap exposes the underlying cause, if any, for errors.Is/As and for
// server-side logging. It is intentionally not part of Error().
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}
