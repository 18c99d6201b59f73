// Package srverr defines the error kinds used across sqlited and their
// mapping onto frontend-protocol SQLSTATE codes.
package srverr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error kinds from the wire error contract.
type Kind string

const (
	KindParseError          Kind = "ParseError"
	KindPermissionDenied    Kind = "PermissionDenied"
	KindReadOnlyViolation   Kind = "ReadOnlyViolation"
	KindBusy                Kind = "Busy"
	KindUniqueViolation     Kind = "UniqueViolation"
	KindIOError             Kind = "IOError"
	KindProtocolError       Kind = "ProtocolError"
	KindImplicitCommitError Kind = "ImplicitCommitError"
	KindNetworkError        Kind = "NetworkError"
	KindTimeout             Kind = "Timeout"
)

// sqlstate gives each kind its canonical SQLSTATE, following the frontend
// protocol's five-character convention.
var sqlstate = map[Kind]string{
	KindParseError:          "42000",
	KindPermissionDenied:    "42501",
	KindReadOnlyViolation:   "25006",
	KindBusy:                "40001",
	KindUniqueViolation:     "23505",
	KindIOError:             "58030",
	KindProtocolError:       "08P01",
	KindImplicitCommitError: "40002",
	KindNetworkError:        "08006",
	KindTimeout:             "57014",
}

// Error is a typed, stack-capturing server error. Cause chains are
// preserved via github.com/pkg/errors so errors.Is/errors.As keep working
// across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Pos     int // byte offset, meaningful for KindParseError; -1 otherwise
	cause   error
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at byte %d: %s", e.Kind, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// SQLSTATE returns the canonical SQLSTATE for this error's kind.
func (e *Error) SQLSTATE() string {
	if s, ok := sqlstate[e.Kind]; ok {
		return s
	}
	return "HY000"
}

// New builds a Kind-tagged error, capturing a stack trace via pkg/errors.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
		cause:   errors.New(fmt.Sprintf(format, args...)),
	}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
		cause:   errors.Wrap(cause, fmt.Sprintf(format, args...)),
	}
}

// ParseError builds a position-carrying KindParseError, per spec.md's
// ParseError{position, reason} contract.
func ParseErrorAt(pos int, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    KindParseError,
		Message: msg,
		Pos:     pos,
		cause:   errors.New(msg),
	}
}

// Is reports whether err (or any error in its chain) has the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
