// Package fs holds the core data model of the VFS broker: mount
// identifiers, file attribute bags and the unified error taxonomy
// shared by every job, backend and transport in the daemon.
package fs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error into one of the broker's fixed error
// domains. Callers switch on Kind, never on message text.
type Kind int

// The error kinds recognised by every job reply.
const (
	KindNone Kind = iota
	KindCancelled
	KindTimedOut
	KindPermissionDenied
	KindNotSupported
	KindInvalidArgument
	KindIO
	KindNotFound
	KindExists
	KindIsDirectory
	KindNotDirectory
	KindNoSpace
	KindMalformed
	KindFailed
)

var kindNames = map[Kind]string{
	KindNone:             "NONE",
	KindCancelled:        "CANCELLED",
	KindTimedOut:         "TIMED_OUT",
	KindPermissionDenied: "PERMISSION_DENIED",
	KindNotSupported:     "NOT_SUPPORTED",
	KindInvalidArgument:  "INVALID_ARGUMENT",
	KindIO:               "IO",
	KindNotFound:         "NOT_FOUND",
	KindExists:           "EXISTS",
	KindIsDirectory:      "IS_DIRECTORY",
	KindNotDirectory:     "NOT_DIRECTORY",
	KindNoSpace:          "NO_SPACE",
	KindMalformed:        "MALFORMED",
	KindFailed:           "FAILED",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the broker's unified error type: a domain (Kind), a
// human-readable message, and an optional wrapped cause. It
// implements the standard errors.Is/As/Unwrap protocol via Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an *Error of the given kind, wrapping cause with a
// stack trace via github.com/pkg/errors when cause is non-nil so that
// FAILED-kind errors retain a diagnosable trace.
func New(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message}
	if cause != nil {
		e.Cause = errors.WithStack(cause)
	}
	return e
}

// Errorf is like New but formats Message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, fs.Cancelled) style checks work without exposing
// message text.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.Message == "" && other.Cause == nil {
		return e.Kind == other.Kind
	}
	return e.Kind == other.Kind && e.Message == other.Message
}

// Sentinel zero-message errors for errors.Is comparisons against Kind
// alone, e.g. errors.Is(err, fs.Cancelled).
var (
	Cancelled        = &Error{Kind: KindCancelled}
	TimedOut         = &Error{Kind: KindTimedOut}
	PermissionDenied = &Error{Kind: KindPermissionDenied}
	NotSupported     = &Error{Kind: KindNotSupported}
	InvalidArgument  = &Error{Kind: KindInvalidArgument}
	IOError          = &Error{Kind: KindIO}
	NotFound         = &Error{Kind: KindNotFound}
	Exists           = &Error{Kind: KindExists}
	IsDirectory      = &Error{Kind: KindIsDirectory}
	NotDirectory     = &Error{Kind: KindNotDirectory}
	NoSpace          = &Error{Kind: KindNoSpace}
	Malformed        = &Error{Kind: KindMalformed}
	Failed           = &Error{Kind: KindFailed}
)

// KindOf returns the Kind of err if it is (or wraps) a broker *Error,
// else KindFailed for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFailed
}
