// Package flerr provides the typed error kinds used throughout the control
// plane so that every layer — persistence, scheduler, RPC — can translate a
// failure into the same vocabulary without inspecting error strings.
package flerr

import "fmt"

// Kind enumerates the error categories a Flame operation can fail with.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	InvalidArgument
	InvalidState
	Conflict
	Storage
	Transport
	ShimRefused
	ShimTransport
	UserError
	Unavailable
	Cancelled
	Internal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidState:
		return "InvalidState"
	case Conflict:
		return "Conflict"
	case Storage:
		return "Storage"
	case Transport:
		return "Transport"
	case ShimRefused:
		return "ShimRefused"
	case ShimTransport:
		return "ShimTransport"
	case UserError:
		return "UserError"
	case Unavailable:
		return "Unavailable"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a typed error carrying a Kind plus an optional underlying cause.
// UserError kinds additionally carry the raw bytes a shim returned, per the
// task output boundary behaviour.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Payload []byte
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	fe, ok := err.(*Error)
	return ok && fe.Kind == kind
}

// KindOf extracts the Kind of err, or Internal if err is not a *Error.
func KindOf(err error) Kind {
	if fe, ok := err.(*Error); ok {
		return fe.Kind
	}
	return Internal
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, format, args...)
}

func InvalidStatef(format string, args ...any) *Error {
	return New(InvalidState, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, format, args...)
}

func Storagef(cause error, format string, args ...any) *Error {
	return Wrap(Storage, cause, format, args...)
}

func Transportf(cause error, format string, args ...any) *Error {
	return Wrap(Transport, cause, format, args...)
}

func Unavailablef(cause error, format string, args ...any) *Error {
	return Wrap(Unavailable, cause, format, args...)
}

func Internalf(cause error, format string, args ...any) *Error {
	return Wrap(Internal, cause, format, args...)
}

// WithPayload attaches raw shim output bytes to a UserError.
func WithPayload(payload []byte, format string, args ...any) *Error {
	return &Error{Kind: UserError, Message: fmt.Sprintf(format, args...), Payload: payload}
}
