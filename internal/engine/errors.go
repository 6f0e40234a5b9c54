package engine

import (
	"errors"
	"fmt"
)

// Kind is the engine's error taxonomy, used by the
// wire frontends to map to SQLSTATE / HTTP status without string-sniffing
// the error message.
type Kind int

const (
	KindInternal Kind = iota
	KindParseError
	KindTypeMismatch
	KindNotFound
	KindDenied
	KindConflict
	KindTimeout
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "ParseError"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindNotFound:
		return "NotFound"
	case KindDenied:
		return "Denied"
	case KindConflict:
		return "Conflict"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	default:
		return "Internal"
	}
}

// Error wraps an underlying cause with a Kind, so callers branch on shape
// instead of sniffing an error string.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
