// Package errs defines the failure taxonomy shared across the warchest
// service: every component classifies its failures with a Kind so callers
// can branch on category instead of string matching.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure at an API boundary.
type Kind int

const (
	// KindUnknown is the zero value; wrapping an unclassified error keeps it.
	KindUnknown Kind = iota
	// KindInvalidArgument marks malformed input: empty alias or pubkey,
	// a missing RPC method, an unsupported key source.
	KindInvalidArgument
	// KindNotFound marks a lookup miss: alias absent from the registry,
	// signature unknown to the RPC.
	KindNotFound
	// KindConflict marks contradictory state: alias bound to a different
	// pubkey than supplied.
	KindConflict
	// KindBusy marks a held single-flight lock with no wait configured.
	KindBusy
	// KindUnavailable marks an absent collaborator: no subscription
	// endpoint, unreachable price API.
	KindUnavailable
	// KindTimeout marks a missed deadline; carries code ETIMEDOUT.
	KindTimeout
	// KindIntegrity marks corrupted or inconsistent stored data: signer
	// mismatch, encrypted record missing cipher fields.
	KindIntegrity
	// KindFatal marks startup preconditions whose failure ends the process.
	KindFatal
)

// CodeTimedOut is attached to every Timeout error so the hub contract is
// observable by callers and in serialized results.
const CodeTimedOut = "ETIMEDOUT"

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusy:
		return "busy"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindIntegrity:
		return "integrity"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error carries a classified failure with the operation that produced it.
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil && e.Op == "":
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error. Op names the failing operation, and the
// final argument may be an error to wrap or a string message.
func E(kind Kind, op string, v interface{}) error {
	err := &Error{Kind: kind, Op: op}
	switch t := v.(type) {
	case error:
		err.Err = t
	case string:
		err.Err = errors.New(t)
	case nil:
	default:
		err.Err = fmt.Errorf("%v", t)
	}
	if kind == KindTimeout {
		err.Code = CodeTimedOut
	}
	return err
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return E(kind, op, fmt.Errorf(format, args...))
}

// KindOf walks the wrap chain and returns the first classified kind.
// Plain context deadline errors classify as Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Is reports whether err classifies as kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// CodeOf returns the machine code of the first classified error in the
// chain, or "" when none is set.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return e.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut
	}
	return ""
}
