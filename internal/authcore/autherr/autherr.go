// Package autherr defines the error taxonomy shared across the auth core.
//
// Hot-path operations never panic for expected conditions; they return
// explicit sum-type results, and when an error is warranted it carries a
// Kind so callers can branch with errors.As instead of string matching.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can map it onto a transport status
// (4xx, 401, 429, ...) without parsing messages.
type Kind int

const (
	// Unknown is the zero value; never returned intentionally.
	Unknown Kind = iota

	// ValidationFailure marks bad caller input: blank state, short bootstrap
	// key, non-256-bit encryption key, malformed serialized record.
	ValidationFailure

	// AuthInvalid marks a rejected token, PKCE challenge, or API key.
	AuthInvalid

	// AuthLocked marks a caller currently rate-limited / locked out.
	AuthLocked

	// JwksFetchError marks a remote JWKS failure (network, HTTP status, parse).
	JwksFetchError

	// NotFound marks a required entity that does not exist.
	NotFound

	// StateViolation marks an invariant breach: no active signing key,
	// rotation disabled but asked to rotate, forbidden noop mode in production.
	StateViolation

	// Transient marks a backing-store fault the core does not retry itself.
	Transient
)

func (k Kind) String() string {
	switch k {
	case ValidationFailure:
		return "validation_failure"
	case AuthInvalid:
		return "auth_invalid"
	case AuthLocked:
		return "auth_locked"
	case JwksFetchError:
		return "jwks_fetch_error"
	case NotFound:
		return "not_found"
	case StateViolation:
		return "state_violation"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by the auth core. It wraps an
// optional underlying cause so %w-chains and errors.Is/As keep working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, autherr.Sentinel(autherr.AuthInvalid)) style checks
// against a bare Kind by comparing e.Kind to the target *Error's Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of reports whether err carries the given Kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel returns a comparable *Error usable with errors.Is for a bare Kind,
// e.g. errors.Is(err, autherr.Sentinel(autherr.NotFound)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind, Message: kind.String()}
}
