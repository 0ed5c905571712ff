// Package errors defines the error taxonomy shared by the core services.
// Every failure that reaches the routing layer carries a Kind; the routing
// layer is the only place kinds become HTTP status codes.
package errors

import (
	"errors"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindReauthRequired
	KindUpstream
)

// String returns the stable wire code for k.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindReauthRequired:
		return "reauth_required"
	case KindUpstream:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// Error is a classified failure with a user-facing message and an optional
// underlying cause kept for diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUpstreamUnauthorized is raised by the upstream adapter when the
// upstream rejects the access token. Only the credential retry policy
// reacts to it.
var ErrUpstreamUnauthorized = &Error{Kind: KindUnauthorized, Message: "upstream rejected the access token"}

// Local authentication failures.
var (
	ErrMissingSession = &Error{Kind: KindUnauthorized, Message: "missing session"}
	ErrInvalidSession = &Error{Kind: KindUnauthorized, Message: "invalid or expired session"}
)

// Validation reports malformed or missing caller input.
func Validation(msg string) error { return &Error{Kind: KindValidation, Message: msg} }

// NotFound reports an entity that is absent or outside the user's root.
func NotFound(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }

// Unauthorized reports a missing or invalid local session.
func Unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Message: msg} }

// ReauthRequired reports that upstream trust was lost and the user must
// log in again.
func ReauthRequired(msg string) error { return &Error{Kind: KindReauthRequired, Message: msg} }

// Upstream wraps err as an upstream failure. err may be nil.
func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

// Internal wraps err as an internal failure.
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// Message returns the user-facing message of the first *Error in err's
// chain. Unclassified errors get a generic message so internals do not leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return "internal error"
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
