// Package vpnerr defines the error kinds surfaced by session operations.
// Every public operation returns one of these kinds so callers can branch
// on the failure class (prompt for elevation, retry, re-authenticate)
// without parsing message text.
package vpnerr

import (
	"errors"
	"fmt"
)

// Kind classifies a session failure.
type Kind int

const (
	// KindUnknown is the zero value; errors produced by this package
	// never carry it.
	KindUnknown Kind = iota

	// KindInvalidConfig reports malformed or missing settings.
	KindInvalidConfig

	// KindInvalidParameter reports bad call arguments, such as an
	// out-of-range port or authenticating before connecting.
	KindInvalidParameter

	// KindConnectionFailed reports a handshake or hostname policy failure.
	KindConnectionFailed

	// KindAuthFailed reports credential rejection.
	KindAuthFailed

	// KindTimeout reports an operation that exceeded its deadline.
	KindTimeout

	// KindTunnelFailed reports device or routing setup failure.
	KindTunnelFailed

	// KindPermissionDenied is a distinguishable cause of tunnel failure:
	// the OS refused a privileged call. Callers can prompt for elevation
	// instead of retrying.
	KindPermissionDenied
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidConfig:
		return "invalid_config"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindConnectionFailed:
		return "connection_failed"
	case KindAuthFailed:
		return "auth_failed"
	case KindTimeout:
		return "timeout"
	case KindTunnelFailed:
		return "tunnel_failed"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind, so sentinel comparison
// with errors.Is works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. Returns nil when err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind of a classified error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
