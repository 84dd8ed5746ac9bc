package sessions

import "errors"

var (
	// ErrInvalidRequest indicates a syntactically unusable input such as a
	// missing or malformed client id.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownClient is returned when a client heartbeats a session it has
	// never joined, or after its registration aged out. The client is
	// expected to re-join.
	ErrUnknownClient = errors.New("unknown client")

	// ErrUnauthorized is returned when a caller attempts a host-only
	// operation without being the approved host.
	ErrUnauthorized = errors.New("client is not the session host")

	// ErrNoSuchPendingRequest is returned by Decide when the target is not
	// waiting for a decision. A second decision on the same target gets this.
	ErrNoSuchPendingRequest = errors.New("no such pending request")

	// ErrForbidden is returned when a known but unapproved client attempts
	// an operation reserved for approved clients.
	ErrForbidden = errors.New("client is not approved")

	// ErrSessionNotFound is returned by Manager.Get for codes with no live
	// session.
	ErrSessionNotFound = errors.New("session not found")
)

// ErrorCode maps a sessions error to the stable wire identifier used by the
// sync protocol. Unknown errors map to "internal_error".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnknownClient):
		return "unknown_client"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNoSuchPendingRequest):
		return "no_such_pending_request"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
