package sessions

import "time"

// ClientStatus is the per-client approval state. Transitions:
// pending -> approved, pending -> rejected. A rejected or pruned client may
// re-enter pending through a fresh Join.
type ClientStatus string

const (
	StatusPending  ClientStatus = "pending"
	StatusApproved ClientStatus = "approved"
	StatusRejected ClientStatus = "rejected"
)

// Decision is a host ruling on a pending join request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ClientInfo carries best-effort display metadata captured at join time so
// the host can render a meaningful approval prompt. None of it is trusted
// for anything beyond display, except Addr which feeds the trusted-origin
// shortcut.
type ClientInfo struct {
	Addr      string
	UserAgent string
}

// ClientState tracks one client within a session.
type ClientState struct {
	ClientID string
	Status   ClientStatus
	LastSeen time.Time
	JoinedAt time.Time
	Info     ClientInfo
}

// PendingRequest is a queued join awaiting a host decision, in FIFO order.
type PendingRequest struct {
	ClientID string
	JoinedAt time.Time
	Info     ClientInfo
}

// HeartbeatResult is returned by Session.Heartbeat. Pending is populated
// only when the caller is the session host.
type HeartbeatResult struct {
	Status  ClientStatus
	IsHost  bool
	Pending []PendingRequest
}
