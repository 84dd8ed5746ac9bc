package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netdrop/netdrop-go/artifacts"
)

// Session is the state machine for one code-addressed drop session: the
// clients that joined it, the FIFO of pending approvals, and the artifacts
// attached to it.
//
// A single mutex serializes every mutation of client and queue state, so
// within one session join/heartbeat/decide observe a total order. Artifact
// blob I/O never happens under that lock; only metadata registration does
// (inside the artifact store's own lock).
type Session struct {
	code      string
	createdAt time.Time

	clientTTL time.Duration
	trustTTL  time.Duration
	now       func() time.Time
	log       *slog.Logger

	mu      sync.Mutex
	hostID  string
	clients *clientRegistry
	pending *approvalQueue
	trusted map[string]time.Time // origin addr -> trusted until
	store   *artifacts.Store
}

// Code returns the session's immutable code.
func (s *Session) Code() string { return s.code }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Artifacts exposes the session's artifact collection.
func (s *Session) Artifacts() *artifacts.Store { return s.store }

// HostID returns the current host client id, or "" while the session has no
// live host.
func (s *Session) HostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostID
}

// Join registers a client. Idempotent: a client that already has a status
// gets it back without being re-queued. A brand-new client enters pending
// unless the session has no live host (the caller is then approved and
// recorded as host) or the caller's origin address was recently approved
// (trusted-origin shortcut). A previously rejected client re-enters pending
// and is re-queued.
func (s *Session) Join(ctx context.Context, clientID string, info ClientInfo) (ClientStatus, error) {
	if clientID == "" {
		return "", ErrInvalidRequest
	}

	s.mu.Lock()
	now := s.now()
	s.pruneLocked(now)

	clearArtifacts := false
	c, ok := s.clients.get(clientID)
	switch {
	case ok && c.Status == StatusRejected:
		// Re-join after rejection starts a fresh approval cycle.
		c.Status = StatusPending
		c.LastSeen = now
		c.Info = info
		s.pending.enqueue(clientID)
	case ok:
		c.LastSeen = now
		if s.hostID == "" {
			clearArtifacts = s.promoteLocked(c, now)
		}
	default:
		c = s.clients.add(clientID, StatusPending, info, now)
		switch {
		case s.hostID == "":
			clearArtifacts = s.promoteLocked(c, now)
		case s.trustedLocked(info.Addr, now):
			c.Status = StatusApproved
		default:
			s.pending.enqueue(clientID)
		}
	}
	status := c.Status
	s.mu.Unlock()

	if clearArtifacts {
		s.store.DeleteAll(ctx)
	}
	s.log.InfoContext(ctx, "session.join", slog.String("status", string(status)))
	return status, nil
}

// Heartbeat refreshes the caller's liveness and reports its status. The
// host additionally receives the pending queue contents, oldest first, so
// its UI can render approval prompts. A client this session has never seen
// (or that has aged out) gets ErrUnknownClient and is expected to re-join.
func (s *Session) Heartbeat(ctx context.Context, clientID string) (HeartbeatResult, error) {
	if clientID == "" {
		return HeartbeatResult{}, ErrInvalidRequest
	}

	s.mu.Lock()
	now := s.now()
	s.pruneLocked(now)

	c, ok := s.clients.get(clientID)
	if !ok {
		s.mu.Unlock()
		return HeartbeatResult{}, ErrUnknownClient
	}
	c.LastSeen = now

	clearArtifacts := false
	if s.hostID == "" {
		// The previous host aged out; the next live client to poll takes
		// over, whatever its approval state. A pending guest would
		// otherwise be stranded with nobody left to approve it.
		clearArtifacts = s.promoteLocked(c, now)
	}

	res := HeartbeatResult{Status: c.Status, IsHost: s.hostID == clientID}
	if res.IsHost {
		for _, id := range s.pending.snapshot() {
			if pc, ok := s.clients.get(id); ok {
				res.Pending = append(res.Pending, PendingRequest{
					ClientID: pc.ClientID,
					JoinedAt: pc.JoinedAt,
					Info:     pc.Info,
				})
			}
		}
	}
	s.mu.Unlock()

	if clearArtifacts {
		s.store.DeleteAll(ctx)
	}
	return res, nil
}

// Decide resolves one pending join request. Only the host may decide.
// The decision targets a specific client id rather than the queue head,
// since the host UI may act on a stale snapshot; the entry is dequeued from
// wherever it sits. Exactly one of two racing decisions for the same target
// wins; the loser gets ErrNoSuchPendingRequest.
func (s *Session) Decide(ctx context.Context, hostID, targetID string, decision Decision) (ClientStatus, error) {
	if hostID == "" || targetID == "" {
		return "", ErrInvalidRequest
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return "", ErrInvalidRequest
	}

	s.mu.Lock()
	now := s.now()
	s.pruneLocked(now)

	host, ok := s.clients.get(hostID)
	if !ok || s.hostID != hostID || host.Status != StatusApproved {
		s.mu.Unlock()
		return "", ErrUnauthorized
	}
	host.LastSeen = now

	target, ok := s.clients.get(targetID)
	if !ok || target.Status != StatusPending || !s.pending.remove(targetID) {
		s.mu.Unlock()
		return "", ErrNoSuchPendingRequest
	}

	if decision == DecisionApprove {
		target.Status = StatusApproved
		if target.Info.Addr != "" {
			s.trusted[target.Info.Addr] = now.Add(s.trustTTL)
		}
	} else {
		target.Status = StatusRejected
	}
	status := target.Status
	s.mu.Unlock()

	s.log.InfoContext(ctx, "session.decide",
		slog.String("target", targetID),
		slog.String("decision", string(decision)))
	return status, nil
}

// ListArtifacts returns the session's live artifacts for an approved
// client, refreshing its liveness. Unapproved and unknown callers get
// ErrForbidden.
func (s *Session) ListArtifacts(ctx context.Context, clientID string) ([]artifacts.ListEntry, error) {
	if err := s.Authorize(clientID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, s.now()), nil
}

// Authorize checks that clientID is currently approved and refreshes its
// liveness. Used by every artifact-facing operation.
func (s *Session) Authorize(clientID string) error {
	if clientID == "" {
		return ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)

	c, ok := s.clients.get(clientID)
	if !ok || c.Status != StatusApproved {
		return ErrForbidden
	}
	c.LastSeen = now
	return nil
}

// Status reports a client's current approval state without refreshing
// liveness. ok is false for clients the session has never seen or that have
// been pruned.
func (s *Session) Status(clientID string) (ClientStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients.get(clientID)
	if !ok {
		return "", false
	}
	return c.Status, true
}

// PendingContains reports whether clientID is queued (test and debugging
// aid; the invariant is pending iff queued).
func (s *Session) PendingContains(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.contains(clientID)
}

// Idle reports whether every client has been silent since the cutoff. An
// empty session is idle once its creation time passes the cutoff.
func (s *Session) Idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.clients.lastActivity()
	if last.IsZero() {
		last = s.createdAt
	}
	return last.Before(cutoff)
}

// promoteLocked makes c the session host. Returns true when the previous
// host's artifacts must be cleared (done by the caller outside the lock):
// a promotion hands the session to a new device, and the previous host's
// files must not leak to it.
func (s *Session) promoteLocked(c *ClientState, now time.Time) bool {
	firstHost := s.clients.len() == 1 && s.store.TotalBytes() == 0
	c.Status = StatusApproved
	s.pending.remove(c.ClientID)
	s.hostID = c.ClientID
	if c.Info.Addr != "" {
		s.trusted[c.Info.Addr] = now.Add(s.trustTTL)
	}
	return !firstHost
}

// trustedLocked reports whether addr was approved recently enough to skip
// the pending queue.
func (s *Session) trustedLocked(addr string, now time.Time) bool {
	if addr == "" {
		return false
	}
	until, ok := s.trusted[addr]
	return ok && until.After(now)
}

// pruneLocked drops clients unseen past the liveness window, their queue
// entries, expired trusted origins, and the host designation if the host
// itself aged out.
func (s *Session) pruneLocked(now time.Time) {
	for _, id := range s.clients.pruneStale(now.Add(-s.clientTTL)) {
		s.pending.remove(id)
		if id == s.hostID {
			s.hostID = ""
		}
		s.log.Debug("session.client.expired", slog.String("client_id", id))
	}
	for addr, until := range s.trusted {
		if until.Before(now) {
			delete(s.trusted, addr)
		}
	}
}
