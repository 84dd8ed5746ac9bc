package sessions

import "time"

// clientRegistry maps client ids to their per-session state. Not safe for
// concurrent use; the owning Session's lock serializes access.
type clientRegistry struct {
	clients map[string]*ClientState
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*ClientState)}
}

func (r *clientRegistry) get(id string) (*ClientState, bool) {
	c, ok := r.clients[id]
	return c, ok
}

func (r *clientRegistry) add(id string, status ClientStatus, info ClientInfo, now time.Time) *ClientState {
	c := &ClientState{
		ClientID: id,
		Status:   status,
		LastSeen: now,
		JoinedAt: now,
		Info:     info,
	}
	r.clients[id] = c
	return c
}

func (r *clientRegistry) len() int { return len(r.clients) }

// lastActivity returns the most recent LastSeen across all clients, or the
// zero time when the registry is empty.
func (r *clientRegistry) lastActivity() time.Time {
	var latest time.Time
	for _, c := range r.clients {
		if c.LastSeen.After(latest) {
			latest = c.LastSeen
		}
	}
	return latest
}

// pruneStale removes clients unseen since the cutoff and returns their ids.
func (r *clientRegistry) pruneStale(cutoff time.Time) []string {
	var removed []string
	for id, c := range r.clients {
		if c.LastSeen.Before(cutoff) {
			delete(r.clients, id)
			removed = append(removed, id)
		}
	}
	return removed
}
