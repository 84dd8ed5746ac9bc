// Package sessions implements the drop-session lifecycle: a code-addressed
// session links one host device to any number of guest devices and a set of
// expiring artifacts.
//
// Approval model
//
//	join      -> pending (queued FIFO for the host)
//	approve   -> approved (terminal for this cycle)
//	reject    -> rejected (terminal; a fresh join re-enters pending)
//
// The client that creates a session (first join to an unseen code) is
// recorded as its host and is the sole authority for approve/reject
// decisions. Clients age out of a session after a liveness window; when the
// host ages out, the next client to join or heartbeat is promoted and the
// previous host's artifacts are cleared.
//
// Manager is the process-wide registry. Its lifecycle is: constructed at
// process start, sessions created and evicted dynamically, torn down at
// shutdown by discarding state. Nothing survives a restart.
package sessions
