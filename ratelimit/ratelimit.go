// Package ratelimit guards the session-code namespace against enumeration.
// An origin address probing too many distinct codes inside a sliding window
// is blocked for a fixed duration.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrBlocked is returned for origins currently serving a block.
var ErrBlocked = errors.New("origin is blocked")

// Guard tracks per-origin session-code accesses. Implementations must be
// safe for concurrent use.
type Guard interface {
	// Allow records addr touching code and reports whether the request may
	// proceed. Crossing the distinct-code threshold blocks the origin and
	// returns ErrBlocked; subsequent calls keep returning ErrBlocked until
	// the block lapses.
	Allow(ctx context.Context, addr, code string) error

	Close() error
}

// Config for guard implementations. Defaults can be loaded via envdecode.
type Config struct {
	// Limit is the number of distinct codes one origin may touch within
	// Window. ENV: BRUTE_FORCE_LIMIT
	Limit int `env:"BRUTE_FORCE_LIMIT,default=10"`
	// Window is the sliding observation window. ENV: BRUTE_FORCE_WINDOW
	Window time.Duration `env:"BRUTE_FORCE_WINDOW,default=60s"`
	// BlockDuration is how long a tripped origin stays blocked.
	// ENV: BRUTE_FORCE_BLOCK_DURATION
	BlockDuration time.Duration `env:"BRUTE_FORCE_BLOCK_DURATION,default=1h"`
}
