// Package memguard is an in-memory ratelimit.Guard for single-process
// deployments. State is per-process; multi-node deployments should use
// redisguard so blocks apply fleet-wide.
package memguard

import (
	"context"
	"sync"
	"time"

	"github.com/netdrop/netdrop-go/ratelimit"
)

type access struct {
	at   time.Time
	code string
}

// Guard implements ratelimit.Guard with per-origin sliding windows.
type Guard struct {
	cfg ratelimit.Config
	now func() time.Time

	mu      sync.Mutex
	log     map[string][]access
	blocked map[string]time.Time // addr -> blocked until
}

var _ ratelimit.Guard = (*Guard)(nil)

// Option configures the guard.
type Option func(*Guard)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func New(cfg ratelimit.Config, opts ...Option) *Guard {
	g := &Guard{
		cfg:     cfg,
		now:     time.Now,
		log:     make(map[string][]access),
		blocked: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Allow(ctx context.Context, addr, code string) error {
	if addr == "" || code == "" {
		return nil
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.blocked[addr]; ok {
		if now.Before(until) {
			return ratelimit.ErrBlocked
		}
		delete(g.blocked, addr)
	}

	recent := g.log[addr][:0]
	for _, a := range g.log[addr] {
		if now.Sub(a.at) <= g.cfg.Window {
			recent = append(recent, a)
		}
	}
	recent = append(recent, access{at: now, code: code})
	g.log[addr] = recent

	distinct := make(map[string]struct{}, len(recent))
	for _, a := range recent {
		distinct[a.code] = struct{}{}
	}
	if len(distinct) >= g.cfg.Limit {
		g.blocked[addr] = now.Add(g.cfg.BlockDuration)
		delete(g.log, addr)
		return ratelimit.ErrBlocked
	}
	return nil
}

func (g *Guard) Close() error { return nil }
