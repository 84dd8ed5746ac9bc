package sessions

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/netdrop/netdrop-go/artifacts"
)

// Config bounds session and client lifetimes. Defaults can be loaded via
// envdecode.
type Config struct {
	// SessionTTL is the inactivity window after which a session is evicted.
	// ENV: SESSION_TTL
	SessionTTL time.Duration `env:"SESSION_TTL,default=10m"`
	// ClientTTL is the per-client liveness window; a client silent for
	// longer is pruned from its session. Sized to survive large uploads.
	// ENV: CLIENT_TTL
	ClientTTL time.Duration `env:"CLIENT_TTL,default=5m"`
	// TrustTTL is how long an approved origin address keeps skipping the
	// pending queue. ENV: TRUSTED_IP_TIMEOUT
	TrustTTL time.Duration `env:"TRUSTED_IP_TIMEOUT,default=24h"`
	// SweepInterval is the cadence of the background expiry/eviction tick.
	// ENV: SWEEP_INTERVAL
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=30s"`
}

// Manager is the process-wide registry of live sessions. It creates
// sessions on demand, evicts them after inactivity, and runs the periodic
// artifact expiry sweep. All state is in-memory; discarding the Manager
// discards every session (no cross-restart persistence).
type Manager struct {
	cfg   Config
	acfg  artifacts.Config
	blobs artifacts.BlobStore
	log   *slog.Logger
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the slog logger. If not provided, slog.Default is used.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds the registry and starts its background sweep.
func NewManager(blobs artifacts.BlobStore, cfg Config, acfg artifacts.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		acfg:     acfg,
		blobs:    blobs,
		log:      slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.ticker = time.NewTicker(interval)
	go m.sweepLoop()

	return m
}

// GetOrCreate returns the session for code, creating it on first reference.
func (m *Manager) GetOrCreate(code string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[code]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[code]; ok {
		return s
	}
	s = m.newSession(code)
	m.sessions[code] = s
	m.log.Info("session.create", slog.String("code", code))
	return s
}

// Get returns an existing session or ErrSessionNotFound.
func (m *Manager) Get(code string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

const codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewCode generates an unused 5-character alphanumeric session code.
// 62^5 keeps collisions with live sessions vanishingly rare; the loop
// retries anyway.
func (m *Manager) NewCode() string {
	buf := make([]byte, 5)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		for i, b := range buf {
			buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		code := string(buf)

		m.mu.RLock()
		_, exists := m.sessions[code]
		m.mu.RUnlock()
		if !exists {
			return code
		}
	}
}

// EvictInactive removes sessions whose every client has been silent past
// the session TTL, cascading artifact deletion. Returns the eviction count.
func (m *Manager) EvictInactive(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.cfg.SessionTTL)

	var evicted []*Session
	m.mu.Lock()
	for code, s := range m.sessions {
		if s.Idle(cutoff) {
			delete(m.sessions, code)
			evicted = append(evicted, s)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Artifacts().DeleteAll(ctx)
		m.log.Info("session.evict", slog.String("code", s.Code()))
	}
	return len(evicted)
}

// SweepExpired runs a lazy artifact expiry sweep over every live session.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		s.Artifacts().SweepExpired(ctx, now)
	}
}

// HandleBlobRemoval detaches artifact metadata after its bytes disappeared
// out-of-band. Wired to the fsblob watcher.
func (m *Manager) HandleBlobRemoval(code, key string) {
	m.mu.RLock()
	s, ok := m.sessions[code]
	m.mu.RUnlock()
	if ok {
		s.Artifacts().DropBlob(key)
	}
}

// Close stops the background sweep. Session state is simply discarded.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.ticker.Stop()
		close(m.done)
	})
}

func (m *Manager) sweepLoop() {
	for {
		select {
		case <-m.ticker.C:
			ctx := context.Background()
			now := m.now()
			m.SweepExpired(ctx, now)
			m.EvictInactive(ctx, now)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) newSession(code string) *Session {
	return &Session{
		code:      code,
		createdAt: m.now(),
		clientTTL: m.cfg.ClientTTL,
		trustTTL:  m.cfg.TrustTTL,
		now:       m.now,
		log:       m.log,
		clients:   newClientRegistry(),
		pending:   &approvalQueue{},
		trusted:   make(map[string]time.Time),
		store:     artifacts.NewStore(code, m.blobs, m.acfg),
	}
}
