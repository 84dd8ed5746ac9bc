// Package audit writes one JSON record per session-affecting action
// (join, approve, upload, download, delete) to an append-only log.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger emits structured audit records. The zero-value methods on a nil
// Logger are no-ops so callers can leave auditing unconfigured.
type Logger struct {
	log *slog.Logger
	f   *os.File
}

// Config for the audit log. Defaults can be loaded via envdecode.
type Config struct {
	// Dir is where audit.log is written; empty disables auditing.
	// ENV: AUDIT_DIR
	Dir string `env:"AUDIT_DIR"`
}

// New opens (or creates) dir/audit.log for appending.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.Dir, "audit.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{
		log: slog.New(slog.NewJSONHandler(f, nil)),
		f:   f,
	}, nil
}

// Record writes one audit entry. details may be nil.
func (l *Logger) Record(ctx context.Context, action, code, clientID, addr string, details ...slog.Attr) {
	if l == nil {
		return
	}
	attrs := append([]slog.Attr{
		slog.String("code", code),
		slog.String("client_id", clientID),
		slog.String("ip", addr),
	}, details...)
	l.log.LogAttrs(ctx, slog.LevelInfo, action, attrs...)
}

func (l *Logger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}

// HashingReader tees a SHA-256 over everything read through it, so uploads
// can be hashed for the audit trail while streaming to storage.
type HashingReader struct {
	r io.Reader
	h hash.Hash
}

func NewHashingReader(r io.Reader) *HashingReader {
	h := sha256.New()
	return &HashingReader{r: io.TeeReader(r, h), h: h}
}

func (hr *HashingReader) Read(p []byte) (int, error) { return hr.r.Read(p) }

// Sum returns the hex digest of the bytes read so far.
func (hr *HashingReader) Sum() string { return hex.EncodeToString(hr.h.Sum(nil)) }
