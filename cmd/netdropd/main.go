// netdropd serves the local-network file drop: short-code sessions,
// device approval, and expiring artifact exchange over the polling
// sync protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/netdrop/netdrop-go/artifacts"
	"github.com/netdrop/netdrop-go/artifacts/fsblob"
	"github.com/netdrop/netdrop-go/internal/approvaltoken"
	"github.com/netdrop/netdrop-go/internal/audit"
	"github.com/netdrop/netdrop-go/internal/logctx"
	"github.com/netdrop/netdrop-go/ratelimit"
	"github.com/netdrop/netdrop-go/ratelimit/memguard"
	"github.com/netdrop/netdrop-go/ratelimit/redisguard"
	"github.com/netdrop/netdrop-go/sessions"
	"github.com/netdrop/netdrop-go/synchttp"
)

type config struct {
	Addr     string `env:"LISTEN_ADDR,default=127.0.0.1:8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// RedisAddr switches the brute-force guard to the Redis backend;
	// empty keeps the in-process guard.
	RedisAddr string `env:"REDIS_ADDR"`

	TokenSecret string        `env:"APPROVAL_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"APPROVAL_TOKEN_TTL,default=10m"`

	Sessions  sessions.Config
	Artifacts artifacts.Config
	Blob      fsblob.Config
	HTTP      synchttp.Config
	Guard     ratelimit.Config
	Audit     audit.Config
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	})

	blobs, err := fsblob.New(cfg.Blob, fsblob.WithLogger(log))
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	mgr := sessions.NewManager(blobs, cfg.Sessions, cfg.Artifacts, sessions.WithLogger(log))
	defer mgr.Close()

	// Out-of-band deletions under the upload root drop the matching
	// artifact records so listings stay truthful.
	go func() {
		if err := blobs.Watch(ctx, mgr.HandleBlobRemoval); err != nil && ctx.Err() == nil {
			log.Error("blob.watch.fail", slog.String("err", err.Error()))
		}
	}()

	var guard ratelimit.Guard
	if cfg.RedisAddr != "" {
		guard, err = redisguard.NewFromEnv()
		if err != nil {
			return fmt.Errorf("redis guard: %w", err)
		}
		log.Info("guard.redis", slog.String("addr", cfg.RedisAddr))
	} else {
		guard = memguard.New(cfg.Guard)
	}
	defer func() { _ = guard.Close() }()

	auditLog, err := audit.New(cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	if auditLog != nil {
		defer func() { _ = auditLog.Close() }()
	}

	var secret []byte
	if cfg.TokenSecret != "" {
		secret = []byte(cfg.TokenSecret)
	}
	issuer, err := approvaltoken.New(secret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	h, err := synchttp.New(mgr, cfg.HTTP,
		synchttp.WithLogger(log),
		synchttp.WithGuard(guard),
		synchttp.WithAudit(auditLog),
		synchttp.WithTokenIssuer(issuer),
	)
	if err != nil {
		return fmt.Errorf("handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start",
			slog.String("addr", cfg.Addr),
			slog.String("upload_dir", cfg.Blob.Root),
			slog.String("proxies", strings.Join(cfg.HTTP.TrustedProxies, ",")))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
