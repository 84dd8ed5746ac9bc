// Package fsblob is a filesystem artifacts.BlobStore. Each session owns a
// directory under the storage root and each blob is one file inside it.
// A fsnotify watcher can be attached so files removed out-of-band (an
// operator tidying the storage root) propagate back into session metadata.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/netdrop/netdrop-go/artifacts"
)

// Config for the filesystem blob store.
type Config struct {
	// Root is the storage directory. ENV: UPLOAD_DIR
	Root string `env:"UPLOAD_DIR,default=files"`
}

// Store implements artifacts.BlobStore on the local filesystem.
type Store struct {
	root string
	log  *slog.Logger
}

var _ artifacts.BlobStore = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates the storage root if needed and returns the store.
func New(cfg Config, opts ...Option) (*Store, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	s := &Store{root: root, log: slog.New(discardHandler{})}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) path(code, key string) string {
	return filepath.Join(s.root, code, key)
}

func (s *Store) Write(ctx context.Context, code, key string, r io.Reader, limit int64) (int64, error) {
	dir := filepath.Join(s.root, code)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create session dir: %w", err)
	}

	// Write to a dot-prefixed temp name so the fsnotify watcher and any
	// directory listing never observe a partial blob.
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	var n int64
	if limit > 0 {
		n, err = io.Copy(tmp, io.LimitReader(r, limit+1))
	} else {
		n, err = io.Copy(tmp, r)
	}
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = artifacts.ErrBlobTooLarge
	}
	if err != nil {
		_ = os.Remove(tmpName)
		if errors.Is(err, artifacts.ErrBlobTooLarge) {
			return 0, artifacts.ErrBlobTooLarge
		}
		return 0, fmt.Errorf("write blob: %w", err)
	}

	if err := os.Rename(tmpName, s.path(code, key)); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("finalize blob: %w", err)
	}
	return n, nil
}

func (s *Store) Open(ctx context.Context, code, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(code, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, artifacts.ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *Store) Remove(ctx context.Context, code, key string) error {
	if err := os.Remove(s.path(code, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (s *Store) RemoveAll(ctx context.Context, code string) error {
	if err := os.RemoveAll(filepath.Join(s.root, code)); err != nil {
		return fmt.Errorf("remove session blobs: %w", err)
	}
	return nil
}

// Watch blocks until ctx is done, invoking fn(code, key) whenever a blob
// file disappears from the storage root without going through Remove. New
// session directories are added to the watch as they appear.
func (s *Store) Watch(ctx context.Context, fn func(code, key string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.root); err != nil {
		return fmt.Errorf("watch storage root: %w", err)
	}
	// Pick up session dirs that already exist.
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("scan storage root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(s.root, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(s.root, ev.Name)
			if err != nil {
				continue
			}
			code, key := filepath.Split(rel)
			code = filepath.Clean(code)

			switch {
			case ev.Has(fsnotify.Create):
				if code == "." {
					// New session directory at the root.
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = w.Add(ev.Name)
					}
				}
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				if code == "." || key == "" || key[0] == '.' {
					continue
				}
				s.log.Debug("blob.removed_externally", slog.String("code", code), slog.String("key", key))
				fn(code, key)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("blob.watch.error", slog.String("err", err.Error()))
		}
	}
}

// discardHandler drops all records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
