package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config bounds a session's artifact collection. The zero value applies no
// caps and a zero retention, so callers are expected to populate it.
type Config struct {
	// Retention is the fixed lifetime of every artifact. ENV: FILE_TIMEOUT
	Retention time.Duration `env:"FILE_TIMEOUT,default=300s"`
	// MaxFileBytes caps a single artifact. ENV: MAX_FILE_SIZE
	MaxFileBytes int64 `env:"MAX_FILE_SIZE,default=31457280"`
	// MaxSessionBytes caps the sum of live artifact sizes. ENV: MAX_STORAGE_SIZE
	MaxSessionBytes int64 `env:"MAX_STORAGE_SIZE,default=104857600"`
	// MaxFiles caps the number of live artifacts. ENV: MAX_FILES
	MaxFiles int `env:"MAX_FILES,default=30"`
}

// Store holds one session's artifact metadata. All methods are safe for
// concurrent use. Blob I/O happens outside the metadata lock; only
// registration is serialized.
type Store struct {
	code  string
	blobs BlobStore
	cfg   Config

	mu    sync.Mutex
	items []*Artifact // append order == CreatedAt ascending
	total int64
}

// NewStore creates the artifact collection for one session.
func NewStore(code string, blobs BlobStore, cfg Config) *Store {
	return &Store{code: code, blobs: blobs, cfg: cfg}
}

// Put stores a new artifact. A name collision with a live artifact creates
// a second instance rather than overwriting; both stay visible until each
// expires or is deleted.
func (s *Store) Put(ctx context.Context, name string, kind Kind, content io.Reader, now time.Time) (Artifact, error) {
	if name == "" {
		return Artifact{}, ErrInvalidName
	}

	s.mu.Lock()
	expired := s.sweepLocked(now)
	over := s.cfg.MaxFiles > 0 && len(s.items) >= s.cfg.MaxFiles
	s.mu.Unlock()
	s.removeBlobs(ctx, expired)
	if over {
		return Artifact{}, ErrTooManyFiles
	}

	id := uuid.NewString()
	key := id + "__" + name

	// Stream bytes before taking the lock; the size is not known until the
	// reader is drained.
	limit := s.cfg.MaxFileBytes
	n, err := s.blobs.Write(ctx, s.code, key, content, limit)
	if err != nil {
		if errors.Is(err, ErrBlobTooLarge) {
			return Artifact{}, ErrFileTooLarge
		}
		return Artifact{}, fmt.Errorf("write blob: %w", err)
	}

	a := &Artifact{
		ID:        id,
		Name:      name,
		Kind:      kind,
		SizeBytes: n,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Retention),
		BlobKey:   key,
	}

	s.mu.Lock()
	if s.cfg.MaxSessionBytes > 0 && s.total+n > s.cfg.MaxSessionBytes {
		s.mu.Unlock()
		_ = s.blobs.Remove(ctx, s.code, key)
		return Artifact{}, ErrStorageFull
	}
	// Re-check the count cap under the registration lock; the earlier check
	// ran in its own critical section and concurrent Puts may have filled
	// the remaining slots while this one was streaming.
	if s.cfg.MaxFiles > 0 && len(s.items) >= s.cfg.MaxFiles {
		s.mu.Unlock()
		_ = s.blobs.Remove(ctx, s.code, key)
		return Artifact{}, ErrTooManyFiles
	}
	s.items = append(s.items, a)
	s.total += n
	s.mu.Unlock()

	return *a, nil
}

// List returns the live artifacts ordered by creation time ascending, each
// annotated with the remaining lifetime. Expired records are swept as a
// side effect.
func (s *Store) List(ctx context.Context, now time.Time) []ListEntry {
	s.mu.Lock()
	expired := s.sweepLocked(now)
	out := make([]ListEntry, 0, len(s.items))
	for _, a := range s.items {
		if !a.ExpiresAt.After(now) {
			continue
		}
		out = append(out, ListEntry{Artifact: *a, Remaining: a.ExpiresAt.Sub(now)})
	}
	s.mu.Unlock()
	s.removeBlobs(ctx, expired)

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Open returns the newest live artifact with the given name together with a
// reader over its bytes. Callers own the reader and must close it.
func (s *Store) Open(ctx context.Context, name string, now time.Time) (Artifact, io.ReadCloser, error) {
	s.mu.Lock()
	var found *Artifact
	for _, a := range s.items {
		if a.Name == name && a.ExpiresAt.After(now) {
			if found == nil || a.CreatedAt.After(found.CreatedAt) {
				found = a
			}
		}
	}
	if found == nil {
		s.mu.Unlock()
		return Artifact{}, nil, ErrNotFound
	}
	a := *found
	s.mu.Unlock()

	rc, err := s.blobs.Open(ctx, s.code, a.BlobKey)
	if err != nil {
		// Raced with a sweep or an out-of-band removal.
		return Artifact{}, nil, ErrNotFound
	}
	return a, rc, nil
}

// Delete removes one artifact by id. Deleting an id that no longer exists
// is a no-op so callers can race freely with the expiry sweep.
func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	var key string
	for i, a := range s.items {
		if a.ID == id {
			key = a.BlobKey
			s.total -= a.SizeBytes
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if key != "" {
		_ = s.blobs.Remove(ctx, s.code, key)
	}
}

// DeleteAll removes every artifact and its bytes.
func (s *Store) DeleteAll(ctx context.Context) {
	s.mu.Lock()
	s.items = nil
	s.total = 0
	s.mu.Unlock()

	_ = s.blobs.RemoveAll(ctx, s.code)
}

// SweepExpired purges artifacts whose expiry has passed. Safe to call
// concurrently and repeatedly; invoked lazily by List and Put and by the
// manager's background tick.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) {
	s.mu.Lock()
	keys := s.sweepLocked(now)
	s.mu.Unlock()
	s.removeBlobs(ctx, keys)
}

// sweepLocked drops expired metadata and returns the blob keys whose bytes
// still need removal. Blob I/O happens after the lock is released; the keys
// are already unlinked so double-removal is harmless.
func (s *Store) sweepLocked(now time.Time) []string {
	var keys []string
	live := s.items[:0]
	for _, a := range s.items {
		if a.ExpiresAt.After(now) {
			live = append(live, a)
			continue
		}
		s.total -= a.SizeBytes
		keys = append(keys, a.BlobKey)
	}
	s.items = live
	return keys
}

func (s *Store) removeBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		_ = s.blobs.Remove(ctx, s.code, key)
	}
}

// DropBlob detaches the artifact whose bytes disappeared out-of-band (e.g.
// an operator deleted the file from the storage root). Metadata only; the
// blob is already gone.
func (s *Store) DropBlob(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.items {
		if a.BlobKey == key {
			s.total -= a.SizeBytes
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// TotalBytes reports the sum of live artifact sizes.
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Count reports the number of live (possibly not yet swept) artifacts.
func (s *Store) Count(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.items {
		if a.ExpiresAt.After(now) {
			n++
		}
	}
	return n
}
