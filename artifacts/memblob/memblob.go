// Package memblob is an in-memory artifacts.BlobStore suitable for tests
// and single-process development. All bytes are discarded on process exit.
package memblob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/netdrop/netdrop-go/artifacts"
)

// Store implements artifacts.BlobStore backed by nested maps.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]byte // code -> key -> bytes
}

var _ artifacts.BlobStore = (*Store)(nil)

func New() *Store {
	return &Store{blobs: make(map[string]map[string][]byte)}
}

func (s *Store) Write(ctx context.Context, code, key string, r io.Reader, limit int64) (int64, error) {
	var buf bytes.Buffer
	if limit > 0 {
		n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
		if err != nil {
			return 0, err
		}
		if n > limit {
			return 0, artifacts.ErrBlobTooLarge
		}
	} else {
		if _, err := io.Copy(&buf, r); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs[code] == nil {
		s.blobs[code] = make(map[string][]byte)
	}
	s.blobs[code][key] = buf.Bytes()
	return int64(buf.Len()), nil
}

func (s *Store) Open(ctx context.Context, code, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.blobs[code][key]
	s.mu.RUnlock()
	if !ok {
		return nil, artifacts.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *Store) Remove(ctx context.Context, code, key string) error {
	s.mu.Lock()
	delete(s.blobs[code], key)
	s.mu.Unlock()
	return nil
}

func (s *Store) RemoveAll(ctx context.Context, code string) error {
	s.mu.Lock()
	delete(s.blobs, code)
	s.mu.Unlock()
	return nil
}

// Len reports the number of blobs stored for a session (useful for tests).
func (s *Store) Len(code string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs[code])
}
