package fsblob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netdrop/netdrop-go/artifacts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteOpenRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Write(ctx, "abc12", "k1__hello.txt", strings.NewReader("hello"), 1024)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}

	rc, err := s.Open(ctx, "abc12", "k1__hello.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "hello" {
		t.Fatalf("content = %q", b)
	}

	if err := s.Remove(ctx, "abc12", "k1__hello.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, "abc12", "k1__hello.txt"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := s.Open(ctx, "abc12", "k1__hello.txt"); !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("open after remove err = %v", err)
	}
}

func TestWriteEnforcesLimitWithoutLeavingPartials(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Write(ctx, "abc12", "k1__big.bin", strings.NewReader(strings.Repeat("x", 100)), 10)
	if !errors.Is(err, artifacts.ErrBlobTooLarge) {
		t.Fatalf("err = %v, want ErrBlobTooLarge", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "abc12"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover files: %v", entries)
	}
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"a__1.txt", "b__2.txt"} {
		if _, err := s.Write(ctx, "abc12", key, strings.NewReader("x"), 0); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := s.RemoveAll(ctx, "abc12"); err != nil {
		t.Fatalf("removeall: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "abc12")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session dir survived: %v", err)
	}
}

func TestWatchReportsOutOfBandRemovals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)

	if _, err := s.Write(ctx, "abc12", "k1__doomed.txt", strings.NewReader("x"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}

	var mu sync.Mutex
	removed := make(map[string]string)
	go func() {
		_ = s.Watch(ctx, func(code, key string) {
			mu.Lock()
			removed[key] = code
			mu.Unlock()
		})
	}()

	// Give the watcher a moment to register the existing session dir.
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(filepath.Join(s.root, "abc12", "k1__doomed.txt")); err != nil {
		t.Fatalf("out-of-band remove: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		code, ok := removed["k1__doomed.txt"]
		mu.Unlock()
		if ok {
			if code != "abc12" {
				t.Fatalf("code = %q, want abc12", code)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("watcher never reported the removal")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
