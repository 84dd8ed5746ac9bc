package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/netdrop/netdrop-go/artifacts"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	m, _ := newTestManager(t)

	a := m.GetOrCreate("abc12")
	b := m.GetOrCreate("abc12")
	if a != b {
		t.Fatal("GetOrCreate returned distinct instances for one code")
	}
	if _, err := m.Get("zzz99"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get(unknown) err = %v, want ErrSessionNotFound", err)
	}
}

func TestNewCodeShape(t *testing.T) {
	m, _ := newTestManager(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := m.NewCode()
		if len(code) != 5 {
			t.Fatalf("code %q length = %d, want 5", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside alphabet", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 95 {
		t.Fatalf("only %d distinct codes out of 100; generator looks degenerate", len(seen))
	}
}

func TestEvictInactive(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)

	idle := m.GetOrCreate("idle1")
	join(t, idle, hostID, "192.168.0.2")
	if _, err := idle.Artifacts().Put(ctx, "doomed.txt", artifacts.KindText, strings.NewReader("x"), clock.Now()); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock.Advance(8 * time.Minute)
	busy := m.GetOrCreate("busy1")
	join(t, busy, guestID, "192.168.0.9")

	clock.Advance(4 * time.Minute) // idle1 now 12m silent, busy1 4m

	if n := m.EvictInactive(ctx, clock.Now()); n != 1 {
		t.Fatalf("evicted %d sessions, want 1", n)
	}
	if _, err := m.Get("idle1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("idle session survived eviction: %v", err)
	}
	if _, err := m.Get("busy1"); err != nil {
		t.Fatalf("active session evicted: %v", err)
	}
	// Eviction cascades artifact deletion.
	if idle.Artifacts().TotalBytes() != 0 {
		t.Fatal("evicted session kept artifact bytes")
	}
}

func TestEvictInactiveEmptySession(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)

	m.GetOrCreate("empty")
	clock.Advance(11 * time.Minute)
	if n := m.EvictInactive(ctx, clock.Now()); n != 1 {
		t.Fatalf("evicted %d, want 1 (empty session past TTL)", n)
	}
}

func TestSweepExpiredAcrossSessions(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)

	s := m.GetOrCreate("abc12")
	join(t, s, hostID, "192.168.0.2")
	if _, err := s.Artifacts().Put(ctx, "fleeting.txt", artifacts.KindText, strings.NewReader("gone soon"), clock.Now()); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock.Advance(6 * time.Minute) // past the 5m retention
	m.SweepExpired(ctx, clock.Now())

	if n := s.Artifacts().Count(clock.Now()); n != 0 {
		t.Fatalf("artifacts after sweep = %d, want 0", n)
	}
}

func TestHandleBlobRemoval(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)

	s := m.GetOrCreate("abc12")
	join(t, s, hostID, "192.168.0.2")
	a, err := s.Artifacts().Put(ctx, "poof.txt", artifacts.KindText, strings.NewReader("here"), clock.Now())
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	m.HandleBlobRemoval("abc12", a.BlobKey)
	if got := s.Artifacts().List(ctx, clock.Now()); len(got) != 0 {
		t.Fatalf("metadata survived out-of-band blob removal: %+v", got)
	}
}
