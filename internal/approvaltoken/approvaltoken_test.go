package approvaltoken

import (
	"errors"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	iss, err := New([]byte("test-secret-test-secret-12345678"), 10*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tok, err := iss.Mint("abc12", "guest-client-001", time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	got, err := iss.Verify(tok, "abc12")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != "guest-client-001" {
		t.Fatalf("subject = %q", got)
	}
}

func TestVerifyRejectsWrongSession(t *testing.T) {
	iss, _ := New([]byte("test-secret-test-secret-12345678"), 10*time.Minute)
	tok, _ := iss.Mint("abc12", "guest-client-001", time.Now())

	if _, err := iss.Verify(tok, "zzz99"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-session verify err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	iss, _ := New([]byte("test-secret-test-secret-12345678"), time.Minute)
	tok, _ := iss.Mint("abc12", "guest-client-001", time.Now().Add(-time.Hour))

	if _, err := iss.Verify(tok, "abc12"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired verify err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := New(nil, time.Minute)
	b, _ := New(nil, time.Minute)
	tok, _ := a.Mint("abc12", "guest-client-001", time.Now())

	if _, err := b.Verify(tok, "abc12"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret verify err = %v, want ErrInvalidToken", err)
	}
}
