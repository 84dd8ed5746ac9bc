// Package approvaltoken mints and verifies per-device approval tokens.
// After the host approves a device, the transport hands it a short-lived
// HMAC-signed token bound to (session code, client id); download links can
// then carry the token instead of relying on the in-memory approval state,
// which keeps them usable from contexts that cannot send the client id
// (e.g. a share-sheet handoff to another app).
package approvaltoken

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature, wrong
// session, expiry, malformed input.
var ErrInvalidToken = errors.New("invalid approval token")

const issuer = "netdrop"

type claims struct {
	jwt.RegisteredClaims
	Code string `json:"code"`
}

// Issuer mints and verifies tokens with a process-local HMAC secret.
// Tokens do not survive a restart, matching the rest of the session state.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
}

// New builds an Issuer. An empty secret generates a random per-process one.
func New(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Issuer{secret: secret, ttl: ttl, leeway: 30 * time.Second}, nil
}

// Mint issues a token for clientID's approval in the session.
func (i *Issuer) Mint(code, clientID string, now time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Code: code,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign approval token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, lifetime, and session binding, and
// returns the client id it vouches for.
func (i *Issuer) Verify(token, code string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithLeeway(i.leeway))
	if err != nil {
		return "", ErrInvalidToken
	}
	if c.Code != code || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
