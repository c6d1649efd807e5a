// Package csrf issues and verifies per-session anti-forgery tokens.
//
// A session has at most one current token. Issuing a new one replaces the
// previous token atomically; verifying never rotates it.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/kv"
)

const (
	DefaultTTL = time.Hour
	tokenBytes = 32

	HeaderName = "X-CSRF-Token"
	FieldName  = "csrf_token"
)

// Token is the value handed to the client. Only its hash is stored.
type Token struct {
	Value     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type record struct {
	Hash      string `json:"h"`
	ExpiresAt int64  `json:"exp"` // unix nanoseconds
}

type Guard struct {
	store   kv.Store
	clock   clock.Clock
	ttl     time.Duration
	timeout time.Duration
}

func New(store kv.Store, c clock.Clock, ttl, timeout time.Duration) *Guard {
	if c == nil {
		c = clock.System{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, clock: c, ttl: ttl, timeout: timeout}
}

func (g *Guard) TTL() time.Duration { return g.ttl }

func key(sessionID string) string { return "csrf:" + sessionID }

func hash(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return ctx, func() {}
}

// Issue generates a fresh token and makes it the session's current one.
func (g *Guard) Issue(ctx context.Context, sessionID string) (Token, error) {
	if sessionID == "" {
		return Token{}, apperr.AuthenticationRequired()
	}
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Token{}, apperr.Internal(err, "generate csrf token")
	}
	tok := Token{
		Value:     hex.EncodeToString(buf),
		ExpiresAt: g.clock.Now().Add(g.ttl),
	}
	raw, err := json.Marshal(record{Hash: hash(tok.Value), ExpiresAt: tok.ExpiresAt.UnixNano()})
	if err != nil {
		return Token{}, apperr.Internal(err, "encode csrf record")
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := kv.Put(ctx, g.store, key(sessionID), raw, g.ttl); err != nil {
		return Token{}, apperr.Unavailable(err, "csrf store")
	}
	return tok, nil
}

var (
	errMissing  = errors.New("no token for session")
	errMismatch = errors.New("token mismatch")
	errExpired  = errors.New("token expired")
)

// Verify checks supplied against the session's current token.
func (g *Guard) Verify(ctx context.Context, sessionID, supplied string) error {
	if sessionID == "" || supplied == "" {
		return apperr.InvalidCsrf("missing csrf token")
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	raw, found, err := g.store.Get(ctx, key(sessionID))
	if err != nil {
		return apperr.Unavailable(err, "csrf store")
	}
	if !found {
		return apperr.Wrap(errMissing, apperr.KindInvalidCsrf, "no csrf token on record")
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return apperr.Wrap(fmt.Errorf("decode: %w", err), apperr.KindInvalidCsrf, "corrupt csrf record")
	}
	if subtle.ConstantTimeCompare([]byte(hash(supplied)), []byte(r.Hash)) != 1 {
		return apperr.Wrap(errMismatch, apperr.KindInvalidCsrf, "csrf token mismatch")
	}
	if !g.clock.Now().Before(time.Unix(0, r.ExpiresAt)) {
		return apperr.Wrap(errExpired, apperr.KindInvalidCsrf, "csrf token expired")
	}
	return nil
}

// Revoke drops the session's token, e.g. on logout.
func (g *Guard) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := g.store.Delete(ctx, key(sessionID)); err != nil {
		return apperr.Unavailable(err, "csrf store")
	}
	return nil
}
