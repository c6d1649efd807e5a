// Package utils provides token creation, parsing and hashing helpers.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/travel-booking/internal/model"
)

// AccessToken is a signed JWT and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken is the raw value returned to the client. Only its SHA-256
// hash is stored.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// Claims carried by access tokens. SessionID (sid) binds the token to the
// login session that owns the CSRF token.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the caller identity.
func (c Claims) Principal() model.Principal {
	role, ok := model.ParseRole(c.Role)
	if !ok || role == model.RoleAnonymous {
		return model.Anonymous()
	}
	return model.Principal{ID: c.Subject, Email: c.Email, Role: role, SessionID: c.SessionID}
}

var ErrInvalidToken = errors.New("invalid token")

// NewAccessToken signs an HS256 JWT for u within session sid.
func NewAccessToken(secret string, u model.User, sid string, ttl time.Duration, now time.Time) (AccessToken, error) {
	exp := now.UTC().Add(ttl)
	claims := Claims{
		Email:     u.Email,
		Role:      u.Role.String(),
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature, algorithm and expiry.
func ParseAccessToken(secret, raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken returns a random 96-hex-char token expiring after ttl.
func NewRefreshToken(ttl time.Duration, now time.Time) (RefreshToken, error) {
	raw, err := randomHex(48)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: raw, Exp: now.UTC().Add(ttl)}, nil
}

// HashRefreshRaw returns the hex SHA-256 of a raw refresh token.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
