package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/model"
)

// TokenRepo persists refresh token hashes. Each row belongs to one session;
// the session id is carried into access tokens and keys the CSRF token.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, sessionID, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, session_id, token_hash, expires_at) VALUES (?,?,?,?)",
		userID, sessionID, tokenHash, exp.UTC())
	return err
}

// ValidateRefresh returns the token row if it exists, is not revoked and
// has not expired at now. Otherwise it returns AuthenticationRequired.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, session_id, token_hash, expires_at, revoked_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.SessionID, &t.TokenHash, &t.ExpiresAt, &revokedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, apperr.AuthenticationRequired()
	}
	if err != nil {
		return t, err
	}
	if revokedAt.Valid || !now.Before(t.ExpiresAt) {
		return t, apperr.AuthenticationRequired()
	}
	return t, nil
}

// RevokeByHash marks a live token as revoked. Exactly one caller wins for a
// given token; the others, and callers holding an already revoked or
// unknown token, get AuthenticationRequired.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE token_hash=? AND revoked_at IS NULL",
		tokenHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return apperr.AuthenticationRequired()
	}
	return nil
}

// RevokeSession revokes every token of one session.
func (r *TokenRepo) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE session_id=? AND revoked_at IS NULL",
		sessionID)
	return err
}
