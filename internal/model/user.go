package model

import "time"

// MaxEmailLen bounds stored emails in characters. Audit targets carry the
// email with a short prefix and must stay wide enough for it.
const MaxEmailLen = 255

// User represents an application user record as stored in the
// `users` table. Handlers never serialize it directly; the password hash
// stays inside the repository and auth layers.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – USER, MODERATOR or ADMIN.
//  IsActive     – inactive accounts cannot log in.
type User struct {
	ID           uint64
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the token value is stored. SessionID ties the refresh
// token to the login session whose CSRF token it shares.
type RefreshToken struct {
	ID        uint64
	UserID    uint64
	SessionID string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}
