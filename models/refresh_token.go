package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the stored record of an issued refresh token.
// Only the SHA-256 hash of the token is persisted.
type RefreshToken struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TokenHash  string     `json:"-" db:"token_hash"`
	UserID     int64      `json:"user_id" db:"user_id"`
	DeviceID   string     `json:"device_id" db:"device_id"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	UseCount   int        `json:"use_count" db:"use_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the RefreshToken model
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsRevoked reports whether the token was revoked
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token expired at now
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
