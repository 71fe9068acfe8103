// Package refreshtoken issues and validates opaque refresh tokens.
// Only the SHA-256 hash of a token is persisted.
package refreshtoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
	"github.com/laundryhub/laundry-api/services"
)

// tokenBytes encodes to 64 url-safe characters
const tokenBytes = 48

// Config controls token lifetime and reuse
type Config struct {
	TTL time.Duration
	// MaxUses caps how many refreshes a token can serve. Zero means unlimited.
	MaxUses int
}

// Store manages refresh token records
type Store struct {
	repo    repositories.RefreshTokenRepository
	logger  *zap.Logger
	ttl     time.Duration
	maxUses int
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store
func NewStore(repo repositories.RefreshTokenRepository, logger *zap.Logger, cfg Config, opts ...Option) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	s := &Store{
		repo:    repo,
		logger:  logger,
		ttl:     cfg.TTL,
		maxUses: cfg.MaxUses,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashToken returns the hex SHA-256 digest stored for a token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Generate creates a token for userID on deviceID and returns the plaintext.
// The plaintext is never stored.
func (s *Store) Generate(ctx context.Context, userID int64, deviceID string) (string, *models.RefreshToken, error) {
	token, err := generateToken()
	if err != nil {
		return "", nil, services.WrapInternal("failed to generate refresh token", err)
	}

	now := s.now().UTC()
	record := &models.RefreshToken{
		ID:        uuid.New(),
		TokenHash: HashToken(token),
		UserID:    userID,
		DeviceID:  deviceID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return "", nil, services.WrapInternal("failed to store refresh token", err)
	}

	s.logger.Debug("refresh token issued",
		zap.Int64("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("token_id", record.ID.String()),
	)
	return token, record, nil
}

// Validate resolves a plaintext token to its live record. Unknown, revoked,
// expired, and exhausted tokens all yield ErrRefreshTokenInvalid.
func (s *Store) Validate(ctx context.Context, token string) (*models.RefreshToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.ErrRefreshTokenInvalid
	}

	record, err := s.repo.GetByHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRefreshTokenInvalid
		}
		return nil, services.WrapInternal("failed to load refresh token", err)
	}

	switch {
	case record.IsRevoked():
		return nil, services.ErrRefreshTokenInvalid.WithDetail("reason", "revoked")
	case record.IsExpired(s.now()):
		return nil, services.ErrRefreshTokenInvalid.WithDetail("reason", "expired")
	case s.maxUses > 0 && record.UseCount >= s.maxUses:
		return nil, services.ErrRefreshTokenInvalid.WithDetail("reason", "max_uses")
	}
	return record, nil
}

// IncrementUsage records one use of the token. The cap is enforced by the
// write itself, so concurrent uses cannot exceed MaxUses.
func (s *Store) IncrementUsage(ctx context.Context, record *models.RefreshToken) error {
	usedAt := s.now().UTC()
	if err := s.repo.IncrementUsage(ctx, record.ID, usedAt, s.maxUses); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrRefreshTokenInvalid.WithDetail("reason", "used")
		}
		return services.WrapInternal("failed to record refresh token use", err)
	}
	record.UseCount++
	record.LastUsedAt = &usedAt
	return nil
}

// Revoke revokes the record matching a plaintext token. Unknown tokens are ignored.
func (s *Store) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	record, err := s.repo.GetByHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return services.WrapInternal("failed to load refresh token", err)
	}
	if record.IsRevoked() {
		return nil
	}
	if err := s.repo.Revoke(ctx, record.ID, s.now().UTC()); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return services.WrapInternal("failed to revoke refresh token", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token of a user and returns how many were revoked
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.repo.RevokeAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, services.WrapInternal("failed to revoke refresh tokens", err)
	}
	s.logger.Info("revoked refresh tokens", zap.Int64("user_id", userID), zap.Int64("count", n))
	return n, nil
}

// ListForUser returns a user's token records, newest first
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	records, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, services.WrapInternal("failed to list refresh tokens", err)
	}
	return records, nil
}

// CleanupExpired deletes expired records and returns how many were removed
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, services.WrapInternal("failed to delete expired refresh tokens", err)
	}
	return n, nil
}
