package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
)

const refreshTokenColumns = `id, token_hash, user_id, device_id, expires_at, use_count, last_used_at, revoked_at, created_at`

// RefreshTokenRepository implements the repositories.RefreshTokenRepository interface
type RefreshTokenRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB, logger *zap.Logger) repositories.RefreshTokenRepository {
	return &RefreshTokenRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new refresh token record
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token_hash, user_id, device_id, expires_at, use_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		token.ID,
		token.TokenHash,
		token.UserID,
		token.DeviceID,
		token.ExpiresAt,
		token.UseCount,
		token.CreatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create refresh token")
	}

	r.logger.Debug("refresh token stored", zap.String("id", token.ID.String()), zap.Int64("user_id", token.UserID))
	return nil
}

// GetByHash retrieves a record by token hash
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	token, err := scanRefreshToken(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		return nil, mapError(err, "failed to get refresh token")
	}
	return token, nil
}

// IncrementUsage bumps use_count and last_used_at while the token is live and under its cap
func (r *RefreshTokenRepository) IncrementUsage(ctx context.Context, id uuid.UUID, usedAt time.Time, maxUses int) error {
	query := `
		UPDATE refresh_tokens SET use_count = use_count + 1, last_used_at = $2
		WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2 AND ($3 = 0 OR use_count < $3)`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, id, usedAt, maxUses)
	if err != nil {
		return mapError(err, "failed to increment refresh token usage")
	}
	return expectAffected(result, fmt.Sprintf("refresh token %s", id))
}

// Revoke marks a single record revoked
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id uuid.UUID, revokedAt time.Time) error {
	query := `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, id, revokedAt)
	if err != nil {
		return mapError(err, "failed to revoke refresh token")
	}
	return expectAffected(result, fmt.Sprintf("refresh token %s", id))
}

// RevokeAllForUser revokes every live record of a user
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64, revokedAt time.Time) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, userID, revokedAt)
	if err != nil {
		return 0, mapError(err, "failed to revoke refresh tokens")
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("refresh tokens revoked", zap.Int64("user_id", userID), zap.Int64("count", count))
	return count, nil
}

// ListForUser returns a user's records, newest first
func (r *RefreshTokenRepository) ListForUser(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*models.RefreshToken{}
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}

	return tokens, nil
}

// DeleteExpired removes records that expired before the given time
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	token := &models.RefreshToken{}
	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&token.DeviceID,
		&token.ExpiresAt,
		&token.UseCount,
		&token.LastUsedAt,
		&token.RevokedAt,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return token, nil
}
