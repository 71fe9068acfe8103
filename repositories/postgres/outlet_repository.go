package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
)

// OutletRepository implements the repositories.OutletRepository interface
type OutletRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOutletRepository creates a new outlet repository
func NewOutletRepository(db *DB, logger *zap.Logger) repositories.OutletRepository {
	return &OutletRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new outlet
func (r *OutletRepository) Create(ctx context.Context, outlet *models.Outlet) error {
	query := `
		INSERT INTO outlets (owner_user_id, name, address, phone, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		outlet.OwnerUserID,
		outlet.Name,
		outlet.Address,
		outlet.Phone,
		outlet.IsActive,
		outlet.CreatedAt,
		outlet.UpdatedAt,
	).Scan(&outlet.ID)
	if err != nil {
		return mapError(err, "failed to create outlet")
	}

	r.logger.Debug("outlet created", zap.Int64("id", outlet.ID), zap.Int64("owner_user_id", outlet.OwnerUserID))
	return nil
}

// GetByID retrieves an outlet by ID
func (r *OutletRepository) GetByID(ctx context.Context, id int64) (*models.Outlet, error) {
	query := `
		SELECT id, owner_user_id, name, address, phone, is_active, created_at, updated_at
		FROM outlets
		WHERE id = $1
	`

	outlet := &models.Outlet{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&outlet.ID,
		&outlet.OwnerUserID,
		&outlet.Name,
		&outlet.Address,
		&outlet.Phone,
		&outlet.IsActive,
		&outlet.CreatedAt,
		&outlet.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("failed to get outlet %d", id))
	}
	return outlet, nil
}
