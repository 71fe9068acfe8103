package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
)

const membershipColumns = `m.id, m.user_id, m.outlet_id, m.role, m.permissions_json, m.is_active, m.created_at, m.updated_at`

// MembershipRepository implements the repositories.MembershipRepository interface
type MembershipRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB, logger *zap.Logger) repositories.MembershipRepository {
	return &MembershipRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new membership
func (r *MembershipRepository) Create(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO user_outlets (user_id, outlet_id, role, permissions_json, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	permissions := m.PermissionsJSON
	if len(permissions) == 0 {
		permissions = []byte(`{}`)
	}

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		m.UserID,
		m.OutletID,
		string(m.Role),
		[]byte(permissions),
		m.IsActive,
		m.CreatedAt,
		m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		return mapError(err, "failed to create membership")
	}

	r.logger.Debug("membership created",
		zap.Int64("id", m.ID),
		zap.Int64("user_id", m.UserID),
		zap.Int64("outlet_id", m.OutletID),
		zap.String("role", string(m.Role)),
	)
	return nil
}

// GetByID retrieves a membership by ID
func (r *MembershipRepository) GetByID(ctx context.Context, id int64) (*models.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM user_outlets m WHERE m.id = $1`

	m, err := scanMembership(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("failed to get membership %d", id))
	}
	return m, nil
}

// GetByUserAndOutlet retrieves the membership linking a user and an outlet
func (r *MembershipRepository) GetByUserAndOutlet(ctx context.Context, userID, outletID int64) (*models.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM user_outlets m WHERE m.user_id = $1 AND m.outlet_id = $2`

	m, err := scanMembership(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, userID, outletID))
	if err != nil {
		return nil, mapError(err, "failed to get membership")
	}
	return m, nil
}

// ListActiveByUser returns active memberships at active outlets, oldest first
func (r *MembershipRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `,
		       o.id, o.owner_user_id, o.name, o.address, o.phone, o.is_active, o.created_at, o.updated_at
		FROM user_outlets m
		JOIN outlets o ON o.id = m.outlet_id
		WHERE m.user_id = $1 AND m.is_active = true AND o.is_active = true
		ORDER BY m.id ASC
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	memberships := []*models.Membership{}
	for rows.Next() {
		m := &models.Membership{Outlet: &models.Outlet{}}
		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.OutletID,
			&m.Role,
			&m.PermissionsJSON,
			&m.IsActive,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.Outlet.ID,
			&m.Outlet.OwnerUserID,
			&m.Outlet.Name,
			&m.Outlet.Address,
			&m.Outlet.Phone,
			&m.Outlet.IsActive,
			&m.Outlet.CreatedAt,
			&m.Outlet.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}

	return memberships, nil
}

// ListByOutlet returns every membership of an outlet
func (r *MembershipRepository) ListByOutlet(ctx context.Context, outletID int64) ([]*models.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM user_outlets m WHERE m.outlet_id = $1 ORDER BY m.id ASC`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, outletID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	memberships := []*models.Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}

	return memberships, nil
}

// Update updates a membership
func (r *MembershipRepository) Update(ctx context.Context, m *models.Membership) error {
	query := `
		UPDATE user_outlets
		SET role = $2,
		    permissions_json = $3,
		    is_active = $4,
		    updated_at = $5
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		m.ID,
		string(m.Role),
		[]byte(m.PermissionsJSON),
		m.IsActive,
		m.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "failed to update membership")
	}
	if err := expectAffected(result, fmt.Sprintf("membership %d", m.ID)); err != nil {
		return err
	}

	r.logger.Debug("membership updated", zap.Int64("id", m.ID), zap.Bool("is_active", m.IsActive))
	return nil
}

func scanMembership(row rowScanner) (*models.Membership, error) {
	m := &models.Membership{}
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.OutletID,
		&m.Role,
		&m.PermissionsJSON,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
