package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/laundryhub/laundry-api/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a unique constraint
	ErrConflict = errors.New("record already exists")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create inserts the user and assigns its ID
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id int64) (*models.User, error)

	// GetByEmail retrieves a user by normalized email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// Update updates profile fields and the active flag
	Update(ctx context.Context, user *models.User) error
}

// OutletRepository handles outlet data operations
type OutletRepository interface {
	// Create inserts the outlet and assigns its ID
	Create(ctx context.Context, outlet *models.Outlet) error

	// GetByID retrieves an outlet by ID
	GetByID(ctx context.Context, id int64) (*models.Outlet, error)
}

// MembershipRepository handles user_outlets data operations
type MembershipRepository interface {
	// Create inserts the membership and assigns its ID
	Create(ctx context.Context, m *models.Membership) error

	// GetByID retrieves a membership by ID
	GetByID(ctx context.Context, id int64) (*models.Membership, error)

	// GetByUserAndOutlet retrieves the membership linking a user and an outlet
	GetByUserAndOutlet(ctx context.Context, userID, outletID int64) (*models.Membership, error)

	// ListActiveByUser returns active memberships with the outlet joined,
	// ordered by membership ID ascending
	ListActiveByUser(ctx context.Context, userID int64) ([]*models.Membership, error)

	// ListByOutlet returns every membership of an outlet, active or not
	ListByOutlet(ctx context.Context, outletID int64) ([]*models.Membership, error)

	// Update updates role, overrides, and the active flag
	Update(ctx context.Context, m *models.Membership) error
}

// RefreshTokenRepository handles refresh token records
type RefreshTokenRepository interface {
	// Create inserts a new refresh token record
	Create(ctx context.Context, token *models.RefreshToken) error

	// GetByHash retrieves a record by token hash
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// IncrementUsage bumps use_count and last_used_at of a live record whose
	// use_count is below maxUses (0 for no cap). ErrNotFound when none matches.
	IncrementUsage(ctx context.Context, id uuid.UUID, usedAt time.Time, maxUses int) error

	// Revoke marks a single record revoked
	Revoke(ctx context.Context, id uuid.UUID, revokedAt time.Time) error

	// RevokeAllForUser revokes every live record of a user
	RevokeAllForUser(ctx context.Context, userID int64, revokedAt time.Time) (int64, error)

	// ListForUser returns a user's records, newest first
	ListForUser(ctx context.Context, userID int64) ([]*models.RefreshToken, error)

	// DeleteExpired removes records that expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByUserID retrieves audit logs for a user with pagination
	GetByUserID(ctx context.Context, userID int64, limit, offset int) ([]*models.AuditLog, error)

	// GetByOutletID retrieves audit logs for an outlet with pagination
	GetByOutletID(ctx context.Context, outletID int64, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users         UserRepository
	Outlets       OutletRepository
	Memberships   MembershipRepository
	RefreshTokens RefreshTokenRepository
	AuditLogs     AuditRepository
}
