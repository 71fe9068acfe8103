// Package membership manages outlets and the user to outlet memberships
// that carry roles and permission overrides.
package membership

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories"
	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/services/audit"
)

// Service implements the membership lifecycle. Memberships are soft-disabled, never deleted.
type Service struct {
	users       repositories.UserRepository
	outlets     repositories.OutletRepository
	memberships repositories.MembershipRepository
	txManager   repositories.TransactionManager
	audit       audit.Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a membership service
func NewService(repos *repositories.Repositories, txManager repositories.TransactionManager, recorder audit.Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &Service{
		users:       repos.Users,
		outlets:     repos.Outlets,
		memberships: repos.Memberships,
		txManager:   txManager,
		audit:       recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateOutletInput describes a new outlet
type CreateOutletInput struct {
	Name    string  `json:"name" validate:"required,min=2,max=120"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=255"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// InviteInput describes a staff member to add to an outlet
type InviteInput struct {
	Email     string         `json:"email" validate:"required,email"`
	Role      string         `json:"role" validate:"required,role"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// UpdateInput describes a partial membership change. Nil fields are left alone.
type UpdateInput struct {
	Role      *string        `json:"role,omitempty" validate:"omitempty,role"`
	Overrides map[string]any `json:"overrides,omitempty"`
	IsActive  *bool          `json:"is_active,omitempty"`
}

// CreateOutlet creates an outlet and its owner membership atomically
func (s *Service) CreateOutlet(ctx context.Context, ownerID int64, input CreateOutletInput) (*models.Outlet, *models.Membership, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, nil, services.ErrInvalidInput.WithDetail("name", "required")
	}

	type created struct {
		outlet     *models.Outlet
		membership *models.Membership
	}

	result, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) (created, error) {
		outlet := models.NewOutlet(ownerID, name, input.Address, input.Phone)
		if err := s.outlets.Create(ctx, outlet); err != nil {
			return created{}, services.WrapInternal("failed to create outlet", err)
		}

		m, err := models.NewMembership(ownerID, outlet.ID, auth.RoleOwner, nil)
		if err != nil {
			return created{}, services.WrapInternal("failed to build owner membership", err)
		}
		if err := s.memberships.Create(ctx, m); err != nil {
			return created{}, mapWriteError(err, "failed to create owner membership")
		}
		m.Outlet = outlet
		return created{outlet: outlet, membership: m}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.record(audit.OutletCreated(ownerID, result.outlet))
	s.record(audit.MembershipCreated(ownerID, result.membership))
	s.logger.Info("outlet created",
		zap.Int64("outlet_id", result.outlet.ID),
		zap.Int64("owner_id", ownerID))
	return result.outlet, result.membership, nil
}

// InviteStaff adds an existing user to an outlet. A previously deactivated
// membership is reactivated with the new role and overrides.
func (s *Service) InviteStaff(ctx context.Context, actorID, outletID int64, input InviteInput) (*models.Membership, error) {
	role, err := staffRole(input.Role)
	if err != nil {
		return nil, err
	}
	if _, err := s.getOutlet(ctx, outletID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("failed to load user", err)
	}
	if !user.IsActive {
		return nil, services.ErrUserInactive
	}

	overrides := auth.SanitizeOverrides(input.Overrides)

	existing, err := s.memberships.GetByUserAndOutlet(ctx, user.ID, outletID)
	switch {
	case err == nil && existing.IsActive:
		return nil, services.ErrDuplicateMembership
	case err == nil:
		existing.Role = role
		existing.IsActive = true
		if err := existing.SetOverrides(overrides); err != nil {
			return nil, services.WrapInternal("failed to encode overrides", err)
		}
		if err := s.save(ctx, existing); err != nil {
			return nil, err
		}
		s.record(audit.MembershipUpdated(actorID, existing, map[string]interface{}{
			"is_active": true,
			"role":      role,
		}))
		return existing, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, services.WrapInternal("failed to load membership", err)
	}

	m, err := models.NewMembership(user.ID, outletID, role, overrides)
	if err != nil {
		return nil, services.WrapInternal("failed to build membership", err)
	}
	if err := s.memberships.Create(ctx, m); err != nil {
		return nil, mapWriteError(err, "failed to create membership")
	}

	s.record(audit.MembershipCreated(actorID, m))
	s.logger.Info("staff invited",
		zap.Int64("outlet_id", outletID),
		zap.Int64("user_id", user.ID),
		zap.String("role", string(role)))
	return m, nil
}

// Update applies a partial change to a membership of outletID. The load,
// owner check and write share one transaction.
func (s *Service) Update(ctx context.Context, actorID, outletID, membershipID int64, input UpdateInput) (*models.Membership, error) {
	var (
		m       *models.Membership
		changes map[string]interface{}
	)
	err := services.WithTransaction(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) error {
		var err error
		m, changes, err = s.applyUpdate(ctx, outletID, membershipID, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return m, nil
	}

	if active, ok := changes["is_active"].(bool); ok && !active && len(changes) == 1 {
		s.record(audit.MembershipDeactivated(actorID, m))
	} else {
		s.record(audit.MembershipUpdated(actorID, m, changes))
	}
	return m, nil
}

func (s *Service) applyUpdate(ctx context.Context, outletID, membershipID int64, input UpdateInput) (*models.Membership, map[string]interface{}, error) {
	m, err := s.getMembership(ctx, outletID, membershipID)
	if err != nil {
		return nil, nil, err
	}

	var role auth.Role
	if input.Role != nil {
		if role, err = staffRole(*input.Role); err != nil {
			return nil, nil, err
		}
	}

	demote := role != "" && role != m.Role
	disable := input.IsActive != nil && !*input.IsActive && m.IsActive
	if demote || disable || input.Overrides != nil {
		if err := s.guardOwner(ctx, m); err != nil {
			return nil, nil, err
		}
	}

	changes := map[string]interface{}{}
	if demote {
		changes["role"] = map[string]interface{}{"from": m.Role, "to": role}
		m.Role = role
	}

	if input.Overrides != nil {
		merged := m.Overrides()
		for perm, granted := range auth.SanitizeOverrides(input.Overrides) {
			merged[perm] = granted
		}
		if err := m.SetOverrides(merged); err != nil {
			return nil, nil, services.WrapInternal("failed to encode overrides", err)
		}
		changes["overrides"] = merged
	}

	if input.IsActive != nil && *input.IsActive != m.IsActive {
		changes["is_active"] = *input.IsActive
		m.IsActive = *input.IsActive
	}

	if len(changes) == 0 {
		return m, changes, nil
	}
	if err := s.save(ctx, m); err != nil {
		return nil, nil, err
	}
	return m, changes, nil
}

// ChangeRole replaces the role of a membership
func (s *Service) ChangeRole(ctx context.Context, actorID, outletID, membershipID int64, role string) (*models.Membership, error) {
	return s.Update(ctx, actorID, outletID, membershipID, UpdateInput{Role: &role})
}

// UpdateOverrides merges recognized overrides into the stored sparse overrides
func (s *Service) UpdateOverrides(ctx context.Context, actorID, outletID, membershipID int64, overrides map[string]any) (*models.Membership, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}
	return s.Update(ctx, actorID, outletID, membershipID, UpdateInput{Overrides: overrides})
}

// Deactivate soft-disables a membership
func (s *Service) Deactivate(ctx context.Context, actorID, outletID, membershipID int64) (*models.Membership, error) {
	inactive := false
	return s.Update(ctx, actorID, outletID, membershipID, UpdateInput{IsActive: &inactive})
}

// Reactivate re-enables a soft-disabled membership
func (s *Service) Reactivate(ctx context.Context, actorID, outletID, membershipID int64) (*models.Membership, error) {
	active := true
	return s.Update(ctx, actorID, outletID, membershipID, UpdateInput{IsActive: &active})
}

// ListMembers returns every membership of an outlet, active or not
func (s *Service) ListMembers(ctx context.Context, outletID int64) ([]*models.Membership, error) {
	if _, err := s.getOutlet(ctx, outletID); err != nil {
		return nil, err
	}
	members, err := s.memberships.ListByOutlet(ctx, outletID)
	if err != nil {
		return nil, services.WrapInternal("failed to list members", err)
	}
	return members, nil
}

func (s *Service) getOutlet(ctx context.Context, outletID int64) (*models.Outlet, error) {
	outlet, err := s.outlets.GetByID(ctx, outletID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrOutletNotFound
		}
		return nil, services.WrapInternal("failed to load outlet", err)
	}
	return outlet, nil
}

func (s *Service) getMembership(ctx context.Context, outletID, membershipID int64) (*models.Membership, error) {
	m, err := s.memberships.GetByID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrMembershipNotFound
		}
		return nil, services.WrapInternal("failed to load membership", err)
	}
	if m.OutletID != outletID {
		return nil, services.ErrMembershipNotFound
	}
	return m, nil
}

// guardOwner rejects any staff-management change to the outlet owner's membership
func (s *Service) guardOwner(ctx context.Context, m *models.Membership) error {
	if m.Role == auth.RoleOwner {
		return services.ErrInvalidInput.WithDetail("membership", "the outlet owner's membership cannot be changed")
	}
	outlet, err := s.getOutlet(ctx, m.OutletID)
	if err != nil {
		return err
	}
	if outlet.OwnerUserID == m.UserID {
		return services.ErrInvalidInput.WithDetail("membership", "the outlet owner's membership cannot be changed")
	}
	return nil
}

// staffRole parses a role assignable through staff management. Ownership is
// granted only by CreateOutlet.
func staffRole(raw string) (auth.Role, error) {
	role, ok := auth.ParseRole(raw)
	if !ok {
		return "", services.ErrInvalidRole.WithDetail("role", raw)
	}
	if role == auth.RoleOwner {
		return "", services.ErrInvalidRole.WithDetail("role", "owner can only be granted by creating an outlet")
	}
	return role, nil
}

func (s *Service) save(ctx context.Context, m *models.Membership) error {
	m.UpdatedAt = s.now().UTC()
	if err := s.memberships.Update(ctx, m); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrMembershipNotFound
		}
		return services.WrapInternal("failed to update membership", err)
	}
	return nil
}

func (s *Service) record(log *models.AuditLog) {
	if err := s.audit.Record(log); err != nil {
		s.logger.Warn("failed to record audit event",
			zap.String("action", string(log.Action)),
			zap.Error(err))
	}
}

func mapWriteError(err error, message string) error {
	if errors.Is(err, repositories.ErrConflict) {
		return services.ErrDuplicateMembership
	}
	return services.WrapInternal(message, err)
}
