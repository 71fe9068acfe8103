package claims

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/models"
)

// MembershipLoader yields a user's active memberships with their outlet joined
type MembershipLoader interface {
	ListActiveByUser(ctx context.Context, userID int64) ([]*models.Membership, error)
}

// Builder produces session snapshots from a user's memberships
type Builder struct {
	memberships MembershipLoader
	logger      *zap.Logger
	now         func() time.Time
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithClock overrides the time source used for last_activity
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a new claims builder
func NewBuilder(memberships MembershipLoader, logger *zap.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		memberships: memberships,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build loads the user's active memberships and returns the payload to embed
// in an access token. A user with no active memberships gets an empty tenant,
// which is not an error. Loader failures are returned unchanged in meaning.
func (b *Builder) Build(ctx context.Context, user *models.User, deviceID string) (*Payload, error) {
	if user == nil {
		return nil, fmt.Errorf("build claims: user is required")
	}

	memberships, err := b.memberships.ListActiveByUser(ctx, user.ID)
	if err != nil {
		b.logger.Error("failed to load memberships for claims",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("load memberships for user %d: %w", user.ID, err)
	}

	ordered := make([]*models.Membership, 0, len(memberships))
	for _, m := range memberships {
		if m != nil && m.IsActive {
			ordered = append(ordered, m)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	tenant := &Tenant{
		AvailableOutlets: []int64{},
		OutletDetails:    map[int64]OutletDetail{},
		SessionContext: SessionContext{
			DeviceID:     deviceID,
			LastActivity: b.now().Unix(),
		},
	}
	permissions := map[int64]*OutletPermissions{}

	for _, m := range ordered {
		if _, seen := permissions[m.OutletID]; seen {
			continue
		}

		tenant.AvailableOutlets = append(tenant.AvailableOutlets, m.OutletID)
		tenant.OutletDetails[m.OutletID] = outletDetail(m)
		permissions[m.OutletID] = &OutletPermissions{
			Role:        m.Role,
			Permissions: auth.DefaultsFor(m.Role),
			Overrides:   m.Overrides(),
			IsActive:    m.IsActive,
			JoinedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
		}

		if tenant.CurrentOutletID == nil {
			outletID := m.OutletID
			role := m.Role
			tenant.CurrentOutletID = &outletID
			tenant.PrimaryRole = &role
		}
	}

	b.logger.Debug("built session claims",
		zap.Int64("user_id", user.ID),
		zap.Int("outlets", len(tenant.AvailableOutlets)),
	)

	return &Payload{
		Type: TokenTypeAccess,
		User: UserInfo{
			ID:       user.ID,
			Name:     user.Name,
			Email:    user.Email,
			Phone:    user.Phone,
			IsActive: user.IsActive,
		},
		Tenant:      tenant,
		Permissions: permissions,
	}, nil
}

func outletDetail(m *models.Membership) OutletDetail {
	if m.Outlet == nil {
		return OutletDetail{ID: m.OutletID}
	}
	return OutletDetail{
		ID:      m.OutletID,
		Name:    m.Outlet.Name,
		Address: m.Outlet.Address,
		Phone:   m.Outlet.Phone,
	}
}
