package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/laundryhub/laundry-api/internal/auth"
)

// Membership links a user to an outlet with a role and sparse permission overrides.
// Memberships are soft-disabled through IsActive and never deleted.
type Membership struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	OutletID        int64           `json:"outlet_id" db:"outlet_id"`
	Role            auth.Role       `json:"role" db:"role"`
	PermissionsJSON json.RawMessage `json:"permissions_json" db:"permissions_json"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`

	// Outlet is populated by queries that join the outlet display fields.
	Outlet *Outlet `json:"outlet,omitempty" db:"-"`
}

// TableName returns the table name for the Membership model
func (Membership) TableName() string {
	return "user_outlets"
}

// NewMembership creates an active membership carrying the given overrides
func NewMembership(userID, outletID int64, role auth.Role, overrides auth.Permissions) (*Membership, error) {
	now := time.Now().UTC()
	m := &Membership{
		UserID:    userID,
		OutletID:  outletID,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.SetOverrides(overrides); err != nil {
		return nil, err
	}
	return m, nil
}

// RawOverrides decodes the stored overrides. Missing, malformed, or
// non-object storage yields an empty map.
func (m *Membership) RawOverrides() map[string]any {
	raw := map[string]any{}
	if len(m.PermissionsJSON) == 0 {
		return raw
	}
	var decoded any
	if err := json.Unmarshal(m.PermissionsJSON, &decoded); err != nil {
		return raw
	}
	if obj, ok := decoded.(map[string]any); ok {
		return obj
	}
	return raw
}

// Overrides returns the recognized boolean overrides.
func (m *Membership) Overrides() auth.Permissions {
	return auth.SanitizeOverrides(m.RawOverrides())
}

// SetOverrides stores overrides as JSON.
func (m *Membership) SetOverrides(overrides auth.Permissions) error {
	if overrides == nil {
		overrides = auth.Permissions{}
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	m.PermissionsJSON = data
	return nil
}

// EffectivePermissions merges the role defaults with the stored overrides.
func (m *Membership) EffectivePermissions() auth.Permissions {
	return auth.Merge(auth.DefaultsFor(m.Role), m.RawOverrides())
}

// HasPermission reports whether the membership grants p.
func (m *Membership) HasPermission(p auth.Permission) bool {
	return m.EffectivePermissions()[p]
}
