package claims

import (
	"github.com/laundryhub/laundry-api/internal/auth"
)

// TokenTypeAccess is the type carried by access tokens.
const TokenTypeAccess = "access"

// DefaultDeviceID is used when the client does not send X-Device-ID.
const DefaultDeviceID = "unknown"

// Payload is the session snapshot embedded in a signed access token.
// It is a point-in-time view of the user's tenant access.
type Payload struct {
	Type        string                       `json:"type"`
	User        UserInfo                     `json:"user"`
	Tenant      *Tenant                      `json:"tenant"`
	Permissions map[int64]*OutletPermissions `json:"permissions"`
}

// UserInfo is the identity section of the payload
type UserInfo struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	IsActive bool    `json:"is_active"`
}

// Tenant is the outlet context of the session
type Tenant struct {
	CurrentOutletID  *int64                 `json:"current_outlet_id"`
	AvailableOutlets []int64                `json:"available_outlets"`
	PrimaryRole      *auth.Role             `json:"primary_role"`
	OutletDetails    map[int64]OutletDetail `json:"outlet_details"`
	SessionContext   SessionContext         `json:"session_context"`
}

// OutletDetail carries the display fields of an outlet
type OutletDetail struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

// SessionContext describes the client that obtained the session
type SessionContext struct {
	DeviceID     string `json:"device_id"`
	LastActivity int64  `json:"last_activity"`
}

// OutletPermissions is the permission table entry of a single outlet.
// Permissions holds the role defaults for every catalog key; Overrides is sparse.
type OutletPermissions struct {
	Role        auth.Role        `json:"role"`
	Permissions auth.Permissions `json:"permissions"`
	Overrides   auth.Permissions `json:"overrides"`
	IsActive    bool             `json:"is_active"`
	JoinedAt    string           `json:"joined_at"`
}

// OutletSummary is an accessible outlet joined with the caller's role there
type OutletSummary struct {
	OutletDetail
	Role     *auth.Role `json:"role"`
	IsActive bool       `json:"is_active"`
}

// Effective applies the overrides to the role defaults.
func (p *OutletPermissions) Effective() auth.Permissions {
	effective := auth.AllPermissionKeys()
	for perm, granted := range p.Permissions {
		if perm.IsKnown() {
			effective[perm] = granted
		}
	}
	for perm, granted := range p.Overrides {
		if perm.IsKnown() {
			effective[perm] = granted
		}
	}
	return effective
}
