package claims

import (
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/services"
)

// Validate checks that a decoded payload carries the tenant and permission
// sections required for access decisions.
func Validate(p *Payload) error {
	if p == nil || p.Tenant == nil || p.Tenant.AvailableOutlets == nil || p.Permissions == nil {
		return services.ErrMissingTenantClaims
	}
	return nil
}

// CanAccessOutlet reports whether outletID is in the snapshot's available outlets.
func CanAccessOutlet(p *Payload, outletID int64) bool {
	if p == nil || p.Tenant == nil {
		return false
	}
	for _, id := range p.Tenant.AvailableOutlets {
		if id == outletID {
			return true
		}
	}
	return false
}

// entry returns the permission entry for an accessible, active outlet.
func entry(p *Payload, outletID int64) (*OutletPermissions, bool) {
	if !CanAccessOutlet(p, outletID) || p.Permissions == nil {
		return nil, false
	}
	e, ok := p.Permissions[outletID]
	if !ok || e == nil || !e.IsActive {
		return nil, false
	}
	return e, true
}

// HasPermission reports whether the bearer holds perm at outletID.
// An override of false removes a role default grant.
func HasPermission(p *Payload, outletID int64, perm auth.Permission) bool {
	e, ok := entry(p, outletID)
	if !ok {
		return false
	}
	return e.Effective().Has(perm)
}

// EffectivePermissions returns the granted keys at outletID in catalog order.
// Inaccessible or inactive outlets yield an empty list.
func EffectivePermissions(p *Payload, outletID int64) []auth.Permission {
	e, ok := entry(p, outletID)
	if !ok {
		return []auth.Permission{}
	}
	return e.Effective().Granted()
}

// AccessibleOutlets joins outlet details with the caller's role at each
// available outlet, in available_outlets order.
func AccessibleOutlets(p *Payload) []OutletSummary {
	out := []OutletSummary{}
	if p == nil || p.Tenant == nil {
		return out
	}
	for _, id := range p.Tenant.AvailableOutlets {
		detail, ok := p.Tenant.OutletDetails[id]
		if !ok {
			detail = OutletDetail{ID: id}
		}
		summary := OutletSummary{OutletDetail: detail}
		if e, ok := p.Permissions[id]; ok && e != nil {
			role := e.Role
			summary.Role = &role
			summary.IsActive = e.IsActive
		}
		out = append(out, summary)
	}
	return out
}

// Authorize returns nil when the bearer may exercise perm at outletID.
// An empty perm checks outlet access only.
func Authorize(p *Payload, outletID int64, perm auth.Permission) error {
	if !CanAccessOutlet(p, outletID) {
		return services.ErrAccessDenied.WithDetail("outlet_id", outletID)
	}
	if perm == "" {
		return nil
	}
	if !HasPermission(p, outletID, perm) {
		return services.ErrPermissionDenied.
			WithDetail("outlet_id", outletID).
			WithDetail("permission", string(perm))
	}
	return nil
}
