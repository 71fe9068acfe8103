package auth

import "sort"

// Permission is a key from the closed outlet permission catalog.
type Permission string

const (
	PermCreateOrder        Permission = "create_order"
	PermCancelOrder        Permission = "cancel_order"
	PermCreateExpense      Permission = "create_expense"
	PermManageServices     Permission = "manage_services"
	PermManageCustomers    Permission = "manage_customers"
	PermManageEmployees    Permission = "manage_employees"
	PermViewRevenue        Permission = "view_revenue"
	PermViewReportTx       Permission = "view_report_tx"
	PermViewReportFinance  Permission = "view_report_finance"
	PermViewReportCustomer Permission = "view_report_customer"
)

// catalog lists every recognized permission in its canonical order.
var catalog = []Permission{
	PermCreateOrder,
	PermCancelOrder,
	PermCreateExpense,
	PermManageServices,
	PermManageCustomers,
	PermManageEmployees,
	PermViewRevenue,
	PermViewReportTx,
	PermViewReportFinance,
	PermViewReportCustomer,
}

// Role is the role a user holds at a single outlet.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleKaryawan Role = "karyawan"
	RoleKasir    Role = "kasir"
)

// Permissions maps every catalog key to its grant.
type Permissions map[Permission]bool

var roleDefaults = map[Role][]Permission{
	RoleOwner: catalog,
	RoleKaryawan: {
		PermCreateOrder,
		PermCancelOrder,
		PermCreateExpense,
		PermManageCustomers,
	},
	RoleKasir: {
		PermCreateOrder,
		PermManageCustomers,
		PermViewReportTx,
	},
}

// AllPermissionKeys returns the full catalog with every grant set to false.
func AllPermissionKeys() Permissions {
	all := make(Permissions, len(catalog))
	for _, p := range catalog {
		all[p] = false
	}
	return all
}

// Catalog returns the recognized permission keys in canonical order.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// IsKnown reports whether p belongs to the catalog.
func (p Permission) IsKnown() bool {
	for _, known := range catalog {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePermission converts a raw key into a Permission.
func ParsePermission(raw string) (Permission, bool) {
	p := Permission(raw)
	return p, p.IsKnown()
}

// IsKnown reports whether r is one of the closed role set.
func (r Role) IsKnown() bool {
	_, ok := roleDefaults[r]
	return ok
}

// ParseRole converts a raw role name into a Role.
func ParseRole(raw string) (Role, bool) {
	r := Role(raw)
	return r, r.IsKnown()
}

// Roles returns the known roles sorted by name.
func Roles() []Role {
	roles := make([]Role, 0, len(roleDefaults))
	for r := range roleDefaults {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// DefaultsFor returns a fresh copy of the default grants for role.
// Unrecognized roles get every key set to false.
func DefaultsFor(role Role) Permissions {
	defaults := AllPermissionKeys()
	for _, p := range roleDefaults[role] {
		defaults[p] = true
	}
	return defaults
}

// Merge returns a copy of base with each override applied when the key is
// a catalog permission and the value is a bool. Anything else in override is
// ignored. The result always carries exactly the catalog keys.
func Merge(base Permissions, override map[string]any) Permissions {
	merged := AllPermissionKeys()
	for p, granted := range base {
		if p.IsKnown() {
			merged[p] = granted
		}
	}
	for key, value := range override {
		p, ok := ParsePermission(key)
		if !ok {
			continue
		}
		if granted, isBool := value.(bool); isBool {
			merged[p] = granted
		}
	}
	return merged
}

// SanitizeOverrides keeps only the recognized keys of raw whose values are
// bools. The result is sparse and never nil.
func SanitizeOverrides(raw map[string]any) Permissions {
	clean := make(Permissions)
	for key, value := range raw {
		p, ok := ParsePermission(key)
		if !ok {
			continue
		}
		if granted, isBool := value.(bool); isBool {
			clean[p] = granted
		}
	}
	return clean
}

// Granted returns the granted keys of perms in catalog order.
func (perms Permissions) Granted() []Permission {
	out := make([]Permission, 0, len(perms))
	for _, p := range catalog {
		if perms[p] {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether p is granted.
func (perms Permissions) Has(p Permission) bool {
	return perms[p]
}

// Clone returns an independent copy of perms.
func (perms Permissions) Clone() Permissions {
	out := make(Permissions, len(perms))
	for k, v := range perms {
		out[k] = v
	}
	return out
}
