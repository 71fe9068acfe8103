package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPermissionKeys(t *testing.T) {
	all := AllPermissionKeys()

	assert.Len(t, all, 10)
	for _, p := range Catalog() {
		granted, ok := all[p]
		assert.True(t, ok, "missing %s", p)
		assert.False(t, granted)
	}
}

func TestDefaultsFor(t *testing.T) {
	t.Run("owner gets everything", func(t *testing.T) {
		defaults := DefaultsFor(RoleOwner)
		assert.Len(t, defaults.Granted(), 10)
	})

	t.Run("karyawan", func(t *testing.T) {
		defaults := DefaultsFor(RoleKaryawan)
		assert.True(t, defaults[PermCreateOrder])
		assert.True(t, defaults[PermCancelOrder])
		assert.True(t, defaults[PermCreateExpense])
		assert.True(t, defaults[PermManageCustomers])
		assert.False(t, defaults[PermManageServices])
		assert.False(t, defaults[PermManageEmployees])
		assert.False(t, defaults[PermViewRevenue])
	})

	t.Run("kasir cannot manage services", func(t *testing.T) {
		defaults := DefaultsFor(RoleKasir)
		assert.False(t, defaults[PermManageServices])
		assert.True(t, defaults[PermCreateOrder])
	})

	t.Run("unknown role fails closed", func(t *testing.T) {
		defaults := DefaultsFor(Role("0wner"))
		assert.Len(t, defaults, 10)
		assert.Empty(t, defaults.Granted())
	})

	t.Run("returns an independent copy", func(t *testing.T) {
		first := DefaultsFor(RoleKasir)
		first[PermManageServices] = true
		assert.False(t, DefaultsFor(RoleKasir)[PermManageServices])
	})
}

func TestMerge(t *testing.T) {
	overrideSets := []map[string]any{
		nil,
		{},
		{"manage_services": true},
		{"create_order": false, "view_revenue": true},
		{"view_revenue": "yes"},
		{"delete_everything": true},
		{"manage_employees": 1, "cancel_order": false, "": true},
	}

	for _, role := range append(Roles(), Role("unknown")) {
		for _, o := range overrideSets {
			base := DefaultsFor(role)
			merged := Merge(base, o)

			assert.Len(t, merged, len(AllPermissionKeys()))
			for _, p := range Catalog() {
				want := base[p]
				if v, ok := o[string(p)].(bool); ok {
					want = v
				}
				assert.Equal(t, want, merged[p], "role=%s key=%s", role, p)
			}

			assert.Equal(t, merged, Merge(merged, o), "merge must be idempotent")
		}
	}
}

func TestMerge_IgnoresNonBoolean(t *testing.T) {
	base := DefaultsFor(RoleKaryawan)
	assert.Equal(t, base, Merge(base, map[string]any{"view_revenue": "yes"}))
}

func TestMerge_IgnoresUnknownKeys(t *testing.T) {
	base := DefaultsFor(RoleKaryawan)
	merged := Merge(base, map[string]any{"delete_everything": true})

	assert.Equal(t, base, merged)
	_, present := merged[Permission("delete_everything")]
	assert.False(t, present)
}

func TestMerge_DoesNotMutateBase(t *testing.T) {
	base := DefaultsFor(RoleKasir)
	_ = Merge(base, map[string]any{"manage_services": true})
	assert.False(t, base[PermManageServices])
}

func TestSanitizeOverrides(t *testing.T) {
	clean := SanitizeOverrides(map[string]any{
		"manage_services": true,
		"view_revenue":    false,
		"view_report_tx":  "true",
		"drop_tables":     true,
	})

	assert.Equal(t, Permissions{PermManageServices: true, PermViewRevenue: false}, clean)
	assert.NotNil(t, SanitizeOverrides(nil))
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("kasir")
	assert.True(t, ok)
	assert.Equal(t, RoleKasir, role)

	_, ok = ParseRole("manager")
	assert.False(t, ok)
}

func TestGrantedOrder(t *testing.T) {
	perms := Permissions{PermViewReportCustomer: true, PermCreateOrder: true, PermCancelOrder: false}
	assert.Equal(t, []Permission{PermCreateOrder, PermViewReportCustomer}, perms.Granted())
}

func TestBcryptHasher(t *testing.T) {
	ctx := context.Background()
	hasher, err := NewBcryptHasher(4)
	require.NoError(t, err)

	hash, err := hasher.Hash(ctx, "s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	assert.NoError(t, hasher.Compare(ctx, hash, "s3cret-pass"))
	assert.ErrorIs(t, hasher.Compare(ctx, hash, "wrong"), ErrPasswordMismatch)
	assert.ErrorIs(t, hasher.Compare(ctx, "", "anything"), ErrPasswordMismatch)

	_, err = NewBcryptHasher(100)
	assert.Error(t, err)
}
