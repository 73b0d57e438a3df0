package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermissionFailsClosed(t *testing.T) {
	assert.False(t, HasPermission(nil, []PermissionKey{KeyBalances}, PermissionView))

	// Missing keys default to Disable.
	s := &Settings{Permissions: map[PermissionKey]Permission{}}
	assert.False(t, HasPermission(s, []PermissionKey{KeyBalances}, PermissionView))
}

func TestHasPermissionOwnerBypass(t *testing.T) {
	s := &Settings{IsOwner: true}

	// Owner is always allowed regardless of keys and required level.
	assert.True(t, HasPermission(s, nil, PermissionModify))
	assert.True(t, HasPermission(s, []PermissionKey{KeyTeam}, PermissionModify))
	assert.True(t, HasPermission(s, []PermissionKey{"does-not-exist"}, PermissionModify))
}

func TestHasPermissionOrdering(t *testing.T) {
	s := &Settings{Permissions: map[PermissionKey]Permission{
		KeyPayments: PermissionView,
	}}

	assert.True(t, HasPermission(s, []PermissionKey{KeyPayments}, PermissionView))
	assert.False(t, HasPermission(s, []PermissionKey{KeyPayments}, PermissionModify))

	s.Permissions[KeyPayments] = PermissionModify
	assert.True(t, HasPermission(s, []PermissionKey{KeyPayments}, PermissionView))
	assert.True(t, HasPermission(s, []PermissionKey{KeyPayments}, PermissionModify))
}

func TestHasPermissionOrAcrossKeys(t *testing.T) {
	s := &Settings{Permissions: map[PermissionKey]Permission{
		KeyPayments:      PermissionDisable,
		KeyPaymentExport: PermissionView,
	}}

	// One sufficient key unlocks a gate listing several.
	assert.True(t, HasPermission(s, []PermissionKey{KeyPayments, KeyPaymentExport}, PermissionView))
	assert.False(t, HasPermission(s, []PermissionKey{KeyPayments}, PermissionView))
	assert.False(t, HasPermission(s, []PermissionKey{KeyPayments, KeyPaymentExport}, PermissionModify))
}

func TestParsePermission(t *testing.T) {
	assert.Equal(t, PermissionView, ParsePermission("view"))
	assert.Equal(t, PermissionModify, ParsePermission("Modify"))
	assert.Equal(t, PermissionDisable, ParsePermission("disable"))
	assert.Equal(t, PermissionDisable, ParsePermission("whatever"))
	assert.Equal(t, PermissionDisable, ParsePermission(""))
}
