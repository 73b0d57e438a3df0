package repository

import (
	"testing"

	"go-dashboard/internal/rbac"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsRoundTrip(t *testing.T) {
	in := map[rbac.PermissionKey]rbac.Permission{
		rbac.KeyBalances:    rbac.PermissionView,
		rbac.KeyWithdrawals: rbac.PermissionModify,
		rbac.KeyPayments:    rbac.PermissionDisable,
	}

	encoded, err := EncodePermissions(in)
	require.NoError(t, err)

	out, err := DecodePermissions(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodePermissionsEmptyAndMalformed(t *testing.T) {
	out, err := DecodePermissions("")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = DecodePermissions("{not json")
	assert.Error(t, err)
}

func TestDecodePermissionsUnknownLevelFailsClosed(t *testing.T) {
	out, err := DecodePermissions(`{"balances":"admin","payments":"view"}`)
	require.NoError(t, err)
	assert.Equal(t, rbac.PermissionDisable, out[rbac.KeyBalances])
	assert.Equal(t, rbac.PermissionView, out[rbac.KeyPayments])
}
