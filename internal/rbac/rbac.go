package rbac

import "strings"

// Permission is the ordered grant level for a single resource key.
type Permission int

const (
	PermissionDisable Permission = iota
	PermissionView
	PermissionModify
)

// String returns the wire name used by the settings API and the database.
func (p Permission) String() string {
	switch p {
	case PermissionView:
		return "view"
	case PermissionModify:
		return "modify"
	default:
		return "disable"
	}
}

// ParsePermission maps a wire name back to a Permission. Unknown values fail
// closed to Disable.
func ParsePermission(s string) Permission {
	switch strings.ToLower(s) {
	case "view":
		return PermissionView
	case "modify":
		return PermissionModify
	default:
		return PermissionDisable
	}
}

// PermissionKey identifies a gated dashboard resource. Keeping this a fixed
// enum makes an unknown key a compile error instead of a silent Disable.
type PermissionKey string

const (
	KeyBalances       PermissionKey = "balances"
	KeyWithdrawals    PermissionKey = "withdrawals"
	KeyPayments       PermissionKey = "payments"
	KeyPaymentExport  PermissionKey = "payment_export"
	KeyTeam           PermissionKey = "team"
	KeySettings       PermissionKey = "settings"
	KeyAPICredentials PermissionKey = "api_credentials"
)

// Settings is an actor's resolved permission set for one account. Missing keys
// default to Disable; IsOwner bypasses every check.
type Settings struct {
	IsOwner      bool
	OwnerAddress string
	Permissions  map[PermissionKey]Permission
}

// HasPermission reports whether the actor may perform an action that requires
// the given level on ANY of the listed keys. The OR across keys is intentional:
// a page gated by several sub-resources is reachable if any one of them is
// granted. Nil settings fail closed.
func HasPermission(settings *Settings, keys []PermissionKey, required Permission) bool {
	if settings == nil {
		return false
	}
	if settings.IsOwner {
		return true
	}
	for _, key := range keys {
		if settings.Permissions[key] >= required {
			return true
		}
	}
	return false
}
