package models

import "time"

// AccountSettings per-account dashboard preferences, keyed by the owner's
// wallet address. DisplayCurrency drives valuation of every view; the TOTP
// fields gate withdrawal endpoints when enabled.
type AccountSettings struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	AccountAddress  string    `gorm:"type:varchar(66);uniqueIndex;not null" json:"account_address"`
	DisplayCurrency string    `gorm:"type:varchar(8);not null;default:'USD'" json:"display_currency"`
	TOTPEnabled     bool      `gorm:"not null;default:false" json:"totp_enabled"`
	TOTPSecret      string    `gorm:"type:varchar(64)" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName keeps the table name stable across gorm upgrades
func (AccountSettings) TableName() string {
	return "account_settings"
}

// TeamMember grants a wallet address a permission map on someone else's
// account. Permissions is a JSON object of permission key -> level name
// ("disable" | "view" | "modify"); keys absent from the object are disabled.
type TeamMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AccountAddress string    `gorm:"type:varchar(66);index:idx_team_account_member,unique;not null" json:"account_address"`
	MemberAddress  string    `gorm:"type:varchar(66);index:idx_team_account_member,unique;not null" json:"member_address"`
	Name           string    `gorm:"type:varchar(100)" json:"name"`
	Permissions    string    `gorm:"type:jsonb;not null;default:'{}'" json:"permissions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (TeamMember) TableName() string {
	return "team_members"
}

// AuthNonce one-shot login nonce for wallet-signature authentication
type AuthNonce struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Address   string    `gorm:"type:varchar(66);index;not null" json:"address"`
	Nonce     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"nonce"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (AuthNonce) TableName() string {
	return "auth_nonces"
}
