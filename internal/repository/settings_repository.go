package repository

import (
	"context"
	"errors"
	"strings"

	"go-dashboard/internal/models"

	"gorm.io/gorm"
)

// SettingsRepository data access for per-account dashboard preferences
type SettingsRepository interface {
	// Get returns the account's settings, creating the default row on first
	// access so every account always has a display currency.
	Get(ctx context.Context, accountAddress string) (*models.AccountSettings, error)
	SetDisplayCurrency(ctx context.Context, accountAddress, currency string) error
	SetTOTP(ctx context.Context, accountAddress, secret string, enabled bool) error
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a SettingsRepository instance.
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context, accountAddress string) (*models.AccountSettings, error) {
	account := strings.ToLower(accountAddress)

	var settings models.AccountSettings
	err := r.db.WithContext(ctx).Where("account_address = ?", account).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.AccountSettings{
			AccountAddress:  account,
			DisplayCurrency: "USD",
		}
		if err := r.db.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepository) SetDisplayCurrency(ctx context.Context, accountAddress, currency string) error {
	return r.db.WithContext(ctx).
		Model(&models.AccountSettings{}).
		Where("account_address = ?", strings.ToLower(accountAddress)).
		Update("display_currency", strings.ToUpper(currency)).Error
}

func (r *settingsRepository) SetTOTP(ctx context.Context, accountAddress, secret string, enabled bool) error {
	return r.db.WithContext(ctx).
		Model(&models.AccountSettings{}).
		Where("account_address = ?", strings.ToLower(accountAddress)).
		Updates(map[string]interface{}{
			"totp_secret":  secret,
			"totp_enabled": enabled,
		}).Error
}
