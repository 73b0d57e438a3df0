package handlers

import (
	"net/http"
	"strings"

	"go-dashboard/internal/middleware"
	"go-dashboard/internal/repository"
	"go-dashboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// supportedCurrencies the display currencies the upstream ledger quotes.
var supportedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CNY": true, "KRW": true, "CHF": true, "AUD": true,
}

// SettingsHandler manages per-account preferences and the withdrawal TOTP
// second factor.
type SettingsHandler struct {
	settings repository.SettingsRepository
	engine   *services.PaymentQueryService
	logger   *logrus.Logger
}

// NewSettingsHandler creates the handler.
func NewSettingsHandler(settings repository.SettingsRepository, engine *services.PaymentQueryService, logger *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, engine: engine, logger: logger}
}

// GetSettingsHandler returns the account's preferences.
func (h *SettingsHandler) GetSettingsHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	prefs, err := h.settings.Get(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to load settings",
			"code":    "SETTINGS_LOOKUP_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"settings": prefs,
	})
}

type currencyRequest struct {
	Currency string `json:"currency" binding:"required"`
}

// SetCurrencyHandler switches the display currency. The ledger view session
// is dropped so the next query re-enriches in the new currency.
func (h *SettingsHandler) SetCurrencyHandler(c *gin.Context) {
	var req currencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	currency := strings.ToUpper(req.Currency)
	if !supportedCurrencies[currency] {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unsupported display currency",
			"code":    "UNSUPPORTED_CURRENCY",
		})
		return
	}

	account := c.GetString(middleware.CtxAccountAddress)
	if err := h.settings.SetDisplayCurrency(c.Request.Context(), account, currency); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to update currency",
			"code":    "SETTINGS_UPDATE_FAILED",
		})
		return
	}
	h.engine.DropSession(account)

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"currency": currency,
	})
}

// SetupTOTPHandler provisions a new TOTP secret, still disabled until the
// account confirms a valid code.
func (h *SettingsHandler) SetupTOTPHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "go-dashboard",
		AccountName: account,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
			"code":    "TOTP_SETUP_FAILED",
		})
		return
	}

	if err := h.settings.SetTOTP(c.Request.Context(), account, key.Secret(), false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to store TOTP secret",
			"code":    "TOTP_SETUP_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
	})
}

type totpCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// EnableTOTPHandler turns the second factor on after a valid confirmation
// code.
func (h *SettingsHandler) EnableTOTPHandler(c *gin.Context) {
	h.toggleTOTP(c, true)
}

// DisableTOTPHandler turns the second factor off; the secret is discarded.
func (h *SettingsHandler) DisableTOTPHandler(c *gin.Context) {
	h.toggleTOTP(c, false)
}

func (h *SettingsHandler) toggleTOTP(c *gin.Context, enable bool) {
	var req totpCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	account := c.GetString(middleware.CtxAccountAddress)
	prefs, err := h.settings.Get(c.Request.Context(), account)
	if err != nil || prefs.TOTPSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "No TOTP secret provisioned",
			"code":    "TOTP_NOT_PROVISIONED",
		})
		return
	}

	if !totp.Validate(req.Code, prefs.TOTPSecret) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Invalid TOTP code",
			"code":    "TOTP_INVALID",
		})
		return
	}

	secret := prefs.TOTPSecret
	if !enable {
		secret = ""
	}
	if err := h.settings.SetTOTP(c.Request.Context(), account, secret, enable); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to update TOTP state",
			"code":    "SETTINGS_UPDATE_FAILED",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account": account,
		"enabled": enable,
	}).Info("totp state changed")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"enabled": enable,
	})
}
