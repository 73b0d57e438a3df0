package handlers

import (
	"errors"
	"math/big"
	"net/http"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/middleware"
	"go-dashboard/internal/repository"
	"go-dashboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// WithdrawHandler starts custody withdrawals and reports their progress.
// Withdrawals run asynchronously: the response carries a withdrawal id the
// client polls or receives push updates for. Gateway-side balance payouts
// are delegated to the upstream ledger instead of the custody contract.
type WithdrawHandler struct {
	withdrawals *services.WithdrawalService
	ledger      clients.LedgerAPI
	settings    repository.SettingsRepository
	logger      *logrus.Logger
}

// NewWithdrawHandler creates the handler.
func NewWithdrawHandler(withdrawals *services.WithdrawalService, ledger clients.LedgerAPI, settings repository.SettingsRepository, logger *logrus.Logger) *WithdrawHandler {
	return &WithdrawHandler{withdrawals: withdrawals, ledger: ledger, settings: settings, logger: logger}
}

type nativeWithdrawRequest struct {
	Network   string `json:"network" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"` // base units
	TOTPCode  string `json:"totp_code"`
}

type tokenWithdrawRequest struct {
	Network      string `json:"network" binding:"required"`
	Recipient    string `json:"recipient" binding:"required"`
	TokenAddress string `json:"token_address" binding:"required"`
	Amount       string `json:"amount" binding:"required"` // base units
	TOTPCode     string `json:"totp_code"`
}

type batchWithdrawRequest struct {
	Network   string `json:"network" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	TOTPCode  string `json:"totp_code"`
}

type gatewayWithdrawRequest struct {
	Network  string `json:"network" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Amount   string `json:"amount"` // base units, empty withdraws the full balance
	TOTPCode string `json:"totp_code"`
}

// requireTOTP enforces the account's second factor when it is enabled.
// Returns false after writing the error response.
func (h *WithdrawHandler) requireTOTP(c *gin.Context, account, code string) bool {
	prefs, err := h.settings.Get(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to load account settings",
			"code":    "SETTINGS_LOOKUP_FAILED",
		})
		return false
	}
	if !prefs.TOTPEnabled {
		return true
	}
	if code == "" || !totp.Validate(code, prefs.TOTPSecret) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Invalid or missing TOTP code",
			"code":    "TOTP_REQUIRED",
		})
		return false
	}
	return true
}

func parseBaseAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

// WithdrawNativeHandler starts a single native-asset withdrawal.
func (h *WithdrawHandler) WithdrawNativeHandler(c *gin.Context) {
	var req nativeWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	account := c.GetString(middleware.CtxAccountAddress)
	if !h.requireTOTP(c, account, req.TOTPCode) {
		return
	}

	amount, ok := parseBaseAmount(req.Amount)
	if !ok {
		badRequest(c)
		return
	}

	id, err := h.withdrawals.WithdrawNative(c.Request.Context(), account, req.Network, req.Recipient, amount)
	h.respondStarted(c, account, req.Network, id, err)
}

// WithdrawTokenHandler starts a single token withdrawal.
func (h *WithdrawHandler) WithdrawTokenHandler(c *gin.Context) {
	var req tokenWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	account := c.GetString(middleware.CtxAccountAddress)
	if !h.requireTOTP(c, account, req.TOTPCode) {
		return
	}

	amount, ok := parseBaseAmount(req.Amount)
	if !ok {
		badRequest(c)
		return
	}

	id, err := h.withdrawals.WithdrawToken(c.Request.Context(), account, req.Network, req.Recipient, req.TokenAddress, amount)
	h.respondStarted(c, account, req.Network, id, err)
}

// WithdrawAllHandler starts a batch withdrawal of every non-zero balance on
// the network to one recipient.
func (h *WithdrawHandler) WithdrawAllHandler(c *gin.Context) {
	var req batchWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	account := c.GetString(middleware.CtxAccountAddress)
	if !h.requireTOTP(c, account, req.TOTPCode) {
		return
	}

	id, err := h.withdrawals.WithdrawAll(c.Request.Context(), account, req.Network, req.Recipient)
	h.respondStarted(c, account, req.Network, id, err)
}

// WithdrawGatewayHandler asks the upstream ledger to pay out the account's
// gateway-side balance. The response carries a localizable status code and
// args alongside the transaction id.
func (h *WithdrawHandler) WithdrawGatewayHandler(c *gin.Context) {
	var req gatewayWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)
	if !h.requireTOTP(c, account, req.TOTPCode) {
		return
	}
	if req.Amount != "" {
		if _, ok := parseBaseAmount(req.Amount); !ok {
			badRequest(c)
			return
		}
	}

	resp, err := h.ledger.Withdraw(c.Request.Context(), authToken, &clients.WithdrawAPIRequest{
		Chain:   req.Network,
		Address: req.Address,
		Amount:  req.Amount,
	})
	if err != nil {
		respondUpstreamError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account": account,
		"network": req.Network,
		"tx_id":   resp.TxID,
	}).Info("gateway withdrawal accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"tx_id":   resp.TxID,
		"code":    resp.Code,
		"args":    resp.Args,
	})
}

// StatusHandler reports the write state of one withdrawal.
func (h *WithdrawHandler) StatusHandler(c *gin.Context) {
	status, ok := h.withdrawals.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Unknown withdrawal",
			"code":    "WITHDRAWAL_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  status,
	})
}

func (h *WithdrawHandler) respondStarted(c *gin.Context, account, network, id string, err error) {
	if err != nil {
		// An empty selection is a guarded no-op, not a failure.
		if errors.Is(err, services.ErrNothingToWithdraw) {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"started": false,
				"code":    "NOTHING_TO_WITHDRAW",
			})
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"account": account,
			"network": network,
		}).Error("withdrawal rejected")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "WITHDRAWAL_REJECTED",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":       true,
		"started":       true,
		"withdrawal_id": id,
	})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Invalid request body",
		"code":    "INVALID_REQUEST",
	})
}
