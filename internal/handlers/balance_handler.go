package handlers

import (
	"errors"
	"net/http"

	"go-dashboard/internal/chain"
	"go-dashboard/internal/clients"
	"go-dashboard/internal/middleware"
	"go-dashboard/internal/repository"
	"go-dashboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BalanceHandler serves aggregated custody balances per network, the
// gateway-side account balance, and fiat-to-token conversion.
type BalanceHandler struct {
	balances *services.BalanceService
	catalog  *services.TokenCatalogService
	ledger   clients.LedgerAPI
	settings repository.SettingsRepository
	logger   *logrus.Logger
}

// NewBalanceHandler creates the handler.
func NewBalanceHandler(balances *services.BalanceService, catalog *services.TokenCatalogService, ledger clients.LedgerAPI, settings repository.SettingsRepository, logger *logrus.Logger) *BalanceHandler {
	return &BalanceHandler{balances: balances, catalog: catalog, ledger: ledger, settings: settings, logger: logger}
}

func (h *BalanceHandler) currency(c *gin.Context, account string) string {
	if prefs, err := h.settings.Get(c.Request.Context(), account); err == nil {
		return prefs.DisplayCurrency
	}
	return "USD"
}

// GetBalancesHandler returns every non-zero balance of the account on one
// network, valued in the account's display currency. A read already in
// flight for the same account and chain is reported as such instead of
// starting a second one.
func (h *BalanceHandler) GetBalancesHandler(c *gin.Context) {
	network := c.Param("network")
	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)
	currency := h.currency(c, account)

	views, err := h.balances.Balances(c.Request.Context(), authToken, network, account, currency)
	if err != nil {
		if errors.Is(err, chain.ErrReadInProgress) {
			c.JSON(http.StatusAccepted, gin.H{
				"success": false,
				"error":   "Balance read already in progress",
				"code":    "READ_IN_PROGRESS",
			})
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"network": network,
			"account": account,
		}).Error("balance aggregation failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Failed to read balances",
			"code":    "BALANCE_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"network":  network,
		"currency": currency,
		"balances": views,
	})
}

// GetGatewayBalanceHandler returns the account's balance held on the gateway
// side of one chain, as reported by the upstream ledger.
func (h *BalanceHandler) GetGatewayBalanceHandler(c *gin.Context) {
	network := c.Param("network")
	authToken := c.GetString(middleware.CtxAuthToken)

	balance, err := h.ledger.AccountBalance(c.Request.Context(), authToken, network)
	if err != nil {
		respondUpstreamError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"network": network,
		"balance": balance,
	})
}

type convertRequest struct {
	Symbol          string  `json:"symbol" binding:"required"`
	ContractAddress string  `json:"contract_address"`
	CurrencyAmount  float64 `json:"currency_amount" binding:"required,gt=0"`
}

// ConvertCurrencyHandler computes the token base-unit amount equivalent to a
// fiat figure the user typed in their display currency. A token with no USD
// quote converts to an unavailable result, not an error.
func (h *BalanceHandler) ConvertCurrencyHandler(c *gin.Context) {
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	network := c.Param("network")
	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)
	currency := h.currency(c, account)

	token, found := h.catalog.FindToken(network, req.Symbol, req.ContractAddress)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Unknown token",
			"code":    "TOKEN_NOT_FOUND",
		})
		return
	}

	base, ok, err := h.balances.EquivalentBaseAmount(c.Request.Context(), authToken, token, req.CurrencyAmount, currency)
	if err != nil {
		respondUpstreamError(c, h.logger, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"available": false,
			"currency":  currency,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"available":   true,
		"currency":    currency,
		"base_amount": base,
		"decimals":    token.Decimals,
	})
}
