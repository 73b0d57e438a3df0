package handlers

import (
	"encoding/csv"
	"errors"
	"net/http"

	"go-dashboard/internal/clients"
	"go-dashboard/internal/middleware"
	"go-dashboard/internal/models"
	"go-dashboard/internal/repository"
	"go-dashboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PaymentHistoryHandler exposes the ledger query engine over HTTP.
type PaymentHistoryHandler struct {
	engine   *services.PaymentQueryService
	settings repository.SettingsRepository
	logger   *logrus.Logger
}

// NewPaymentHistoryHandler creates the handler.
func NewPaymentHistoryHandler(engine *services.PaymentQueryService, settings repository.SettingsRepository, logger *logrus.Logger) *PaymentHistoryHandler {
	return &PaymentHistoryHandler{engine: engine, settings: settings, logger: logger}
}

func (h *PaymentHistoryHandler) currency(c *gin.Context, account string) string {
	if prefs, err := h.settings.Get(c.Request.Context(), account); err == nil {
		return prefs.DisplayCurrency
	}
	return "USD"
}

// SetFilterHandler applies a filter and returns the first page. Re-applying
// a filter equal by value returns the current view without refetching.
func (h *PaymentHistoryHandler) SetFilterHandler(c *gin.Context) {
	var filter models.PaymentFilter
	if err := c.ShouldBindJSON(&filter); err != nil {
		badRequest(c)
		return
	}

	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)

	snap, err := h.engine.SetFilter(c.Request.Context(), authToken, account, h.currency(c, account), filter)
	h.respond(c, snap, err)
}

// LoadNextHandler appends the next page of the current filter.
func (h *PaymentHistoryHandler) LoadNextHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)

	snap, err := h.engine.LoadNext(c.Request.Context(), authToken, account)
	h.respond(c, snap, err)
}

// ReloadHandler refetches every loaded page of the current filter from the
// beginning.
func (h *PaymentHistoryHandler) ReloadHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)

	snap, err := h.engine.Reload(c.Request.Context(), authToken, account)
	h.respond(c, snap, err)
}

// SnapshotHandler returns the current view without fetching.
func (h *PaymentHistoryHandler) SnapshotHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"view":    h.engine.Snapshot(account),
	})
}

// ExportCSVHandler streams the unpaged export of the current filter.
func (h *PaymentHistoryHandler) ExportCSVHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	authToken := c.GetString(middleware.CtxAuthToken)

	rows, err := h.engine.ExportCSV(c.Request.Context(), authToken, account)
	if err != nil {
		respondUpstreamError(c, h.logger, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="payments.csv"`)
	writer := csv.NewWriter(c.Writer)
	if err := writer.WriteAll(rows); err != nil {
		h.logger.WithError(err).Error("csv export write failed")
	}
}

func (h *PaymentHistoryHandler) respond(c *gin.Context, snap services.LedgerSnapshot, err error) {
	if err != nil {
		respondUpstreamError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"view":    snap,
	})
}

// respondUpstreamError maps upstream ledger failures onto the response
// envelope. An upstream auth rejection invalidates the whole session, so the
// client must log in again rather than retry.
func respondUpstreamError(c *gin.Context, logger *logrus.Logger, err error) {
	if errors.Is(err, clients.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Session expired",
			"code":    "SESSION_EXPIRED",
		})
		return
	}

	var svcErr *clients.ServiceError
	if errors.As(err, &svcErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   svcErr.Error(),
			"code":    svcErr.Code,
			"args":    svcErr.Args,
		})
		return
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"path": c.Request.URL.Path,
	}).Error("ledger query failed")
	c.JSON(http.StatusBadGateway, gin.H{
		"success": false,
		"error":   "Ledger query failed",
		"code":    "LEDGER_QUERY_FAILED",
	})
}
