package router

import (
	"net/http"
	"strconv"
	"strings"

	"go-dashboard/internal/config"
	"go-dashboard/internal/handlers"
	"go-dashboard/internal/middleware"
	"go-dashboard/internal/rbac"
	"go-dashboard/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Balances  *handlers.BalanceHandler
	Withdraw  *handlers.WithdrawHandler
	Payments  *handlers.PaymentHistoryHandler
	Settings  *handlers.SettingsHandler
	Team      *handlers.TeamHandler
	WebSocket *handlers.WebSocketHandler
}

// corsMiddleware applies the configured origin allow-list. An empty list
// allows every origin.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	maxAge := 3600
	if cfg.MaxAge > 0 {
		maxAge = cfg.MaxAge
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if len(cfg.AllowedOrigins) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range cfg.AllowedOrigins {
				if strings.EqualFold(strings.TrimSpace(allowed), origin) {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept, Authorization")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter wires all routes with their permission gates.
func SetupRouter(cfg *config.Config, authMW *middleware.AuthMiddleware, teams repository.TeamRepository, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.CORS))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Socket auth happens inside the handler: the token rides in the query.
	r.GET("/ws", h.WebSocket.ConnectHandler)

	v1 := r.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/nonce", h.Auth.GenerateNonceHandler)
		authGroup.POST("/login", h.Auth.AuthenticateHandler)
	}

	protected := v1.Group("")
	protected.Use(authMW.RequireAuth())

	balances := protected.Group("/balances")
	balances.Use(middleware.RequirePermission(teams, rbac.PermissionView, rbac.KeyBalances))
	{
		balances.GET("/:network", h.Balances.GetBalancesHandler)
		balances.GET("/:network/gateway", h.Balances.GetGatewayBalanceHandler)
		balances.POST("/:network/convert", h.Balances.ConvertCurrencyHandler)
	}

	withdrawals := protected.Group("/withdrawals")
	{
		write := withdrawals.Group("")
		write.Use(middleware.RequirePermission(teams, rbac.PermissionModify, rbac.KeyWithdrawals))
		{
			write.POST("/native", h.Withdraw.WithdrawNativeHandler)
			write.POST("/token", h.Withdraw.WithdrawTokenHandler)
			write.POST("/all", h.Withdraw.WithdrawAllHandler)
			write.POST("/gateway", h.Withdraw.WithdrawGatewayHandler)
		}

		read := withdrawals.Group("")
		read.Use(middleware.RequirePermission(teams, rbac.PermissionView, rbac.KeyWithdrawals))
		{
			read.GET("/:id", h.Withdraw.StatusHandler)
		}
	}

	payments := protected.Group("/payments")
	{
		view := payments.Group("")
		view.Use(middleware.RequirePermission(teams, rbac.PermissionView, rbac.KeyPayments))
		{
			view.POST("/filter", h.Payments.SetFilterHandler)
			view.POST("/next", h.Payments.LoadNextHandler)
			view.POST("/reload", h.Payments.ReloadHandler)
			view.GET("", h.Payments.SnapshotHandler)
		}

		export := payments.Group("")
		export.Use(middleware.RequirePermission(teams, rbac.PermissionView, rbac.KeyPaymentExport, rbac.KeyPayments))
		{
			export.GET("/export", h.Payments.ExportCSVHandler)
		}
	}

	settings := protected.Group("/settings")
	{
		read := settings.Group("")
		read.Use(middleware.RequirePermission(teams, rbac.PermissionView, rbac.KeySettings))
		{
			read.GET("", h.Settings.GetSettingsHandler)
		}

		write := settings.Group("")
		write.Use(middleware.RequirePermission(teams, rbac.PermissionModify, rbac.KeySettings))
		{
			write.PUT("/currency", h.Settings.SetCurrencyHandler)
			write.POST("/totp/setup", h.Settings.SetupTOTPHandler)
			write.POST("/totp/enable", h.Settings.EnableTOTPHandler)
			write.POST("/totp/disable", h.Settings.DisableTOTPHandler)
		}
	}

	team := protected.Group("/team")
	team.Use(middleware.RequireOwner(teams))
	{
		team.GET("/members", h.Team.ListMembersHandler)
		team.POST("/members", h.Team.UpsertMemberHandler)
		team.DELETE("/members/:member", h.Team.RemoveMemberHandler)
	}

	return r
}
