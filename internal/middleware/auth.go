package middleware

import (
	"net/http"
	"strings"

	"go-dashboard/internal/auth"
	"go-dashboard/internal/rbac"
	"go-dashboard/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Context keys set by the middleware chain.
const (
	CtxActorAddress   = "actor_address"
	CtxAccountAddress = "account_address"
	CtxAuthToken      = "auth_token"
	CtxRBACSettings   = "rbac_settings"
)

// AuthMiddleware validates session tokens.
type AuthMiddleware struct {
	jwt    *auth.JWTManager
	logger *logrus.Logger
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(jwt *auth.JWTManager, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, logger: logger}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// actor address and raw token in the request context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentication required",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := a.jwt.Validate(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("session token rejected")

			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		c.Set(CtxActorAddress, strings.ToLower(claims.AccountAddress))
		c.Set(CtxAuthToken, tokenString)
		c.Next()
	}
}

// RequirePermission resolves the actor's role on the requested account and
// enforces the permission gate. The account is taken from the "account" query
// parameter and defaults to the actor's own account. An actor with no role at
// all resolves to nil settings, which fails closed.
func RequirePermission(teams repository.TeamRepository, required rbac.Permission, keys ...rbac.PermissionKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(CtxActorAddress)
		account := strings.ToLower(c.DefaultQuery("account", actor))

		settings, err := teams.ResolveSettings(c.Request.Context(), account, actor)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to resolve permissions",
				"code":    "PERMISSION_LOOKUP_FAILED",
			})
			c.Abort()
			return
		}

		if !rbac.HasPermission(settings, keys, required) {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Insufficient permissions",
				"code":    "FORBIDDEN",
			})
			c.Abort()
			return
		}

		c.Set(CtxAccountAddress, account)
		c.Set(CtxRBACSettings, settings)
		c.Next()
	}
}

// RequireOwner only lets the account owner through.
func RequireOwner(teams repository.TeamRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(CtxActorAddress)
		account := strings.ToLower(c.DefaultQuery("account", actor))

		settings, err := teams.ResolveSettings(c.Request.Context(), account, actor)
		if err != nil || settings == nil || !settings.IsOwner {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Owner access required",
				"code":    "OWNER_ONLY",
			})
			c.Abort()
			return
		}

		c.Set(CtxAccountAddress, account)
		c.Set(CtxRBACSettings, settings)
		c.Next()
	}
}
