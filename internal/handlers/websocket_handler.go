package handlers

import (
	"net/http"

	"go-dashboard/internal/auth"
	"go-dashboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler upgrades dashboard sockets. Browsers cannot set headers on
// a websocket handshake, so the session token rides in the query string.
type WebSocketHandler struct {
	jwt    *auth.JWTManager
	push   *services.WebSocketPushService
	logger *logrus.Logger
}

// NewWebSocketHandler creates the handler.
func NewWebSocketHandler(jwt *auth.JWTManager, push *services.WebSocketPushService, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{jwt: jwt, push: push, logger: logger}
}

// ConnectHandler authenticates and hands the connection to the push service.
func (h *WebSocketHandler) ConnectHandler(c *gin.Context) {
	token := c.Query("token")
	claims, err := h.jwt.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid or expired token",
			"code":    "INVALID_TOKEN",
		})
		return
	}

	if err := h.push.HandleConnection(c.Writer, c.Request, claims.AccountAddress); err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
	}
}
