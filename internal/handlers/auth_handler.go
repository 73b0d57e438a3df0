package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go-dashboard/internal/auth"
	"go-dashboard/internal/config"
	"go-dashboard/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuthHandler implements wallet-signature login: the client requests a
// one-shot nonce, signs the login message containing it and trades the
// signature for a session token.
type AuthHandler struct {
	db     *gorm.DB
	jwt    *auth.JWTManager
	cfg    config.AuthConfig
	logger *logrus.Logger
}

// NewAuthHandler creates the handler.
func NewAuthHandler(db *gorm.DB, jwt *auth.JWTManager, cfg config.AuthConfig, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt, cfg: cfg, logger: logger}
}

type nonceRequest struct {
	Address string `json:"address" binding:"required"`
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// LoginMessage builds the exact text the wallet must sign.
func (h *AuthHandler) LoginMessage(nonce string) string {
	return fmt.Sprintf("%s\nnonce: %s", h.cfg.LoginMessage, nonce)
}

// GenerateNonceHandler issues a one-shot nonce for the address.
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	var req nonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
		})
		return
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate nonce",
			"code":    "NONCE_GENERATION_FAILED",
		})
		return
	}
	nonce := hex.EncodeToString(raw)

	ttl := 300
	if h.cfg.NonceTTL > 0 {
		ttl = h.cfg.NonceTTL
	}
	record := models.AuthNonce{
		Address:   strings.ToLower(req.Address),
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(time.Duration(ttl) * time.Second),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&record).Error; err != nil {
		h.logger.WithError(err).Error("failed to persist auth nonce")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to persist nonce",
			"code":    "NONCE_STORE_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"nonce":   nonce,
		"message": h.LoginMessage(nonce),
		"expires": record.ExpiresAt.Unix(),
	})
}

// AuthenticateHandler verifies the signed login message and issues a session
// token. The nonce is consumed whether or not verification succeeds.
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
		})
		return
	}

	address := strings.ToLower(req.Address)
	ctx := c.Request.Context()

	var record models.AuthNonce
	err := h.db.WithContext(ctx).
		Where("address = ? AND nonce = ?", address, req.Nonce).
		First(&record).Error
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Unknown nonce",
			"code":    "UNKNOWN_NONCE",
		})
		return
	}

	h.db.WithContext(ctx).Delete(&record)

	if time.Now().After(record.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Nonce expired",
			"code":    "NONCE_EXPIRED",
		})
		return
	}

	if err := auth.VerifyPersonalSignature(req.Address, h.LoginMessage(req.Nonce), req.Signature); err != nil {
		h.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err.Error(),
		}).Warn("login signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Signature verification failed",
			"code":    "INVALID_SIGNATURE",
		})
		return
	}

	token, err := h.jwt.Generate(address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to issue token",
			"code":    "TOKEN_ISSUE_FAILED",
		})
		return
	}

	h.logger.WithField("address", address).Info("account authenticated")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"address": address,
	})
}
