package handlers

import (
	"net/http"
	"strings"

	"go-dashboard/internal/middleware"
	"go-dashboard/internal/models"
	"go-dashboard/internal/rbac"
	"go-dashboard/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TeamHandler manages delegated access to an account. All routes are
// owner-gated by the router.
type TeamHandler struct {
	teams  repository.TeamRepository
	logger *logrus.Logger
}

// NewTeamHandler creates the handler.
func NewTeamHandler(teams repository.TeamRepository, logger *logrus.Logger) *TeamHandler {
	return &TeamHandler{teams: teams, logger: logger}
}

// ListMembersHandler returns every delegate of the account.
func (h *TeamHandler) ListMembersHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	members, err := h.teams.ListMembers(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list team members",
			"code":    "TEAM_LOOKUP_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"members": members,
	})
}

type upsertMemberRequest struct {
	MemberAddress string            `json:"member_address" binding:"required"`
	Name          string            `json:"name"`
	Permissions   map[string]string `json:"permissions" binding:"required"`
}

// UpsertMemberHandler creates or updates a delegate's permission map.
// Unknown permission levels parse as disabled, never as an elevated level.
func (h *TeamHandler) UpsertMemberHandler(c *gin.Context) {
	var req upsertMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	account := c.GetString(middleware.CtxAccountAddress)
	member := strings.ToLower(req.MemberAddress)
	if member == account {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "The owner already has full access",
			"code":    "OWNER_SELF_GRANT",
		})
		return
	}

	permissions := make(map[rbac.PermissionKey]rbac.Permission, len(req.Permissions))
	for key, level := range req.Permissions {
		permissions[rbac.PermissionKey(key)] = rbac.ParsePermission(level)
	}
	encoded, err := repository.EncodePermissions(permissions)
	if err != nil {
		badRequest(c)
		return
	}

	record := &models.TeamMember{
		AccountAddress: account,
		MemberAddress:  member,
		Name:           req.Name,
		Permissions:    encoded,
	}
	if err := h.teams.UpsertMember(c.Request.Context(), record); err != nil {
		h.logger.WithError(err).Error("team member upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to save team member",
			"code":    "TEAM_UPDATE_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"member":  record,
	})
}

// RemoveMemberHandler revokes a delegate entirely.
func (h *TeamHandler) RemoveMemberHandler(c *gin.Context) {
	account := c.GetString(middleware.CtxAccountAddress)
	member := strings.ToLower(c.Param("member"))

	if err := h.teams.RemoveMember(c.Request.Context(), account, member); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to remove team member",
			"code":    "TEAM_UPDATE_FAILED",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account": account,
		"member":  member,
	}).Info("team member removed")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}
