package http

import (
	"context"
	"net/http"

	"rolechat/internal/core/services"
	"rolechat/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const errMissingRoleParams = "User key or channel not provided"

type RoleHandler struct {
	workflow *services.RoleTransitionWorkflow
	logger   *zap.SugaredLogger
}

func NewRoleHandler(workflow *services.RoleTransitionWorkflow, logger *zap.SugaredLogger) *RoleHandler {
	return &RoleHandler{
		workflow: workflow,
		logger:   logger,
	}
}

func (h *RoleHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/roles")
	{
		api.GET("/promote", h.Promote)
		api.GET("/demote", h.Demote)
	}
}

type transitionFunc func(ctx context.Context, actorKey, userKey, channelToken string) (*services.TransitionResult, error)

// Promote grants moderator on ?channel=<prefix>:<key> to ?key=<user>.
func (h *RoleHandler) Promote(c *gin.Context) {
	h.transition(c, h.workflow.Promote)
}

// Demote reverses Promote.
func (h *RoleHandler) Demote(c *gin.Context) {
	h.transition(c, h.workflow.Demote)
}

// transition reports every failure as 400 {error}. A finished workflow is a
// 200 even when individual steps failed; callers inspect each step.
func (h *RoleHandler) transition(c *gin.Context, run transitionFunc) {
	key := c.Query("key")
	channel := c.Query("channel")
	if key == "" || channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingRoleParams})
		return
	}

	var actor string
	if identity := middleware.IdentityFromContext(c); identity != nil {
		actor = identity.Key
	}

	result, err := run(c.Request.Context(), actor, key, channel)
	if err != nil {
		h.logger.Infow("Role transition rejected",
			"actor", actor,
			"user", key,
			"channel", channel,
			"error", err,
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"data": result.Data()}
	if len(result.Compensations) > 0 {
		resp["compensations"] = result.Compensations
	}
	c.JSON(http.StatusOK, resp)
}
