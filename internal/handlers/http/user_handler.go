package http

import (
	"net/http"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/services"
	"rolechat/internal/infrastructure/middleware"
	"rolechat/pkg/errors"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	directory *services.DirectoryService
	resources *services.ResourceResolver
}

func NewUserHandler(directory *services.DirectoryService, resources *services.ResourceResolver) *UserHandler {
	return &UserHandler{
		directory: directory,
		resources: resources,
	}
}

var userErrors = []errors.Mapping{
	{Target: domain.ErrUserNotFound, New: func(error) *errors.AppError { return errors.NewNotFoundError("User") }},
}

func (h *UserHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/users", h.ListUsers)
		api.GET("/users/me", h.GetCurrentUser)
		api.GET("/resource-instances", h.ListResourceInstances)
	}
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(c.Request.Context())
	if err != nil {
		c.Error(errors.NewBadGatewayError("failed to list users", err))
		return
	}
	if users == nil {
		users = []*domain.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetCurrentUser returns the caller with roles and session display fields.
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.directory.GetUser(c.Request.Context(), middleware.IdentityFromContext(c))
	if err != nil {
		c.Error(errors.Translate(err, userErrors, func(err error) *errors.AppError {
			return errors.NewBadGatewayError("failed to load user", err)
		}))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ListResourceInstances passes the authorization service's channel list
// through unchanged.
func (h *UserHandler) ListResourceInstances(c *gin.Context) {
	instances, err := h.resources.List(c.Request.Context())
	if err != nil {
		c.Error(errors.NewBadGatewayError("failed to list resource instances", err))
		return
	}
	if instances == nil {
		instances = []domain.ResourceInstance{}
	}
	c.JSON(http.StatusOK, instances)
}
