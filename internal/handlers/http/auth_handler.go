package http

import (
	"net/http"
	"strings"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/services"
	"rolechat/internal/infrastructure/middleware"
	"rolechat/pkg/errors"
	"rolechat/pkg/utils"
	"rolechat/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	sessions    *services.SessionService
	directory   *services.DirectoryService
	channelAuth *services.ChannelAuthService

	cookieName   string
	secureCookie bool
	devSignIn    bool
}

type AuthOptions struct {
	CookieName   string
	SecureCookie bool
	DevSignIn    bool
}

func NewAuthHandler(
	sessions *services.SessionService,
	directory *services.DirectoryService,
	channelAuth *services.ChannelAuthService,
	opts AuthOptions,
) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		directory:    directory,
		channelAuth:  channelAuth,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
		devSignIn:    opts.DevSignIn,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/api/ably", h.RealtimeToken)

	api := router.Group("/api/auth")
	{
		if h.devSignIn {
			api.POST("/signin", h.SignIn)
		}
		api.POST("/signout", h.SignOut)
	}
}

type SignInRequest struct {
	Email     string `json:"email" binding:"required,max=254"`
	Name      string `json:"name" binding:"max=100"`
	AvatarURL string `json:"avatar_url" binding:"max=2048"`
}

// A bad signing key is our misconfiguration, not an upstream failure.
var tokenErrors = []errors.Mapping{
	{Target: domain.ErrInvalidKeyMaterial, New: func(err error) *errors.AppError {
		return errors.WrapError(err, errors.ErrCodeInternal, "realtime signing key is not configured", http.StatusInternalServerError)
	}},
}

// RealtimeToken issues a realtime credential for the session's user. An
// anonymous caller gets an empty string rather than an error.
func (h *AuthHandler) RealtimeToken(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)

	token, err := h.channelAuth.IssueToken(c.Request.Context(), identity)
	if err != nil {
		c.Error(errors.Translate(err, tokenErrors, func(err error) *errors.AppError {
			return errors.NewBadGatewayError("failed to issue realtime token", err)
		}))
		return
	}
	if token == "" {
		c.JSON(http.StatusOK, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// SignIn registers the user with the authorization service and starts a
// session. It stands in for an external sign-in provider.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Email = utils.NormalizeEmail(req.Email)
	req.Name = utils.SanitizeString(req.Name)

	if err := validation.ValidateEmail(req.Email); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.AvatarURL != "" {
		if err := validation.ValidateURL(req.AvatarURL); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	first, last, _ := strings.Cut(req.Name, " ")
	user, err := h.directory.SyncUser(c.Request.Context(), domain.UserProfile{
		Key:       req.Email,
		Email:     req.Email,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
	})
	if err != nil {
		c.Error(errors.NewBadGatewayError("failed to register user", err))
		return
	}

	token, err := h.sessions.Issue(req.Email, req.Name, req.AvatarURL)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to create session", http.StatusInternalServerError))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, int(h.sessions.TTL().Seconds()), "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"token":      token,
		"expires_in": int(h.sessions.TTL().Seconds()),
	})
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}
