package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/auth/providers"
	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/pkg/crypto"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/logger"
	"github.com/fieldatlas/fieldatlas/pkg/metrics"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

const oauthStateCookie = "oauth_state"

// ProviderHandler drives the OIDC auth-code flow. It is only mounted when a
// provider is configured.
type ProviderHandler struct {
	provider     *providers.OIDCProvider
	sessions     *iauth.SessionService
	cookieSecure bool
}

func NewProviderHandler(provider *providers.OIDCProvider, sessions *iauth.SessionService, cookieSecure bool) *ProviderHandler {
	return &ProviderHandler{provider: provider, sessions: sessions, cookieSecure: cookieSecure}
}

// GET /api/auth/oauth/start
func (h *ProviderHandler) Start(c *gin.Context) {
	state, err := crypto.GenerateToken(24)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/", "", h.cookieSecure, true)
	c.Redirect(http.StatusFound, h.provider.AuthURL(state))
}

// GET /api/auth/oauth/callback
func (h *ProviderHandler) Callback(c *gin.Context) {
	state := c.Query("state")
	expected, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != expected {
		response.Error(c, appErrors.NewBadRequest("oauth state mismatch"))
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", h.cookieSecure, true)

	code := c.Query("code")
	if code == "" {
		response.Error(c, appErrors.NewBadRequest("missing authorization code"))
		return
	}

	ctx := requestContext(c)

	identity, err := h.provider.Exchange(ctx, code)
	if err != nil {
		logger.WithModule("oauth").Warn("code exchange failed", zap.Error(err))
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.provider.ResolveUser(ctx, identity)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	if !user.Active() {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrAccountLocked)
		return
	}

	pair, _, err := h.sessions.CreateSession(ctx, user.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken, int(iauth.DefaultAccessTokenTTL.Seconds()), "/", "", h.cookieSecure, true)

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		"user":   toUserDTO(user.ID, user.Email, user.Name, user.Role, user.Verified(), user.Active()),
	})
}
