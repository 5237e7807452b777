package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/services"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/metrics"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// AuthHandler manages the credential lifecycle: registration, sign-in and
// sign-out, token refresh, email verification, and password recovery.
type AuthHandler struct {
	authenticator *iauth.Authenticator
	sessions      *iauth.SessionService
	users         *services.UserService
	tokens        *services.TokenService
	cookieSecure  bool
}

// NewAuthHandler wires the credential flows. cookieSecure marks the access
// cookie Secure, which production deployments behind TLS should enable.
func NewAuthHandler(
	authenticator *iauth.Authenticator,
	sessions *iauth.SessionService,
	users *services.UserService,
	tokens *services.TokenService,
	cookieSecure bool,
) *AuthHandler {
	return &AuthHandler{
		authenticator: authenticator,
		sessions:      sessions,
		users:         users,
		tokens:        tokens,
		cookieSecure:  cookieSecure,
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type userDTO struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
	Active   bool   `json:"active"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	user, err := h.users.Create(ctx, services.CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// Verification is mandatory before sign-in; the link goes out by email.
	if _, err := h.tokens.Issue(ctx, services.IssueInput{
		Kind:  services.TokenEmailVerification,
		Email: user.Email,
	}); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user":    toUserDTO(user.ID, user.Email, user.Name, user.Role, false, true),
		"message": "verification email sent",
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	user, err := h.authenticator.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
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
	h.setAccessCookie(c, pair.AccessToken)

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		"user":   toUserDTO(user.ID, user.Email, user.Name, user.Role, user.Verified(), user.Active()),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), req.RefreshToken)
	if err != nil {
		// All refresh failures collapse to 401: the token is unusable either way.
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	h.setAccessCookie(c, pair.AccessToken)
	response.Success(c, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	session, err := h.sessions.RevokeByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, iauth.ErrSessionNotFound) || errors.Is(err, iauth.ErrSessionInvalidToken) {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	h.authenticator.RecordSignOut(ctx, session.UserID)
	h.clearAccessCookie(c)
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, toUserDTO(user.ID, user.Email, user.Name, user.Role, user.Verified(), user.Active()))
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/auth/verify
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	consumed, err := h.tokens.Consume(ctx, services.TokenEmailVerification, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	user, err := h.users.GetByEmail(ctx, consumed.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.users.MarkVerified(ctx, user.ID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verified": true, "email": consumed.Email})
}

type resetRequestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/reset/request
//
// The response is identical whether or not an account exists for the address,
// so the endpoint cannot be used to enumerate accounts.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req resetRequestRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	user, err := h.users.GetByEmail(ctx, req.Email)
	if err == nil && user.Active() {
		if _, issueErr := h.tokens.Issue(ctx, services.IssueInput{
			Kind:  services.TokenPasswordReset,
			Email: user.Email,
		}); issueErr != nil {
			response.Error(c, appErrors.ErrInternalServer.WithInternal(issueErr))
			return
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "if an account exists for this address, a reset email has been sent",
	})
}

type resetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// POST /api/auth/reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req resetConfirmRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	consumed, err := h.tokens.Consume(ctx, services.TokenPasswordReset, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	user, err := h.users.GetByEmail(ctx, consumed.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.users.SetPassword(ctx, user.ID, req.Password); err != nil {
		response.Error(c, err)
		return
	}

	// A reset proves control of the mailbox, so existing sessions are
	// assumed compromised and revoked.
	if err := h.sessions.RevokeUserSessions(ctx, user.ID); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

func (h *AuthHandler) setAccessCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, token, int(iauth.DefaultAccessTokenTTL.Seconds()), "/", "", h.cookieSecure, true)
}

func (h *AuthHandler) clearAccessCookie(c *gin.Context) {
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", h.cookieSecure, true)
}

func toUserDTO(id, email, name, role string, verified, active bool) userDTO {
	return userDTO{
		ID:       id,
		Email:    strings.ToLower(email),
		Name:     name,
		Role:     role,
		Verified: verified,
		Active:   active,
	}
}
