package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/internal/services"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// InviteHandler issues role-carrying invitations and redeems them into
// verified accounts.
type InviteHandler struct {
	tokens *services.TokenService
	users  *services.UserService
}

func NewInviteHandler(tokens *services.TokenService, users *services.UserService) *InviteHandler {
	return &InviteHandler{tokens: tokens, users: users}
}

type createInviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

// POST /api/invites
func (h *InviteHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if !roles.Valid(req.Role) {
		response.Error(c, appErrors.NewBadRequest("unknown role"))
		return
	}
	// Persist the canonical casing, not whatever the admin typed.
	role := roles.Parse(req.Role)

	token, err := h.tokens.Issue(requestContext(c), services.IssueInput{
		Kind:      services.TokenInvite,
		Email:     req.Email,
		Role:      role,
		InvitedBy: userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// The raw token is returned once so the admin can hand it over out of
	// band when email delivery is not configured.
	response.Success(c, http.StatusCreated, gin.H{
		"email": req.Email,
		"role":  string(role),
		"token": token,
	})
}

type acceptInviteRequest struct {
	Token    string `json:"token" validate:"required"`
	Name     string `json:"name" validate:"omitempty,max=128"`
	Password string `json:"password" validate:"required,min=8"`
}

// POST /api/invites/accept
func (h *InviteHandler) Accept(c *gin.Context) {
	var req acceptInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	consumed, err := h.tokens.Consume(ctx, services.TokenInvite, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	// Accepting an invite implies control of the mailbox, so the account is
	// created (or upgraded) already verified.
	existing, err := h.users.GetByEmail(ctx, consumed.Email)
	switch {
	case err == nil:
		if err := h.users.SetPassword(ctx, existing.ID, req.Password); err != nil {
			response.Error(c, err)
			return
		}
		if err := h.users.SetRole(ctx, existing.ID, consumed.Role); err != nil {
			response.Error(c, err)
			return
		}
		if err := h.users.MarkVerified(ctx, existing.ID); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"user":    toUserDTO(existing.ID, existing.Email, existing.Name, string(consumed.Role), true, existing.Active()),
			"created": false,
		})
	case errors.Is(err, services.ErrUserNotFound):
		user, createErr := h.users.Create(ctx, services.CreateUserInput{
			Email:    consumed.Email,
			Name:     req.Name,
			Password: req.Password,
			Role:     consumed.Role,
			Verified: true,
		})
		if createErr != nil {
			response.Error(c, createErr)
			return
		}
		response.Success(c, http.StatusCreated, gin.H{
			"user":    toUserDTO(user.ID, user.Email, user.Name, user.Role, true, true),
			"created": true,
		})
	default:
		response.Error(c, err)
	}
}
