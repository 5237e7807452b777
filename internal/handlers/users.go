package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/internal/services"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// UserHandler exposes account administration. Every route sits behind the
// admin role floor.
type UserHandler struct {
	users    *services.UserService
	sessions *iauth.SessionService
}

func NewUserHandler(users *services.UserService, sessions *iauth.SessionService) *UserHandler {
	return &UserHandler{users: users, sessions: sessions}
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	users, total, err := h.users.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.UserFilters{
			Role:  c.Query("role"),
			Query: c.Query("q"),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	dtos := make([]userDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u.ID, u.Email, u.Name, u.Role, u.Verified(), u.Active()))
	}

	response.SuccessWithMeta(c, http.StatusOK, dtos, paginationMeta(page, perPage, total))
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, toUserDTO(user.ID, user.Email, user.Name, user.Role, user.Verified(), user.Active()))
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// PUT /api/users/:id/role
func (h *UserHandler) SetRole(c *gin.Context) {
	var req setRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	id := c.Param("id")
	if id == c.GetString(middleware.CtxUserIDKey) {
		response.Error(c, appErrors.NewBadRequest("cannot change your own role"))
		return
	}

	if err := h.users.SetRole(requestContext(c), id, roles.Role(req.Role)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "role": req.Role})
}

// DELETE /api/users/:id
//
// Soft delete: the account is locked out but its rows remain for history, and
// the email stays reserved. Live sessions are revoked; already-issued access
// tokens run out their short TTL carrying the deleted flag stale.
func (h *UserHandler) Deactivate(c *gin.Context) {
	id := c.Param("id")
	if id == c.GetString(middleware.CtxUserIDKey) {
		response.Error(c, appErrors.NewBadRequest("cannot deactivate your own account"))
		return
	}

	ctx := requestContext(c)
	if err := h.users.SoftDelete(ctx, id); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.sessions.RevokeUserSessions(ctx, id); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}

// DELETE /api/users/:id/purge
func (h *UserHandler) Purge(c *gin.Context) {
	id := c.Param("id")
	if id == c.GetString(middleware.CtxUserIDKey) {
		response.Error(c, appErrors.NewBadRequest("cannot purge your own account"))
		return
	}

	if err := h.users.HardDelete(requestContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"purged": true})
}

func paginationMeta(page, perPage int, total int64) *response.Meta {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	return &response.Meta{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}
