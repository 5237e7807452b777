package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/services"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// ListingHandler exposes the land-parcel directory.
type ListingHandler struct {
	listings *services.ListingService
}

func NewListingHandler(listings *services.ListingService) *ListingHandler {
	return &ListingHandler{listings: listings}
}

type createListingRequest struct {
	Title       string         `json:"title" validate:"required,max=200"`
	Description string         `json:"description" validate:"omitempty,max=4000"`
	County      string         `json:"county" validate:"omitempty,max=128"`
	Acreage     float64        `json:"acreage" validate:"omitempty,gte=0"`
	Geometry    datatypes.JSON `json:"geometry"`
}

// POST /api/listings
func (h *ListingHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createListingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	listing, err := h.listings.Create(requestContext(c), services.CreateListingInput{
		Title:       req.Title,
		Description: req.Description,
		County:      req.County,
		Acreage:     req.Acreage,
		Geometry:    req.Geometry,
		OwnerID:     userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, listing)
}

// GET /api/listings
//
// Anonymous callers see published listings only; authenticated callers may
// widen the filter to their own drafts or, with the editor floor, any status.
func (h *ListingHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	filters := services.ListingFilters{
		Status:  c.Query("status"),
		County:  c.Query("county"),
		OwnerID: c.Query("owner_id"),
		Query:   c.Query("q"),
	}

	claims, authed := middleware.ClaimsFrom(c)
	switch {
	case !authed:
		filters.Status = models.ListingPublished
	case filters.Status != "" && filters.Status != models.ListingPublished:
		// Non-published statuses are visible to the owner and to editors.
		if !editorOr(claims, filters.OwnerID == claims.UserID) {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
	}

	listings, total, err := h.listings.List(requestContext(c), services.ListListingsOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, listings, paginationMeta(page, perPage, total))
}

// GET /api/listings/:id
func (h *ListingHandler) Get(c *gin.Context) {
	listing, err := h.listings.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if listing.Status != models.ListingPublished {
		claims, authed := middleware.ClaimsFrom(c)
		if !authed || !editorOr(claims, listing.OwnerID == claims.UserID) {
			response.Error(c, appErrors.ErrNotFound)
			return
		}
	}
	response.Success(c, http.StatusOK, listing)
}

type updateListingRequest struct {
	Title       *string        `json:"title" validate:"omitempty,max=200"`
	Description *string        `json:"description" validate:"omitempty,max=4000"`
	County      *string        `json:"county" validate:"omitempty,max=128"`
	Acreage     *float64       `json:"acreage" validate:"omitempty,gte=0"`
	Geometry    datatypes.JSON `json:"geometry"`
}

// PUT /api/listings/:id
func (h *ListingHandler) Update(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req updateListingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	listing, err := h.listings.Update(requestContext(c), c.Param("id"), claims.UserID, claims.ParsedRole(), services.UpdateListingInput{
		Title:       req.Title,
		Description: req.Description,
		County:      req.County,
		Acreage:     req.Acreage,
		Geometry:    req.Geometry,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, listing)
}

// POST /api/listings/:id/submit
func (h *ListingHandler) Submit(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if err := h.listings.Submit(requestContext(c), c.Param("id"), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "pending"})
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" validate:"omitempty,max=2000"`
}

// POST /api/listings/:id/review
func (h *ListingHandler) Review(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)

	var req reviewRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.listings.Review(requestContext(c), c.Param("id"), userID, req.Approve, req.Note); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reviewed": true})
}

// DELETE /api/listings/:id
func (h *ListingHandler) Delete(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.listings.Delete(requestContext(c), c.Param("id"), claims.UserID, claims.ParsedRole()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
