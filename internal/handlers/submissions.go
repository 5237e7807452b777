package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/services"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// SubmissionHandler exposes field-data submissions.
type SubmissionHandler struct {
	submissions *services.SubmissionService
}

func NewSubmissionHandler(submissions *services.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

type createSubmissionRequest struct {
	ListingID  string         `json:"listing_id" validate:"required,uuid4"`
	Attributes datatypes.JSON `json:"attributes"`
	Note       string         `json:"note" validate:"omitempty,max=2000"`
}

// POST /api/submissions
func (h *SubmissionHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createSubmissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	submission, err := h.submissions.Create(requestContext(c), services.CreateSubmissionInput{
		ListingID:   req.ListingID,
		SubmittedBy: userID,
		Attributes:  req.Attributes,
		Note:        req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, submission)
}

// GET /api/submissions
//
// Editors see the whole queue; everyone else sees only their own submissions.
func (h *SubmissionHandler) List(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	filters := services.SubmissionFilters{
		ListingID: c.Query("listing_id"),
		Status:    c.Query("status"),
	}
	if !editorOr(claims, false) {
		filters.SubmittedBy = claims.UserID
	} else {
		filters.SubmittedBy = c.Query("submitted_by")
	}

	submissions, total, err := h.submissions.List(requestContext(c), services.ListSubmissionsOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, submissions, paginationMeta(page, perPage, total))
}

// GET /api/submissions/:id
func (h *SubmissionHandler) Get(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	submission, err := h.submissions.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !editorOr(claims, submission.SubmittedBy == claims.UserID) {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, submission)
}

// POST /api/submissions/:id/review
func (h *SubmissionHandler) Review(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)

	var req reviewRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.submissions.Review(requestContext(c), c.Param("id"), userID, req.Approve, req.Note); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reviewed": true})
}
