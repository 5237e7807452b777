package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/analysis"
	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/services"
	appErrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/logger"
	"github.com/fieldatlas/fieldatlas/pkg/metrics"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// AnalysisHandler proxies land-cover-change analyses to the external backend
// and keeps a per-user request history.
type AnalysisHandler struct {
	client   *analysis.Client
	listings *services.ListingService
	db       *gorm.DB
}

func NewAnalysisHandler(client *analysis.Client, listings *services.ListingService, db *gorm.DB) *AnalysisHandler {
	return &AnalysisHandler{client: client, listings: listings, db: db}
}

type analyzeRequest struct {
	ListingID string          `json:"listing_id" validate:"omitempty,uuid4"`
	GeoJSON   json.RawMessage `json:"geojson"`
	Year1     int             `json:"year1" validate:"required,gte=2001"`
	Year2     int             `json:"year2" validate:"required,gte=2001,gtefield=Year1"`
}

// POST /api/analysis
//
// The polygon comes either inline or from a listing's stored boundary. The
// backend's ZIP archive is streamed through without buffering or inspection.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.client == nil {
		response.Error(c, appErrors.New("ANALYSIS_DISABLED", "Analysis backend is not configured", http.StatusServiceUnavailable))
		return
	}

	var req analyzeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	geojson := req.GeoJSON
	var listingID *string
	if req.ListingID != "" {
		listing, err := h.listings.GetByID(ctx, req.ListingID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if len(geojson) == 0 {
			geojson = json.RawMessage(listing.Geometry)
		}
		listingID = &listing.ID
	}
	if len(geojson) == 0 {
		response.Error(c, appErrors.NewBadRequest("geojson or a listing with a stored boundary is required"))
		return
	}

	result, err := h.client.Analyze(ctx, analysis.Request{
		GeoJSON: geojson,
		Year1:   req.Year1,
		Year2:   req.Year2,
	})

	record := models.AnalysisRequest{
		RequestedBy: userID,
		ListingID:   listingID,
		Geometry:    datatypes.JSON(geojson),
		Year1:       req.Year1,
		Year2:       req.Year2,
		Status:      models.AnalysisSucceeded,
	}

	if err != nil {
		record.Status = models.AnalysisFailed
		record.Detail = err.Error()
		h.saveRecord(ctx, &record)
		metrics.AnalysisRequests.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.New("ANALYSIS_FAILED", "Analysis request failed", http.StatusBadGateway).WithInternal(err))
		return
	}
	defer result.Body.Close()

	h.saveRecord(ctx, &record)
	metrics.AnalysisRequests.WithLabelValues("success").Inc()

	c.Header("Content-Type", result.ContentType)
	c.Header("Content-Disposition", `attachment; filename="analysis_results.zip"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, result.Body); err != nil {
		// Headers are already out; all we can do is log the broken stream.
		logger.WithModule("analysis").Warn("result stream interrupted", zap.Error(err))
	}
}

// GET /api/analysis/history
func (h *AnalysisHandler) History(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := h.db.WithContext(requestContext(c)).Model(&models.AnalysisRequest{}).
		Where("requested_by = ?", claims.UserID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	var records []models.AnalysisRequest
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&records).Error
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, records, paginationMeta(page, perPage, total))
}

func (h *AnalysisHandler) saveRecord(ctx context.Context, record *models.AnalysisRequest) {
	if err := h.db.WithContext(ctx).Create(record).Error; err != nil {
		logger.WithModule("analysis").Warn("history write failed", zap.Error(err))
	}
}
