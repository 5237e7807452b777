package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/analysis"
	"github.com/fieldatlas/fieldatlas/pkg/response"
)

// HealthHandler reports process liveness plus dependency status.
type HealthHandler struct {
	db       *gorm.DB
	analysis *analysis.Client
}

func NewHealthHandler(db *gorm.DB, analysisClient *analysis.Client) *HealthHandler {
	return &HealthHandler{db: db, analysis: analysisClient}
}

// GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(requestContext(c))
	}
	if err != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.analysis != nil {
		ctx, cancel := contextWithTimeout(c, 3*time.Second)
		defer cancel()
		if err := h.analysis.Health(ctx); err != nil {
			// Analysis is an optional dependency; report it degraded but stay up.
			checks["analysis_backend"] = "down"
		} else {
			checks["analysis_backend"] = "ok"
		}
	}

	response.Success(c, status, gin.H{"status": httpStatusWord(status), "checks": checks})
}

func httpStatusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
