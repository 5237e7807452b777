package models

import "gorm.io/datatypes"

// Analysis request statuses.
const (
	AnalysisSucceeded = "succeeded"
	AnalysisFailed    = "failed"
)

// AnalysisRequest records a land-cover-change analysis proxied to the
// external backend, for history and quota accounting.
type AnalysisRequest struct {
	BaseModel

	RequestedBy string         `gorm:"type:uuid;not null;index" json:"requested_by"`
	ListingID   *string        `gorm:"type:uuid;index" json:"listing_id,omitempty"`
	Geometry    datatypes.JSON `json:"geometry"`
	Year1       int            `json:"year1"`
	Year2       int            `json:"year2"`
	Status      string         `gorm:"not null;index" json:"status"`
	Detail      string         `json:"detail,omitempty"`
}
