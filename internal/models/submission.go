package models

import "gorm.io/datatypes"

// Submission statuses.
const (
	SubmissionPending  = "pending"
	SubmissionAccepted = "accepted"
	SubmissionRejected = "rejected"
)

// Submission is a field-data record attached to a listing: observed
// vegetation attributes collected on site, held for editor review.
type Submission struct {
	BaseModel

	ListingID string   `gorm:"type:uuid;not null;index" json:"listing_id"`
	Listing   *Listing `gorm:"foreignKey:ListingID" json:"listing,omitempty"`

	SubmittedBy string `gorm:"type:uuid;not null;index" json:"submitted_by"`

	// Attributes carries the raw observation payload (species counts, cover
	// percentages, plot coordinates) without a fixed schema.
	Attributes datatypes.JSON `json:"attributes"`
	Note       string         `json:"note"`

	Status     string  `gorm:"not null;default:pending;index" json:"status"`
	ReviewedBy *string `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewNote string  `json:"review_note,omitempty"`
}
