package models

import "gorm.io/datatypes"

// Listing statuses. A listing starts as a draft, is submitted for review by
// its owner, and is published or rejected by an editor.
const (
	ListingDraft     = "draft"
	ListingPending   = "pending"
	ListingPublished = "published"
	ListingRejected  = "rejected"
)

// Listing is a land-parcel directory record.
type Listing struct {
	BaseModel

	Title       string `gorm:"not null" json:"title"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Description string `json:"description"`
	County      string `gorm:"index" json:"county"`
	Acreage     float64 `json:"acreage"`

	// Geometry holds the parcel boundary as a GeoJSON feature.
	Geometry datatypes.JSON `json:"geometry"`

	Status  string `gorm:"not null;default:draft;index" json:"status"`
	OwnerID string `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner   *User  `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`

	ReviewedBy *string `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewNote string  `json:"review_note,omitempty"`
}
