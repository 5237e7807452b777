package models

// AccountLink ties a user to an external identity provider subject.
// Link rows are removed when the owning user is purged.
type AccountLink struct {
	BaseModel

	UserID   string `gorm:"type:uuid;not null;index" json:"user_id"`
	Provider string `gorm:"not null;uniqueIndex:idx_account_links_provider_subject" json:"provider"`
	Subject  string `gorm:"not null;uniqueIndex:idx_account_links_provider_subject" json:"subject"`
	Email    string `json:"email"`
}
