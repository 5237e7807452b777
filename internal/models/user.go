package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the durable account record.
//
// Email uniqueness is case-insensitive: emails are lower-cased before writes
// and the unique index enforces the invariant at the store. PasswordHash is a
// pointer because OAuth-only and invited-but-not-yet-accepted accounts carry
// no credential. DeletedAt is a plain nullable column rather than
// gorm.DeletedAt: deactivated rows must stay readable (duplicate checks,
// audit history) and callers decide when "active only" semantics apply.
type User struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	Name         string  `json:"name"`
	PasswordHash *string `gorm:"column:password_hash" json:"-"`
	Role         string  `gorm:"not null;default:VISITOR" json:"role"`

	VerifiedAt *time.Time `json:"verified_at"`
	DeletedAt  *time.Time `gorm:"index" json:"deleted_at,omitempty"`

	Sessions []Session     `gorm:"foreignKey:UserID" json:"-"`
	Links    []AccountLink `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the account has not been soft deleted.
func (u *User) Active() bool {
	return u.DeletedAt == nil
}

// Verified reports whether the email address has been confirmed.
func (u *User) Verified() bool {
	return u.VerifiedAt != nil
}
