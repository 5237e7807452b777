package models

import "time"

// EmailVerification stores verification tokens issued at registration.
// Rows are hard-deleted on redemption so a consumed token can never replay.
type EmailVerification struct {
	BaseModel

	Email       string    `gorm:"not null;index" json:"email"`
	TokenDigest string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
}

// PasswordReset stores reset tokens requested by or for an account.
// Rows are hard-deleted on redemption, same discipline as EmailVerification.
type PasswordReset struct {
	BaseModel

	Email       string    `gorm:"not null;index" json:"email"`
	TokenDigest string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
}

// Invite is an admin-issued invitation carrying a target role. Invites are
// soft-consumed: UsedAt is set instead of deleting the row so the invitation
// remains auditable while still blocking replay.
type Invite struct {
	BaseModel

	Email       string     `gorm:"not null;index" json:"email"`
	Role        string     `gorm:"not null" json:"role"`
	TokenDigest string     `gorm:"uniqueIndex;not null" json:"-"`
	InvitedBy   string     `gorm:"type:uuid" json:"invited_by"`
	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	UsedAt      *time.Time `json:"used_at"`
}
