package database

import (
	"strings"

	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.AccountLink{},
		&models.EmailVerification{},
		&models.PasswordReset{},
		&models.Invite{},
		&models.Listing{},
		&models.Submission{},
		&models.AnalysisRequest{},
		&models.AuditEvent{},
	)
}

// SeedConfig describes the bootstrap admin account created on first start.
type SeedConfig struct {
	AdminEmail    string
	AdminName     string
	AdminPassword string
}

// SeedAdmin provisions the initial administrator when none exists. The seeded
// account is created pre-verified so the operator can sign in immediately.
func SeedAdmin(db *gorm.DB, cfg SeedConfig) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", string(roles.Admin)).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := crypto.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	now := db.NowFunc()
	admin := models.User{
		Email:        email,
		Name:         strings.TrimSpace(cfg.AdminName),
		PasswordHash: &hash,
		Role:         string(roles.Admin),
		VerifiedAt:   &now,
	}
	return db.Create(&admin).Error
}
