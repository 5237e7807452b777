package maintenance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/services"
)

func openCleanupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.EmailVerification{},
		&models.PasswordReset{},
		&models.Invite{},
		&models.AuditEvent{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestRunOnceSweepsAllStores(t *testing.T) {
	db := openCleanupDB(t)

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "secret"})
	require.NoError(t, err)
	sessions, err := iauth.NewSessionService(db, jwt, iauth.SessionConfig{Clock: clock})
	require.NoError(t, err)
	tokens, err := services.NewTokenService(db, nil, services.WithTokenClock(clock))
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Session{
		UserID:       "user-1",
		RefreshToken: "stale",
		ExpiresAt:    now.Add(-time.Hour),
		LastUsedAt:   now.Add(-2 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.Session{
		UserID:       "user-1",
		RefreshToken: "live",
		ExpiresAt:    now.Add(time.Hour),
		LastUsedAt:   now,
	}).Error)

	require.NoError(t, db.Create(&models.EmailVerification{
		Email:       "old@example.com",
		TokenDigest: "digest-1",
		ExpiresAt:   now.Add(-time.Minute),
	}).Error)

	require.NoError(t, db.Create(&models.AuditEvent{Action: "auth.login", Result: "success"}).Error)
	require.NoError(t, db.Model(&models.AuditEvent{}).Where("action = ?", "auth.login").
		Update("created_at", now.Add(-100*24*time.Hour)).Error)

	cleaner := NewCleaner(sessions, tokens, audit, WithNow(clock))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var sessionCount, tokenCount, auditCount int64
	require.NoError(t, db.Model(&models.Session{}).Count(&sessionCount).Error)
	require.NoError(t, db.Model(&models.EmailVerification{}).Count(&tokenCount).Error)
	require.NoError(t, db.Model(&models.AuditEvent{}).Count(&auditCount).Error)

	require.EqualValues(t, 1, sessionCount)
	require.Zero(t, tokenCount)
	require.Zero(t, auditCount)
}

func TestRunOnceWithNilDependencies(t *testing.T) {
	cleaner := NewCleaner(nil, nil, nil)
	require.NoError(t, cleaner.RunOnce(context.Background()))
	require.NoError(t, cleaner.Start())
}

func TestShutdownSweepNeedsFreshContext(t *testing.T) {
	db := openCleanupDB(t)

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tokens, err := services.NewTokenService(db, nil, services.WithTokenClock(clock))
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.EmailVerification{
		Email:       "old@example.com",
		TokenDigest: "digest-stale",
		ExpiresAt:   now.Add(-time.Minute),
	}).Error)

	cleaner := NewCleaner(nil, tokens, nil, WithNow(clock))
	require.NoError(t, cleaner.Start())

	stopCtx := cleaner.Stop()
	<-stopCtx.Done()

	// The stop context is spent once the scheduler drains, so a sweep on it
	// never reaches the database.
	require.Error(t, cleaner.RunOnce(stopCtx))

	var count int64
	require.NoError(t, db.Model(&models.EmailVerification{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	// The shutdown path sweeps on a fresh context instead.
	require.NoError(t, cleaner.RunOnce(context.Background()))
	require.NoError(t, db.Model(&models.EmailVerification{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanerRetentionOption(t *testing.T) {
	db := openCleanupDB(t)

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.AuditEvent{Action: "auth.login", Result: "success"}).Error)
	require.NoError(t, db.Model(&models.AuditEvent{}).Where("action = ?", "auth.login").
		Update("created_at", now.Add(-36*time.Hour)).Error)

	// The default 90 day retention keeps a 36 hour old event.
	cleaner := NewCleaner(nil, nil, audit, WithNow(clock))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.AuditEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	// A one day retention prunes it.
	cleaner = NewCleaner(nil, nil, audit, WithNow(clock), WithAuditRetention(24*time.Hour))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	require.NoError(t, db.Model(&models.AuditEvent{}).Count(&count).Error)
	require.Zero(t, count)
}
