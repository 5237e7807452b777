package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
)

func openUserDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openServiceDB(t, &models.User{}, &models.Session{}, &models.AccountLink{})
}

func newUserService(t *testing.T, db *gorm.DB) *UserService {
	t.Helper()
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)
	return svc
}

func TestCreateNormalisesEmailAndRejectsDuplicates(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Email:    "First.Owner@Example.COM",
		Name:     "First Owner",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.Equal(t, "first.owner@example.com", user.Email)
	require.Equal(t, string(roles.Visitor), user.Role)
	require.NotNil(t, user.PasswordHash)
	require.False(t, user.Verified())

	// Same address in a different case collides.
	_, err = svc.Create(context.Background(), CreateUserInput{Email: "FIRST.OWNER@example.com"})
	require.ErrorIs(t, err, apperrors.ErrDuplicateEmail)
}

func TestCreateBlockedBySoftDeletedRow(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	user, err := svc.Create(context.Background(), CreateUserInput{Email: "gone@example.com"})
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(context.Background(), user.ID))

	// The deactivated row still occupies its email.
	_, err = svc.Create(context.Background(), CreateUserInput{Email: "gone@example.com"})
	require.ErrorIs(t, err, apperrors.ErrDuplicateEmail)
}

func TestMarkVerifiedIsIdempotent(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	user, err := svc.Create(context.Background(), CreateUserInput{Email: "verify@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkVerified(context.Background(), user.ID))

	first, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, first.VerifiedAt)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, svc.MarkVerified(context.Background(), user.ID))

	second, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, first.VerifiedAt.Equal(*second.VerifiedAt))

	require.ErrorIs(t, svc.MarkVerified(context.Background(), "missing-id"), ErrUserNotFound)
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	user, err := svc.Create(context.Background(), CreateUserInput{Email: "deactivate@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(context.Background(), user.ID))

	first, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, first.DeletedAt)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, svc.SoftDelete(context.Background(), user.ID))

	second, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, first.DeletedAt.Equal(*second.DeletedAt))

	require.ErrorIs(t, svc.SoftDelete(context.Background(), "missing-id"), ErrUserNotFound)
}

func TestSetRoleValidatesAndToleratesNoop(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	user, err := svc.Create(context.Background(), CreateUserInput{Email: "promote@example.com"})
	require.NoError(t, err)

	require.Error(t, svc.SetRole(context.Background(), user.ID, roles.Role("GODMODE")))

	require.NoError(t, svc.SetRole(context.Background(), user.ID, roles.Editor))
	require.NoError(t, svc.SetRole(context.Background(), user.ID, roles.Editor))

	loaded, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, string(roles.Editor), loaded.Role)
}

func TestHardDeleteCascades(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	user, err := svc.Create(context.Background(), CreateUserInput{Email: "purge@example.com"})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Session{
		UserID:       user.ID,
		RefreshToken: "refresh-abc",
		ExpiresAt:    time.Now().Add(time.Hour),
		LastUsedAt:   time.Now(),
	}).Error)
	require.NoError(t, db.Create(&models.AccountLink{
		UserID:   user.ID,
		Provider: "oidc",
		Subject:  "sub-123",
	}).Error)

	require.NoError(t, svc.HardDelete(context.Background(), user.ID))

	_, err = svc.GetByID(context.Background(), user.ID)
	require.ErrorIs(t, err, ErrUserNotFound)

	var sessions, links int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&sessions).Error)
	require.NoError(t, db.Model(&models.AccountLink{}).Where("user_id = ?", user.ID).Count(&links).Error)
	require.Zero(t, sessions)
	require.Zero(t, links)

	require.ErrorIs(t, svc.HardDelete(context.Background(), user.ID), ErrUserNotFound)
}

func TestListExcludesDeactivatedAndFilters(t *testing.T) {
	db := openUserDB(t)
	svc := newUserService(t, db)

	active, err := svc.Create(context.Background(), CreateUserInput{Email: "active@example.com", Name: "Active Person", Role: roles.Editor})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateUserInput{Email: "plain@example.com", Name: "Plain Person"})
	require.NoError(t, err)
	hidden, err := svc.Create(context.Background(), CreateUserInput{Email: "hidden@example.com"})
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(context.Background(), hidden.ID))

	users, total, err := svc.List(context.Background(), ListUsersOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, users, 2)

	users, total, err = svc.List(context.Background(), ListUsersOptions{Filters: UserFilters{Role: "editor"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, active.ID, users[0].ID)

	_, total, err = svc.List(context.Background(), ListUsersOptions{Filters: UserFilters{Query: "plain"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}
