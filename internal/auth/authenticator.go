package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/pkg/crypto"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
)

// AuditFunc receives best-effort sign-in/out events. Implementations must
// swallow their own failures; the authenticator never checks the outcome.
type AuditFunc func(ctx context.Context, actorID *string, action, result string)

// AuthenticatorConfig defines tunable behaviour for credential authentication.
type AuthenticatorConfig struct {
	Clock func() time.Time
	Audit AuditFunc
}

// Authenticator verifies an email/password pair against the credential store.
type Authenticator struct {
	db    *gorm.DB
	clock func() time.Time
	audit AuditFunc
}

// NewAuthenticator builds an authenticator with sane defaults.
func NewAuthenticator(db *gorm.DB, cfg AuthenticatorConfig) (*Authenticator, error) {
	if db == nil {
		return nil, errors.New("authenticator: db is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Authenticator{
		db:    db,
		clock: clock,
		audit: cfg.Audit,
	}, nil
}

// Authenticate verifies the supplied credentials and returns the account
// snapshot used to mint claims.
//
// Unknown email, missing credential (OAuth-only account), soft-deleted
// account, and wrong password all collapse into ErrInvalidCredentials so
// responses cannot distinguish the cases.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	err := a.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		a.record(ctx, nil, "auth.login", "failure")
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authenticator: query user: %w", err)
	}

	if !user.Active() || user.PasswordHash == nil {
		a.record(ctx, &user.ID, "auth.login", "failure")
		return nil, apperrors.ErrInvalidCredentials
	}

	if !user.Verified() {
		a.record(ctx, &user.ID, "auth.login", "failure")
		return nil, apperrors.ErrEmailNotVerified
	}

	if !crypto.VerifyPassword(*user.PasswordHash, password) {
		a.record(ctx, &user.ID, "auth.login", "failure")
		return nil, apperrors.ErrInvalidCredentials
	}

	a.record(ctx, &user.ID, "auth.login", "success")
	return &user, nil
}

// RecordSignOut emits the sign-out audit event.
func (a *Authenticator) RecordSignOut(ctx context.Context, actorID string) {
	a.record(ctx, &actorID, "auth.logout", "success")
}

func (a *Authenticator) record(ctx context.Context, actorID *string, action, result string) {
	if a.audit == nil {
		return
	}
	a.audit(ctx, actorID, action, result)
}
