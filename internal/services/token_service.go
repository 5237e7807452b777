package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/pkg/crypto"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
	"github.com/fieldatlas/fieldatlas/pkg/logger"
	"github.com/fieldatlas/fieldatlas/pkg/mail"
	"github.com/fieldatlas/fieldatlas/pkg/metrics"
)

// TokenKind enumerates the single-use token purposes.
type TokenKind string

const (
	TokenEmailVerification TokenKind = "email_verification"
	TokenPasswordReset     TokenKind = "password_reset"
	TokenInvite            TokenKind = "invite"
)

// Kind-specific token lifetimes.
const (
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
	DefaultInviteTTL       = 7 * 24 * time.Hour
)

// defaultTokenBytes yields 384 bits of entropy per token value.
const defaultTokenBytes = 48

// IssueInput describes a token issuance request. Role and InvitedBy apply to
// invites only.
type IssueInput struct {
	Kind      TokenKind
	Email     string
	Role      roles.Role
	InvitedBy string
}

// Consumed is the result of a successful redemption. Role is set for invites.
type Consumed struct {
	Email string
	Role  roles.Role
}

// TokenOption customises TokenService behaviour.
type TokenOption func(*TokenService)

// WithTokenClock injects a custom time source, primarily for testing.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(s *TokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTokenTTL overrides the lifetime for one token kind.
func WithTokenTTL(kind TokenKind, ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttls[kind] = ttl
		}
	}
}

// WithTokenBaseURL configures the base URL used to build emailed links.
func WithTokenBaseURL(url string) TokenOption {
	return func(s *TokenService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// TokenService manages the three single-use token kinds with a uniform
// entropy and expiry discipline.
//
// Verification and reset tokens are hard-deleted on redemption; the delete is
// conditional and checked by affected row count so concurrent redemption
// attempts settle to exactly one winner. Invites are soft-consumed with the
// same compare-and-swap discipline on the used_at marker.
type TokenService struct {
	db      *gorm.DB
	mailer  mail.Mailer
	baseURL string
	ttls    map[TokenKind]time.Duration
	now     func() time.Time
}

// NewTokenService constructs a TokenService with the provided dependencies.
// The mailer may be nil; issuance then skips delivery entirely.
func NewTokenService(db *gorm.DB, mailer mail.Mailer, opts ...TokenOption) (*TokenService, error) {
	if db == nil {
		return nil, errors.New("token service: db is required")
	}

	service := &TokenService{
		db:     db,
		mailer: mailer,
		ttls: map[TokenKind]time.Duration{
			TokenEmailVerification: DefaultVerificationTTL,
			TokenPasswordReset:     DefaultResetTTL,
			TokenInvite:            DefaultInviteTTL,
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Issue generates a fresh token of the requested kind, persists its digest,
// dispatches the email best effort, and returns the raw value. Issuing a new
// token does not invalidate older still-valid tokens for the same email.
func (s *TokenService) Issue(ctx context.Context, input IssueInput) (string, error) {
	ctx = ensureContext(ctx)

	email := normalizeEmail(input.Email)
	if email == "" {
		return "", apperrors.NewBadRequest("email is required")
	}

	ttl, ok := s.ttls[input.Kind]
	if !ok {
		return "", fmt.Errorf("token service: unknown token kind %q", input.Kind)
	}

	raw, err := crypto.GenerateToken(defaultTokenBytes)
	if err != nil {
		return "", fmt.Errorf("token service: generate token: %w", err)
	}

	now := s.now()
	digest := crypto.TokenDigest(raw)
	expiresAt := now.Add(ttl)

	switch input.Kind {
	case TokenEmailVerification:
		err = s.db.WithContext(ctx).Create(&models.EmailVerification{
			Email:       email,
			TokenDigest: digest,
			ExpiresAt:   expiresAt,
		}).Error
	case TokenPasswordReset:
		err = s.db.WithContext(ctx).Create(&models.PasswordReset{
			Email:       email,
			TokenDigest: digest,
			ExpiresAt:   expiresAt,
		}).Error
	case TokenInvite:
		role := input.Role
		if role == "" {
			role = roles.Visitor
		}
		if !roles.Valid(string(role)) {
			return "", apperrors.NewBadRequest("unknown invite role")
		}
		err = s.db.WithContext(ctx).Create(&models.Invite{
			Email:       email,
			Role:        string(role),
			TokenDigest: digest,
			InvitedBy:   strings.TrimSpace(input.InvitedBy),
			ExpiresAt:   expiresAt,
		}).Error
	}
	if err != nil {
		metrics.TokenOperations.WithLabelValues(string(input.Kind), "issue", "failure").Inc()
		return "", fmt.Errorf("token service: persist token: %w", err)
	}

	metrics.TokenOperations.WithLabelValues(string(input.Kind), "issue", "success").Inc()
	s.deliver(ctx, input.Kind, email, raw)

	return raw, nil
}

// Consume redeems a token value. Expired tokens are treated as absent for
// authorization purposes but reported distinctly; a second redemption of an
// invite reports TokenAlreadyUsed while deleted kinds report TokenNotFound.
func (s *TokenService) Consume(ctx context.Context, kind TokenKind, value string) (*Consumed, error) {
	ctx = ensureContext(ctx)

	value = strings.TrimSpace(value)
	if value == "" {
		return nil, apperrors.ErrTokenNotFound
	}
	digest := crypto.TokenDigest(value)

	var (
		consumed *Consumed
		err      error
	)
	switch kind {
	case TokenEmailVerification:
		consumed, err = s.consumeVerification(ctx, digest)
	case TokenPasswordReset:
		consumed, err = s.consumeReset(ctx, digest)
	case TokenInvite:
		consumed, err = s.consumeInvite(ctx, digest)
	default:
		return nil, fmt.Errorf("token service: unknown token kind %q", kind)
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.TokenOperations.WithLabelValues(string(kind), "consume", result).Inc()

	return consumed, err
}

func (s *TokenService) consumeVerification(ctx context.Context, digest string) (*Consumed, error) {
	var row models.EmailVerification
	err := s.db.WithContext(ctx).Where("token_digest = ?", digest).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token service: find verification: %w", err)
	}

	if !row.ExpiresAt.After(s.now()) {
		// Expired rows are equivalent to absent; drop eagerly.
		s.db.WithContext(ctx).Delete(&models.EmailVerification{}, "id = ?", row.ID)
		return nil, apperrors.ErrTokenExpired
	}

	result := s.db.WithContext(ctx).Delete(&models.EmailVerification{}, "id = ?", row.ID)
	if result.Error != nil {
		return nil, fmt.Errorf("token service: delete verification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a redemption race; the winner already deleted the row.
		return nil, apperrors.ErrTokenNotFound
	}

	return &Consumed{Email: row.Email}, nil
}

func (s *TokenService) consumeReset(ctx context.Context, digest string) (*Consumed, error) {
	var row models.PasswordReset
	err := s.db.WithContext(ctx).Where("token_digest = ?", digest).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token service: find reset: %w", err)
	}

	if !row.ExpiresAt.After(s.now()) {
		s.db.WithContext(ctx).Delete(&models.PasswordReset{}, "id = ?", row.ID)
		return nil, apperrors.ErrTokenExpired
	}

	result := s.db.WithContext(ctx).Delete(&models.PasswordReset{}, "id = ?", row.ID)
	if result.Error != nil {
		return nil, fmt.Errorf("token service: delete reset: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrTokenNotFound
	}

	return &Consumed{Email: row.Email}, nil
}

func (s *TokenService) consumeInvite(ctx context.Context, digest string) (*Consumed, error) {
	var invite models.Invite
	err := s.db.WithContext(ctx).Where("token_digest = ?", digest).Take(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token service: find invite: %w", err)
	}

	now := s.now()
	if !invite.ExpiresAt.After(now) {
		return nil, apperrors.ErrTokenExpired
	}
	if invite.UsedAt != nil {
		return nil, apperrors.ErrTokenAlreadyUsed
	}

	result := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND used_at IS NULL", invite.ID).
		Update("used_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("token service: mark invite used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a redemption race; the winner already consumed it.
		return nil, apperrors.ErrTokenAlreadyUsed
	}

	return &Consumed{Email: invite.Email, Role: roles.Parse(invite.Role)}, nil
}

// SweepExpired removes expired token rows of every kind. Consumed invites are
// retained for audit. Returns the total number of rows removed.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	var total int64

	for _, target := range []any{&models.EmailVerification{}, &models.PasswordReset{}} {
		result := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(target)
		if result.Error != nil {
			return total, fmt.Errorf("token service: sweep expired: %w", result.Error)
		}
		total += result.RowsAffected
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ? AND used_at IS NULL", now).
		Delete(&models.Invite{})
	if result.Error != nil {
		return total, fmt.Errorf("token service: sweep expired invites: %w", result.Error)
	}
	total += result.RowsAffected

	return total, nil
}

func (s *TokenService) deliver(ctx context.Context, kind TokenKind, email, token string) {
	if s.mailer == nil {
		return
	}

	var subject, body string
	link := s.link(kind, token)
	switch kind {
	case TokenEmailVerification:
		subject = "Confirm your FieldAtlas account"
		body = fmt.Sprintf("Welcome to FieldAtlas!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nIf you did not create an account, you can ignore this message.\n", link)
	case TokenPasswordReset:
		subject = "Reset your FieldAtlas password"
		body = fmt.Sprintf("Hello,\n\nA password reset was requested for this address. Use the link below to choose a new password:\n%s\n\nIf you did not request a reset, you can ignore this message.\n", link)
	case TokenInvite:
		subject = "You're invited to FieldAtlas"
		body = fmt.Sprintf("Hello,\n\nYou have been invited to join FieldAtlas. Use the following link to accept your invite:\n%s\n\nIf you did not expect this email, you can ignore it.\n", link)
	}

	msg := mail.Message{To: []string{email}, Subject: subject, Body: body}
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrDisabled) {
		// Delivery is best effort; the caller already holds the token value.
		logger.WithModule("tokens").Warn("token email delivery failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func (s *TokenService) link(kind TokenKind, token string) string {
	if s.baseURL == "" {
		return token
	}

	var path string
	switch kind {
	case TokenEmailVerification:
		path = "/verify"
	case TokenPasswordReset:
		path = "/reset"
	case TokenInvite:
		path = "/invites/accept"
	}
	return fmt.Sprintf("%s%s?token=%s", s.baseURL, path, token)
}
