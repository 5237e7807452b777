package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/pkg/crypto"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
)

// ErrUserNotFound indicates the requested account does not exist.
var ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", 404)

// CreateUserInput describes the fields accepted when creating an account.
// Password is optional: invited and OAuth-resolved accounts start without one.
type CreateUserInput struct {
	Email    string
	Name     string
	Password string
	Role     roles.Role
	Verified bool
}

// UserFilters captures listing filters.
type UserFilters struct {
	Role  string
	Query string
}

// ListUsersOptions controls pagination for account listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService owns the durable account lifecycle: creation with the
// case-insensitive email uniqueness invariant, targeted mutations that stay
// idempotent under repeated application, and soft/hard deletion.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, audit *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit}, nil
}

// Create provisions a new account. Emails are lower-cased before the write so
// the unique index enforces case-insensitive uniqueness; soft-deleted rows
// still occupy their email and block re-registration.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}

	role := input.Role
	if role == "" {
		role = roles.Visitor
	}

	user := &models.User{
		Email: email,
		Name:  strings.TrimSpace(input.Name),
		Role:  string(role),
	}

	if input.Password != "" {
		hashed, err := crypto.HashPassword(input.Password)
		if err != nil {
			return nil, fmt.Errorf("user service: hash password: %w", err)
		}
		user.PasswordHash = &hashed
	}

	if input.Verified {
		now := s.db.NowFunc()
		user.VerifiedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.create",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{"email": user.Email, "role": user.Role},
	})

	return user, nil
}

// GetByID loads an account by identifier. Soft-deleted rows are returned;
// callers needing active-only semantics check DeletedAt themselves.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// GetByEmail loads an account by its case-normalised email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user by email: %w", err)
	}
	return &user, nil
}

// List retrieves active accounts matching the filters with pagination.
// Soft-deleted rows are always excluded here.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{}).Where("deleted_at IS NULL")
	if opts.Filters.Role != "" {
		query = query.Where("role = ?", strings.ToUpper(strings.TrimSpace(opts.Filters.Role)))
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("email LIKE ? OR LOWER(name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// SetRole updates the account role. Applying the same role twice is a no-op
// success.
func (s *UserService) SetRole(ctx context.Context, id string, role roles.Role) error {
	ctx = ensureContext(ctx)

	if !roles.Valid(string(role)) {
		return apperrors.NewBadRequest("unknown role")
	}

	if err := s.update(ctx, id, map[string]any{"role": string(role)}); err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.set_role",
		Resource: id,
		Result:   "success",
		Metadata: map[string]any{"role": string(role)},
	})
	return nil
}

// MarkVerified stamps the verification time. Re-verifying an already-verified
// account leaves the original timestamp in place and succeeds.
func (s *UserService) MarkVerified(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND verified_at IS NULL", id).
		Update("verified_at", s.db.NowFunc())
	if result.Error != nil {
		return fmt.Errorf("user service: mark verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Either already verified or missing; only the latter is an error.
		return s.exists(ctx, id)
	}
	return nil
}

// SetPassword replaces the stored credential hash.
func (s *UserService) SetPassword(ctx context.Context, id, password string) error {
	ctx = ensureContext(ctx)

	if password == "" {
		return apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("user service: hash password: %w", err)
	}

	if err := s.update(ctx, id, map[string]any{"password_hash": hashed}); err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.set_password",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// SoftDelete deactivates the account. Repeated application keeps the original
// deactivation time.
func (s *UserService) SoftDelete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", s.db.NowFunc())
	if result.Error != nil {
		return fmt.Errorf("user service: soft delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.exists(ctx, id)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.deactivate",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// HardDelete irreversibly removes the account row together with its sessions
// and provider links.
func (s *UserService) HardDelete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	if err := s.exists(ctx, id); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.AccountLink{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("user service: hard delete: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.purge",
		Resource: id,
		Result:   "success",
	})
	return nil
}

func (s *UserService) update(ctx context.Context, id string, values map[string]any) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("user service: update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows for no-op updates, so distinguish
		// "unchanged" from "missing" explicitly.
		return s.exists(ctx, id)
	}
	return nil
}

func (s *UserService) exists(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("user service: lookup user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
