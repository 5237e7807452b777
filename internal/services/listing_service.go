package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
)

// ErrListingNotFound indicates the requested listing does not exist.
var ErrListingNotFound = apperrors.New("LISTING_NOT_FOUND", "Listing not found", 404)

// CreateListingInput describes the fields accepted when creating a listing.
type CreateListingInput struct {
	Title       string
	Description string
	County      string
	Acreage     float64
	Geometry    datatypes.JSON
	OwnerID     string
}

// UpdateListingInput enumerates mutable listing attributes.
type UpdateListingInput struct {
	Title       *string
	Description *string
	County      *string
	Acreage     *float64
	Geometry    datatypes.JSON
}

// ListingFilters captures listing query filters.
type ListingFilters struct {
	Status  string
	County  string
	OwnerID string
	Query   string
}

// ListListingsOptions controls pagination for listing queries.
type ListListingsOptions struct {
	Page     int
	PageSize int
	Filters  ListingFilters
}

// ListingService manages the land-parcel directory lifecycle: draft, submit,
// review, publish.
type ListingService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewListingService constructs a ListingService.
func NewListingService(db *gorm.DB, audit *AuditService) (*ListingService, error) {
	if db == nil {
		return nil, errors.New("listing service: db is required")
	}
	return &ListingService{db: db, audit: audit}, nil
}

// Create stores a new draft listing owned by the supplied account.
func (s *ListingService) Create(ctx context.Context, input CreateListingInput) (*models.Listing, error) {
	ctx = ensureContext(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, apperrors.NewBadRequest("owner is required")
	}

	listing := &models.Listing{
		Title:       title,
		Slug:        slugify(title),
		Description: strings.TrimSpace(input.Description),
		County:      strings.TrimSpace(input.County),
		Acreage:     input.Acreage,
		Geometry:    input.Geometry,
		Status:      models.ListingDraft,
		OwnerID:     strings.TrimSpace(input.OwnerID),
	}

	err := s.db.WithContext(ctx).Create(listing).Error
	if isUniqueConstraintError(err) {
		// Slug collision; retry once with the id suffix.
		listing.Slug = fmt.Sprintf("%s-%s", listing.Slug, listing.ID[:8])
		listing.ID = ""
		err = s.db.WithContext(ctx).Create(listing).Error
	}
	if err != nil {
		return nil, fmt.Errorf("listing service: create listing: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &listing.OwnerID,
		Action:   "listing.create",
		Resource: listing.ID,
		Result:   "success",
	})

	return listing, nil
}

// GetByID loads a listing by identifier.
func (s *ListingService) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	ctx = ensureContext(ctx)

	var listing models.Listing
	err := s.db.WithContext(ctx).Preload("Owner").Take(&listing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("listing service: get listing: %w", err)
	}
	return &listing, nil
}

// List retrieves listings matching the filters with pagination.
func (s *ListingService) List(ctx context.Context, opts ListListingsOptions) ([]models.Listing, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Listing{})
	if opts.Filters.Status != "" {
		query = query.Where("status = ?", opts.Filters.Status)
	}
	if opts.Filters.County != "" {
		query = query.Where("county = ?", opts.Filters.County)
	}
	if opts.Filters.OwnerID != "" {
		query = query.Where("owner_id = ?", opts.Filters.OwnerID)
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("listing service: count listings: %w", err)
	}

	var listings []models.Listing
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&listings).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing service: list listings: %w", err)
	}

	return listings, total, nil
}

// Update applies the supplied changes. The actor must be the owner or hold
// the editor floor.
func (s *ListingService) Update(ctx context.Context, id, actorID string, actorRole roles.Role, input UpdateListingInput) (*models.Listing, error) {
	ctx = ensureContext(ctx)

	listing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if listing.OwnerID != actorID && !roles.Satisfies(actorRole, roles.Editor) {
		return nil, apperrors.ErrForbidden
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("title cannot be empty")
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.County != nil {
		updates["county"] = strings.TrimSpace(*input.County)
	}
	if input.Acreage != nil {
		updates["acreage"] = *input.Acreage
	}
	if input.Geometry != nil {
		updates["geometry"] = input.Geometry
	}

	if len(updates) == 0 {
		return listing, nil
	}

	if err := s.db.WithContext(ctx).Model(listing).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("listing service: update listing: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Submit moves a draft into the review queue. Only the owner may submit.
func (s *ListingService) Submit(ctx context.Context, id, actorID string) error {
	ctx = ensureContext(ctx)

	listing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if listing.OwnerID != actorID {
		return apperrors.ErrForbidden
	}
	if listing.Status != models.ListingDraft && listing.Status != models.ListingRejected {
		return apperrors.NewBadRequest("listing is not in a submittable state")
	}

	err = s.db.WithContext(ctx).Model(listing).Update("status", models.ListingPending).Error
	if err != nil {
		return fmt.Errorf("listing service: submit listing: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &actorID,
		Action:   "listing.submit",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// Review publishes or rejects a pending listing.
func (s *ListingService) Review(ctx context.Context, id, reviewerID string, approve bool, note string) error {
	ctx = ensureContext(ctx)

	listing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if listing.Status != models.ListingPending {
		return apperrors.NewBadRequest("listing is not pending review")
	}

	status := models.ListingRejected
	if approve {
		status = models.ListingPublished
	}

	err = s.db.WithContext(ctx).Model(listing).Updates(map[string]any{
		"status":      status,
		"reviewed_by": reviewerID,
		"review_note": strings.TrimSpace(note),
	}).Error
	if err != nil {
		return fmt.Errorf("listing service: review listing: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &reviewerID,
		Action:   "listing.review",
		Resource: id,
		Result:   status,
	})
	return nil
}

// Delete removes a listing and its submissions. The actor must be the owner
// or hold the editor floor.
func (s *ListingService) Delete(ctx context.Context, id, actorID string, actorRole roles.Role) error {
	ctx = ensureContext(ctx)

	listing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if listing.OwnerID != actorID && !roles.Satisfies(actorRole, roles.Editor) {
		return apperrors.ErrForbidden
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("listing_id = ?", id).Delete(&models.Submission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Listing{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("listing service: delete listing: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &actorID,
		Action:   "listing.delete",
		Resource: id,
		Result:   "success",
	})
	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}
