package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
)

// ErrSubmissionNotFound indicates the requested submission does not exist.
var ErrSubmissionNotFound = apperrors.New("SUBMISSION_NOT_FOUND", "Submission not found", 404)

// CreateSubmissionInput describes a new field-data submission.
type CreateSubmissionInput struct {
	ListingID   string
	SubmittedBy string
	Attributes  datatypes.JSON
	Note        string
}

// SubmissionFilters captures submission query filters.
type SubmissionFilters struct {
	ListingID   string
	Status      string
	SubmittedBy string
}

// ListSubmissionsOptions controls pagination for submission queries.
type ListSubmissionsOptions struct {
	Page     int
	PageSize int
	Filters  SubmissionFilters
}

// SubmissionService manages field-data submissions held for editor review.
type SubmissionService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(db *gorm.DB, audit *AuditService) (*SubmissionService, error) {
	if db == nil {
		return nil, errors.New("submission service: db is required")
	}
	return &SubmissionService{db: db, audit: audit}, nil
}

// Create records a pending submission against an existing listing.
func (s *SubmissionService) Create(ctx context.Context, input CreateSubmissionInput) (*models.Submission, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.ListingID) == "" {
		return nil, apperrors.NewBadRequest("listing id is required")
	}
	if strings.TrimSpace(input.SubmittedBy) == "" {
		return nil, apperrors.NewBadRequest("submitter is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", input.ListingID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("submission service: lookup listing: %w", err)
	}
	if count == 0 {
		return nil, ErrListingNotFound
	}

	submission := &models.Submission{
		ListingID:   strings.TrimSpace(input.ListingID),
		SubmittedBy: strings.TrimSpace(input.SubmittedBy),
		Attributes:  input.Attributes,
		Note:        strings.TrimSpace(input.Note),
		Status:      models.SubmissionPending,
	}

	if err := s.db.WithContext(ctx).Create(submission).Error; err != nil {
		return nil, fmt.Errorf("submission service: create submission: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &submission.SubmittedBy,
		Action:   "submission.create",
		Resource: submission.ID,
		Result:   "success",
	})

	return submission, nil
}

// GetByID loads a submission by identifier.
func (s *SubmissionService) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	ctx = ensureContext(ctx)

	var submission models.Submission
	err := s.db.WithContext(ctx).Take(&submission, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("submission service: get submission: %w", err)
	}
	return &submission, nil
}

// List retrieves submissions matching the filters with pagination.
func (s *SubmissionService) List(ctx context.Context, opts ListSubmissionsOptions) ([]models.Submission, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Submission{})
	if opts.Filters.ListingID != "" {
		query = query.Where("listing_id = ?", opts.Filters.ListingID)
	}
	if opts.Filters.Status != "" {
		query = query.Where("status = ?", opts.Filters.Status)
	}
	if opts.Filters.SubmittedBy != "" {
		query = query.Where("submitted_by = ?", opts.Filters.SubmittedBy)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("submission service: count submissions: %w", err)
	}

	var submissions []models.Submission
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&submissions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("submission service: list submissions: %w", err)
	}

	return submissions, total, nil
}

// Review accepts or rejects a pending submission.
func (s *SubmissionService) Review(ctx context.Context, id, reviewerID string, accept bool, note string) error {
	ctx = ensureContext(ctx)

	submission, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if submission.Status != models.SubmissionPending {
		return apperrors.NewBadRequest("submission is not pending review")
	}

	status := models.SubmissionRejected
	if accept {
		status = models.SubmissionAccepted
	}

	err = s.db.WithContext(ctx).Model(submission).Updates(map[string]any{
		"status":      status,
		"reviewed_by": reviewerID,
		"review_note": strings.TrimSpace(note),
	}).Error
	if err != nil {
		return fmt.Errorf("submission service: review submission: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &reviewerID,
		Action:   "submission.review",
		Resource: id,
		Result:   status,
	})
	return nil
}
