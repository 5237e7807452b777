package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
)

func newSubmissionFixture(t *testing.T) (*SubmissionService, *models.Listing) {
	t.Helper()

	db := openServiceDB(t, &models.User{}, &models.Listing{}, &models.Submission{})

	owner := &models.User{Email: "owner@example.com", Role: string(roles.Owner)}
	require.NoError(t, db.Create(owner).Error)

	listing := &models.Listing{
		Title:   "Survey Target",
		Slug:    "survey-target",
		Status:  models.ListingPublished,
		OwnerID: owner.ID,
	}
	require.NoError(t, db.Create(listing).Error)

	svc, err := NewSubmissionService(db, nil)
	require.NoError(t, err)

	return svc, listing
}

func TestCreateSubmissionRequiresExistingListing(t *testing.T) {
	svc, listing := newSubmissionFixture(t)

	_, err := svc.Create(context.Background(), CreateSubmissionInput{
		ListingID:   "no-such-listing",
		SubmittedBy: "user-1",
	})
	require.ErrorIs(t, err, ErrListingNotFound)

	submission, err := svc.Create(context.Background(), CreateSubmissionInput{
		ListingID:   listing.ID,
		SubmittedBy: "user-1",
		Attributes:  datatypes.JSON([]byte(`{"crop":"corn","irrigated":true}`)),
		Note:        " field visit 2026-03 ",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionPending, submission.Status)
	require.Equal(t, "field visit 2026-03", submission.Note)
}

func TestReviewSubmissionLifecycle(t *testing.T) {
	svc, listing := newSubmissionFixture(t)

	submission, err := svc.Create(context.Background(), CreateSubmissionInput{
		ListingID:   listing.ID,
		SubmittedBy: "user-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Review(context.Background(), submission.ID, "editor-1", true, "verified on site"))

	loaded, err := svc.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionAccepted, loaded.Status)
	require.Equal(t, "verified on site", loaded.ReviewNote)

	// Settled submissions cannot be re-reviewed.
	require.Error(t, svc.Review(context.Background(), submission.ID, "editor-2", false, ""))
}

func TestListSubmissionsFiltersBySubmitter(t *testing.T) {
	svc, listing := newSubmissionFixture(t)

	for _, submitter := range []string{"user-1", "user-1", "user-2"} {
		_, err := svc.Create(context.Background(), CreateSubmissionInput{
			ListingID:   listing.ID,
			SubmittedBy: submitter,
		})
		require.NoError(t, err)
	}

	_, total, err := svc.List(context.Background(), ListSubmissionsOptions{
		Filters: SubmissionFilters{SubmittedBy: "user-1"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	_, total, err = svc.List(context.Background(), ListSubmissionsOptions{
		Filters: SubmissionFilters{ListingID: listing.ID, Status: models.SubmissionPending},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
}
