package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	apperrors "github.com/fieldatlas/fieldatlas/pkg/errors"
)

func openListingDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openServiceDB(t, &models.User{}, &models.Listing{}, &models.Submission{})
}

func newListingFixture(t *testing.T) (*ListingService, *gorm.DB, *models.User) {
	t.Helper()

	db := openListingDB(t)
	svc, err := NewListingService(db, nil)
	require.NoError(t, err)

	owner := &models.User{Email: "owner@example.com", Name: "Owner", Role: string(roles.Owner)}
	require.NoError(t, db.Create(owner).Error)

	return svc, db, owner
}

func TestCreateListingSlugifiesTitle(t *testing.T) {
	svc, _, owner := newListingFixture(t)

	listing, err := svc.Create(context.Background(), CreateListingInput{
		Title:   "  Old Mill Farm, 40 Acres!  ",
		County:  "Lancaster",
		Acreage: 40,
		OwnerID: owner.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Old Mill Farm, 40 Acres!", listing.Title)
	require.Equal(t, "old-mill-farm-40-acres", listing.Slug)
	require.Equal(t, models.ListingDraft, listing.Status)
}

func TestCreateListingResolvesSlugCollision(t *testing.T) {
	svc, _, owner := newListingFixture(t)

	first, err := svc.Create(context.Background(), CreateListingInput{Title: "River Bend", OwnerID: owner.ID})
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), CreateListingInput{Title: "River Bend", OwnerID: owner.ID})
	require.NoError(t, err)
	require.NotEqual(t, first.Slug, second.Slug)
	require.Contains(t, second.Slug, "river-bend-")
}

func TestSubmitListingOwnerOnly(t *testing.T) {
	svc, _, owner := newListingFixture(t)

	listing, err := svc.Create(context.Background(), CreateListingInput{Title: "Hill Pasture", OwnerID: owner.ID})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Submit(context.Background(), listing.ID, "someone-else"), apperrors.ErrForbidden)

	require.NoError(t, svc.Submit(context.Background(), listing.ID, owner.ID))

	loaded, err := svc.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, models.ListingPending, loaded.Status)

	// Already pending, not submittable again.
	require.Error(t, svc.Submit(context.Background(), listing.ID, owner.ID))
}

func TestReviewListingLifecycle(t *testing.T) {
	svc, _, owner := newListingFixture(t)

	listing, err := svc.Create(context.Background(), CreateListingInput{Title: "Creek Lot", OwnerID: owner.ID})
	require.NoError(t, err)

	// Review requires a pending listing.
	require.Error(t, svc.Review(context.Background(), listing.ID, "editor-1", true, ""))

	require.NoError(t, svc.Submit(context.Background(), listing.ID, owner.ID))
	require.NoError(t, svc.Review(context.Background(), listing.ID, "editor-1", false, "missing acreage"))

	loaded, err := svc.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, models.ListingRejected, loaded.Status)
	require.Equal(t, "missing acreage", loaded.ReviewNote)

	// A rejected listing may be resubmitted and then published.
	require.NoError(t, svc.Submit(context.Background(), listing.ID, owner.ID))
	require.NoError(t, svc.Review(context.Background(), listing.ID, "editor-1", true, ""))

	loaded, err = svc.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, models.ListingPublished, loaded.Status)
}

func TestUpdateListingEnforcesOwnership(t *testing.T) {
	svc, _, owner := newListingFixture(t)

	listing, err := svc.Create(context.Background(), CreateListingInput{Title: "South Field", OwnerID: owner.ID})
	require.NoError(t, err)

	title := "South Field Extended"
	_, err = svc.Update(context.Background(), listing.ID, "stranger", roles.Visitor, UpdateListingInput{Title: &title})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// Editors may update listings they do not own.
	updated, err := svc.Update(context.Background(), listing.ID, "editor-1", roles.Editor, UpdateListingInput{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
}

func TestDeleteListingRemovesSubmissions(t *testing.T) {
	svc, db, owner := newListingFixture(t)

	listing, err := svc.Create(context.Background(), CreateListingInput{Title: "North Woods", OwnerID: owner.ID})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Submission{
		ListingID:   listing.ID,
		SubmittedBy: owner.ID,
		Status:      models.SubmissionPending,
	}).Error)

	require.ErrorIs(t, svc.Delete(context.Background(), listing.ID, "stranger", roles.Visitor), apperrors.ErrForbidden)
	require.NoError(t, svc.Delete(context.Background(), listing.ID, owner.ID, roles.Owner))

	_, err = svc.GetByID(context.Background(), listing.ID)
	require.ErrorIs(t, err, ErrListingNotFound)

	var remaining int64
	require.NoError(t, db.Model(&models.Submission{}).Where("listing_id = ?", listing.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
}

func TestListListingsFilters(t *testing.T) {
	svc, _, owner := newListingFixture(t)

	draft, err := svc.Create(context.Background(), CreateListingInput{Title: "Draft Parcel", County: "Lancaster", OwnerID: owner.ID})
	require.NoError(t, err)
	published, err := svc.Create(context.Background(), CreateListingInput{Title: "Public Parcel", County: "York", OwnerID: owner.ID})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), published.ID, owner.ID))
	require.NoError(t, svc.Review(context.Background(), published.ID, "editor-1", true, ""))

	listings, total, err := svc.List(context.Background(), ListListingsOptions{
		Filters: ListingFilters{Status: models.ListingPublished},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, published.ID, listings[0].ID)

	listings, total, err = svc.List(context.Background(), ListListingsOptions{
		Filters: ListingFilters{County: "Lancaster"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, draft.ID, listings[0].ID)

	_, total, err = svc.List(context.Background(), ListListingsOptions{
		Filters: ListingFilters{Query: "public"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}
