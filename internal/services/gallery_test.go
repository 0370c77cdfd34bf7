package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

func createImage(t *testing.T, f *fixture, ownerID string, public bool) *models.Image {
	t.Helper()
	key := fmt.Sprintf("%s%d_photo.png", UploadPrefix(ownerID), f.store.Len())
	f.objects.Upload(key, []byte("png"))
	img, err := f.gallery.Create(context.Background(), ownerID, models.CreateImageRequest{
		Key:      key,
		Title:    "  sunset ",
		IsPublic: public,
		Tags:     []string{"sky", " ", "sea "},
	})
	require.NoError(t, err)
	return img
}

func getImage(t *testing.T, f *fixture, imageID string) models.Image {
	t.Helper()
	var img models.Image
	require.NoError(t, f.store.Get(context.Background(), store.ImageKey(imageID), &img))
	return img
}

func publicIDs(t *testing.T, f *fixture) []string {
	t.Helper()
	page, err := f.gallery.ListPublic(context.Background(), "")
	require.NoError(t, err)
	ids := make([]string, 0, len(page.Items))
	for _, v := range page.Items {
		ids = append(ids, v.ImageID)
	}
	return ids
}

func TestGallery_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	img := createImage(t, f, "u1", true)
	assert.Equal(t, "sunset", img.Title)
	assert.Equal(t, []string{"sky", "sea"}, img.Tags)
	assert.Zero(t, img.LikeCount)
	assert.Zero(t, img.CommentCount)

	stored := getImage(t, f, img.ImageID)
	assert.Equal(t, store.OwnerIndexPK("u1"), stored.GSI3PK)
	assert.Equal(t, store.PublicIndexPK, stored.GSI4PK)

	private := createImage(t, f, "u1", false)
	assert.Empty(t, getImage(t, f, private.ImageID).GSI4PK)

	_, err := f.gallery.Create(ctx, "u1", models.CreateImageRequest{})
	requireKind(t, err, apperrors.KindValidation, "KEY_REQUIRED")

	_, err = f.gallery.Create(ctx, "u1", models.CreateImageRequest{Key: UploadPrefix("u2") + "1_x.png"})
	requireKind(t, err, apperrors.KindForbidden, "FORBIDDEN_KEY")

	for _, key := range []string{
		UploadPrefix("u1") + "../u2/1_x.png",
		UploadPrefix("u1") + "./1_x.png",
		UploadPrefix("u1") + "a/../../u2/1_x.png",
	} {
		_, err = f.gallery.Create(ctx, "u1", models.CreateImageRequest{Key: key})
		requireKind(t, err, apperrors.KindForbidden, "FORBIDDEN_KEY")
	}
	img, err = f.gallery.Create(ctx, "u1", models.CreateImageRequest{Key: UploadPrefix("u1") + "1_my..photo.png"})
	require.NoError(t, err)
	assert.Equal(t, UploadPrefix("u1")+"1_my..photo.png", img.S3Key)

	tags := make([]string, models.MaxTags+1)
	for i := range tags {
		tags[i] = fmt.Sprintf("t%d", i)
	}
	_, err = f.gallery.Create(ctx, "u1", models.CreateImageRequest{Key: UploadPrefix("u1") + "x.png", Tags: tags})
	requireKind(t, err, apperrors.KindValidation, "TOO_MANY_TAGS")
}

func TestGallery_ListPublicPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < PublicPageSize+5; i++ {
		img := createImage(t, f, "u1", true)
		want = append([]string{img.ImageID}, want...)
	}
	createImage(t, f, "u1", false)

	first, err := f.gallery.ListPublic(ctx, "")
	require.NoError(t, err)
	require.Len(t, first.Items, PublicPageSize)
	require.NotNil(t, first.Next)
	assert.Equal(t, want[0], first.Items[0].ImageID, "newest first")
	require.NotNil(t, first.Items[0].ImageURL)

	second, err := f.gallery.ListPublic(ctx, *first.Next)
	require.NoError(t, err)
	require.Len(t, second.Items, 5)
	assert.Nil(t, second.Next)
	assert.Equal(t, want[len(want)-1], second.Items[4].ImageID)

	_, err = f.gallery.ListPublic(ctx, "garbage!")
	requireKind(t, err, apperrors.KindValidation, "INVALID_CURSOR")
}

func TestGallery_ListOwner(t *testing.T) {
	f := newFixture(t)
	a := createImage(t, f, "u1", false)
	b := createImage(t, f, "u1", true)
	createImage(t, f, "u2", true)

	list, err := f.gallery.ListOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, b.ImageID, list.Items[0].ImageID)
	assert.Equal(t, a.ImageID, list.Items[1].ImageID)

	empty, err := f.gallery.ListOwner(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}

func TestGallery_VisibilityProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := createImage(t, f, "u1", true)
	assert.Contains(t, publicIDs(t, f), img.ImageID)

	require.NoError(t, f.gallery.SetPublic(ctx, img.ImageID, "u1", false))
	stored := getImage(t, f, img.ImageID)
	assert.False(t, stored.IsPublic)
	assert.Empty(t, stored.GSI4PK)
	assert.NotContains(t, publicIDs(t, f), img.ImageID)

	require.NoError(t, f.gallery.SetPublic(ctx, img.ImageID, "u1", true))
	stored = getImage(t, f, img.ImageID)
	assert.True(t, stored.IsPublic)
	assert.Greater(t, stored.GSI4SK, store.CreatedSK(img.CreatedAt, img.ImageID))
	assert.Contains(t, publicIDs(t, f), img.ImageID)

	// the flag and the projection agree for every image
	for i := 0; i < 4; i++ {
		createImage(t, f, "u1", i%2 == 0)
	}
	var all []models.Image
	_, err := f.store.Query(ctx, store.Query{Index: store.OwnerIndex, Partition: store.OwnerIndexPK("u1")}, &all)
	require.NoError(t, err)
	public := publicIDs(t, f)
	for _, img := range all {
		assert.Equal(t, img.IsPublic, contains(public, img.ImageID), img.ImageID)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestGallery_OwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := createImage(t, f, "owner", true)
	before := getImage(t, f, img.ImageID)

	err := f.gallery.UpdateDescription(ctx, img.ImageID, "intruder", "hacked")
	requireKind(t, err, apperrors.KindForbidden, "FORBIDDEN_NOT_OWNER")

	err = f.gallery.SetPublic(ctx, img.ImageID, "intruder", false)
	requireKind(t, err, apperrors.KindForbidden, "FORBIDDEN_NOT_OWNER")

	err = f.gallery.Delete(ctx, img.ImageID, "intruder")
	requireKind(t, err, apperrors.KindForbidden, "FORBIDDEN_NOT_OWNER")

	assert.Equal(t, before, getImage(t, f, img.ImageID))

	require.NoError(t, f.gallery.UpdateDescription(ctx, img.ImageID, "owner", " new words "))
	assert.Equal(t, "new words", getImage(t, f, img.ImageID).Description)
}

func TestGallery_MissingImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireKind(t, f.gallery.UpdateDescription(ctx, "nope", "u1", "x"), apperrors.KindNotFound, "IMAGE_NOT_FOUND")
	requireKind(t, f.gallery.SetPublic(ctx, "nope", "u1", true), apperrors.KindNotFound, "IMAGE_NOT_FOUND")
	requireKind(t, f.gallery.Delete(ctx, "nope", "u1"), apperrors.KindNotFound, "IMAGE_NOT_FOUND")
	assert.Zero(t, f.store.Len(), "conditional updates must not create items")
}

func TestGallery_DeleteCascades(t *testing.T) {
	for _, n := range []int{0, 1, 30} {
		t.Run(fmt.Sprintf("%d comments", n), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			img := createImage(t, f, "owner", true)
			other := createImage(t, f, "owner", true)

			for i := 0; i < n; i++ {
				_, err := f.comments.Add(ctx, img.ImageID, fmt.Sprintf("u%d", i%3), fmt.Sprintf("comment %d", i))
				require.NoError(t, err)
				_, err = f.likes.Toggle(ctx, img.ImageID, fmt.Sprintf("u%d", i))
				require.NoError(t, err)
			}
			_, err := f.comments.Add(ctx, other.ImageID, "u1", "stays")
			require.NoError(t, err)
			remaining := f.store.Len() - 1 - 2*n

			require.NoError(t, f.gallery.Delete(ctx, img.ImageID, "owner"))

			list, err := f.comments.List(ctx, img.ImageID)
			require.NoError(t, err)
			assert.Empty(t, list.Items)

			likers, err := f.likes.Likers(ctx, img.ImageID)
			require.NoError(t, err)
			assert.Zero(t, likers.Count)

			exists, err := f.objects.Exists(ctx, img.S3Key)
			require.NoError(t, err)
			assert.False(t, exists)

			assert.Equal(t, remaining, f.store.Len())
			otherComments, err := f.comments.List(ctx, other.ImageID)
			require.NoError(t, err)
			assert.Len(t, otherComments.Items, 1)
			assert.NotContains(t, publicIDs(t, f), img.ImageID)
		})
	}
}

// flakyBatchStore fails the first BatchDelete it sees
type flakyBatchStore struct {
	*store.Memory
	failures int
}

func (s *flakyBatchStore) BatchDelete(ctx context.Context, keys []store.Key) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("throttled")
	}
	return s.Memory.BatchDelete(ctx, keys)
}

func TestGallery_DeleteRetryFinishesCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	img := createImage(t, f, "owner", true)
	for i := 0; i < 3; i++ {
		_, err := f.comments.Add(ctx, img.ImageID, "u1", fmt.Sprintf("comment %d", i))
		require.NoError(t, err)
	}
	_, err := f.likes.Toggle(ctx, img.ImageID, "u2")
	require.NoError(t, err)

	flaky := &flakyBatchStore{Memory: f.store, failures: 1}
	gallery := NewGallery(flaky, f.objects, 5*time.Minute, quietLogger())

	err = gallery.Delete(ctx, img.ImageID, "owner")
	requireKind(t, err, apperrors.KindInternal, "DELETE_IMAGE_FAILED")

	require.NoError(t, gallery.Delete(ctx, img.ImageID, "owner"))

	list, err := f.comments.List(ctx, img.ImageID)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	likers, err := f.likes.Likers(ctx, img.ImageID)
	require.NoError(t, err)
	assert.Zero(t, likers.Count)
	assert.NotContains(t, publicIDs(t, f), img.ImageID)
}

func TestGallery_DeleteOfMissingImageClearsLeftovers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	img := createImage(t, f, "owner", true)
	_, err := f.comments.Add(ctx, img.ImageID, "u1", "left behind")
	require.NoError(t, err)

	// metadata gone but a comment survived an interrupted delete
	require.NoError(t, f.store.Delete(ctx, store.ImageKey(img.ImageID)))

	err = f.gallery.Delete(ctx, img.ImageID, "owner")
	requireKind(t, err, apperrors.KindNotFound, "IMAGE_NOT_FOUND")

	list, err := f.comments.List(ctx, img.ImageID)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func createRequest(key string) models.CreateImageRequest {
	return models.CreateImageRequest{Key: key, IsPublic: true}
}
