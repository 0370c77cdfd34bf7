package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

func TestLikes_ToggleFlipsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := createImage(t, f, "owner", true)

	liked, err := f.likes.Toggle(ctx, img.ImageID, "u1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.EqualValues(t, 1, getImage(t, f, img.ImageID).LikeCount)

	liked, err = f.likes.Toggle(ctx, img.ImageID, "u1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.EqualValues(t, 0, getImage(t, f, img.ImageID).LikeCount)
}

func TestLikes_EvenTogglesRestoreState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := createImage(t, f, "owner", true)

	// u2 starts from a liked state
	_, err := f.likes.Toggle(ctx, img.ImageID, "u2")
	require.NoError(t, err)

	for _, user := range []string{"u1", "u2"} {
		startCount := getImage(t, f, img.ImageID).LikeCount
		for i := 0; i < 10; i++ {
			_, err := f.likes.Toggle(ctx, img.ImageID, user)
			require.NoError(t, err)
		}
		assert.Equal(t, startCount, getImage(t, f, img.ImageID).LikeCount, user)
	}

	likers, err := f.likes.Likers(ctx, img.ImageID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, likers.Users)
	assert.Equal(t, 1, likers.Count)
}

func TestLikes_CountMatchesLikers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := createImage(t, f, "owner", true)

	for _, user := range []string{"a", "b", "c", "d", "b"} {
		_, err := f.likes.Toggle(ctx, img.ImageID, user)
		require.NoError(t, err)
	}

	likers, err := f.likes.Likers(ctx, img.ImageID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c", "d"}, likers.Users)
	assert.EqualValues(t, likers.Count, getImage(t, f, img.ImageID).LikeCount)
}

func TestLikes_MissingImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.likes.Toggle(ctx, "missing", "u1")
	requireKind(t, err, apperrors.KindNotFound, "IMAGE_NOT_FOUND")
	assert.Zero(t, f.store.Len())

	likers, err := f.likes.Likers(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, likers.Users)
	assert.NotNil(t, likers.Users)
}
