package services

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

func TestUploads_Presign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.uploads.Presign(ctx, "u1", "my cat (1).PNG", "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Key, "uploads/u1/"), resp.Key)
	assert.True(t, strings.HasSuffix(resp.Key, "_my_cat__1_.PNG"), resp.Key)
	assert.Equal(t, 300, resp.ExpiresIn)

	u, err := url.Parse(resp.UploadURL)
	require.NoError(t, err)
	assert.Equal(t, "/"+resp.Key, u.Path)
	assert.Equal(t, "put", u.Query().Get("op"))

	// the presigned key is accepted when creating the image
	f.objects.Upload(resp.Key, []byte("png"))
	_, err = f.gallery.Create(ctx, "u1", createRequest(resp.Key))
	require.NoError(t, err)
}

func TestUploads_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uploads.Presign(ctx, "u1", "", "image/png")
	requireKind(t, err, apperrors.KindValidation, "FILENAME_FILETYPE_REQUIRED")

	_, err = f.uploads.Presign(ctx, "u1", "a.png", "")
	requireKind(t, err, apperrors.KindValidation, "FILENAME_FILETYPE_REQUIRED")

	_, err = f.uploads.Presign(ctx, "u1", "run.sh", "application/x-sh")
	requireKind(t, err, apperrors.KindValidation, "UNSUPPORTED_FILE_TYPE")
}
