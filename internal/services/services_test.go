package services

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/objects"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

type fixture struct {
	store    *store.Memory
	objects  *objects.Memory
	identity *Identity
	gallery  *Gallery
	comments *Comments
	likes    *Likes
	uploads  *Uploads
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// tickingClock advances one millisecond per call so items sort deterministically
func tickingClock() Clock {
	var ms atomic.Int64
	ms.Store(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	return func() time.Time {
		return time.UnixMilli(ms.Add(1))
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	st := store.NewMemory()
	objs := objects.NewMemory("gallery")
	tokens := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "mindgallery",
		Audience:      "mindgallery-web",
	})

	clock := tickingClock()
	f := &fixture{
		store:    st,
		objects:  objs,
		identity: NewIdentity(st, tokens, logger),
		gallery:  NewGallery(st, objs, 5*time.Minute, logger),
		comments: NewComments(st, logger),
		likes:    NewLikes(st, logger),
		uploads:  NewUploads(objs, 5*time.Minute, logger),
	}
	f.identity.now = clock
	f.gallery.now = clock
	f.comments.now = clock
	f.likes.now = clock
	f.uploads.now = clock
	return f
}

func requireKind(t *testing.T, err error, kind apperrors.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.As(err)
	assert.Equal(t, kind, appErr.Kind, "error: %v", err)
	if code != "" {
		assert.Equal(t, code, appErr.Code, "error: %v", err)
	}
}
