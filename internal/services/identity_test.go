package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

func register(t *testing.T, f *fixture, username string) *models.RegisterResponse {
	t.Helper()
	resp, err := f.identity.Register(context.Background(), models.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password1",
		Name:     strings.ToUpper(username),
	})
	require.NoError(t, err)
	return resp
}

func TestIdentity_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := register(t, f, "alice")
	assert.NotEmpty(t, resp.UserID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.Equal(t, "ALICE", resp.Name)

	var user models.User
	require.NoError(t, f.store.Get(ctx, store.UserKey(resp.UserID), &user))
	assert.NotEqual(t, "password1", user.PasswordHash)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, store.UsernameIndexPK("alice"), user.GSI1PK)
	assert.Equal(t, store.EmailIndexPK("alice@example.com"), user.GSI2PK)

	t.Run("username taken", func(t *testing.T) {
		_, err := f.identity.Register(ctx, models.RegisterRequest{Username: "alice", Email: "other@example.com", Password: "password1"})
		requireKind(t, err, apperrors.KindConflict, "USERNAME_TAKEN")
	})

	t.Run("email taken regardless of case", func(t *testing.T) {
		_, err := f.identity.Register(ctx, models.RegisterRequest{Username: "alice2", Email: "ALICE@example.com", Password: "password1"})
		requireKind(t, err, apperrors.KindConflict, "EMAIL_TAKEN")
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := f.identity.Register(ctx, models.RegisterRequest{Username: "bob", Email: " "})
		requireKind(t, err, apperrors.KindValidation, "MISSING_FIELDS")
	})
}

func TestIdentity_RegisterGuardsCatchStaleIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a guard without a visible profile, as seen while the index lags behind
	require.NoError(t, f.store.Put(ctx, models.UniqueGuard{Key: store.UsernameGuardKey("carol"), UserID: "someone"}))

	_, err := f.identity.Register(ctx, models.RegisterRequest{Username: "carol", Email: "carol@example.com", Password: "password1"})
	requireKind(t, err, apperrors.KindConflict, "USERNAME_TAKEN")
	assert.Equal(t, 1, f.store.Len(), "nothing else may be written")
}

func TestIdentity_ConcurrentRegistrationHasOneWinner(t *testing.T) {
	f := newFixture(t)
	const attempts = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.identity.Register(context.Background(), models.RegisterRequest{
				Username: "dave",
				Email:    fmt.Sprintf("dave%d@example.com", i),
				Password: "password1",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperrors.IsKind(err, apperrors.KindConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestIdentity_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := register(t, f, "erin")

	pair, err := f.identity.Login(ctx, "erin", "password1")
	require.NoError(t, err)
	claims, err := f.identity.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.UserID, claims.Subject)
	assert.Equal(t, "erin", claims.Username)

	var user models.User
	require.NoError(t, f.store.Get(ctx, store.UserKey(resp.UserID), &user))
	assert.Equal(t, pair.RotationID, user.LastRefreshID)

	_, err = f.identity.Login(ctx, "erin", "wrong")
	requireKind(t, err, apperrors.KindUnauthenticated, "INVALID_CREDENTIALS")

	_, err = f.identity.Login(ctx, "nobody", "password1")
	requireKind(t, err, apperrors.KindUnauthenticated, "INVALID_CREDENTIALS")
}

func TestIdentity_RefreshRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register(t, f, "frank")

	first, err := f.identity.Login(ctx, "frank", "password1")
	require.NoError(t, err)

	second, err := f.identity.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RotationID, second.RotationID)

	_, err = f.identity.Refresh(ctx, first.RefreshToken)
	requireKind(t, err, apperrors.KindUnauthenticated, "INVALID_REFRESH")

	third, err := f.identity.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	// a new login supersedes the whole chain
	_, err = f.identity.Login(ctx, "frank", "password1")
	require.NoError(t, err)
	_, err = f.identity.Refresh(ctx, third.RefreshToken)
	requireKind(t, err, apperrors.KindUnauthenticated, "INVALID_REFRESH")

	_, err = f.identity.Refresh(ctx, "")
	requireKind(t, err, apperrors.KindUnauthenticated, "NO_REFRESH")

	_, err = f.identity.Refresh(ctx, first.AccessToken)
	requireKind(t, err, apperrors.KindUnauthenticated, "INVALID_REFRESH")
}

func TestIdentity_ConcurrentRefreshRedeemsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register(t, f, "gina")
	pair, err := f.identity.Login(ctx, "gina", "password1")
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.identity.Refresh(ctx, pair.RefreshToken); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestIdentity_MeAndAbout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := register(t, f, "hank")

	me, err := f.identity.Me(ctx, resp.UserID)
	require.NoError(t, err)
	assert.Equal(t, "hank", me.Username)

	long := strings.Repeat("é", models.MaxAboutLength+10)
	updated, err := f.identity.UpdateAbout(ctx, resp.UserID, long)
	require.NoError(t, err)
	assert.Equal(t, models.MaxAboutLength, len([]rune(updated.About)))
	assert.NotZero(t, updated.UpdatedAt)
	assert.Equal(t, "hank", updated.Username)

	_, err = f.identity.Me(ctx, "missing")
	requireKind(t, err, apperrors.KindNotFound, "USER_NOT_FOUND")

	_, err = f.identity.UpdateAbout(ctx, "missing", "hi")
	requireKind(t, err, apperrors.KindNotFound, "USER_NOT_FOUND")
	_, err = f.identity.Me(ctx, "missing")
	assert.Error(t, err, "a failed about update must not create a profile")
}
