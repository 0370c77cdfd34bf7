package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/logging"
	"github.com/mindgallery/gallery-api/internal/metrics"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// Identity handles accounts and sessions
type Identity struct {
	store  store.Store
	tokens *auth.Tokens
	logger *logrus.Logger
	now    Clock
}

// NewIdentity creates a new identity service
func NewIdentity(st store.Store, tokens *auth.Tokens, logger *logrus.Logger) *Identity {
	return &Identity{store: st, tokens: tokens, logger: logger, now: time.Now}
}

// Register creates a profile together with its username and email guard items.
// The guards make the uniqueness check a single conditional transaction.
func (s *Identity) Register(ctx context.Context, req models.RegisterRequest) (resp *models.RegisterResponse, err error) {
	defer func() { metrics.RecordAuthEvent("register", err) }()

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" || req.Password == "" {
		return nil, apperrors.Validation("MISSING_FIELDS")
	}

	// advisory lookups give a precise error in the common case
	if taken, err := s.indexHas(ctx, store.UsernameIndex, store.UsernameIndexPK(username)); err != nil {
		return nil, err
	} else if taken {
		return nil, apperrors.Conflict("USERNAME_TAKEN")
	}
	if taken, err := s.indexHas(ctx, store.EmailIndex, store.EmailIndexPK(email)); err != nil {
		return nil, err
	} else if taken {
		return nil, apperrors.Conflict("EMAIL_TAKEN")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.Internal("REGISTER_FAILED", err)
	}

	userID := uuid.NewString()
	user := models.User{
		Key:          store.UserKey(userID),
		UserID:       userID,
		Username:     username,
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         models.RoleUser,
		PasswordHash: hash,
		CreatedAt:    nowMillis(s.now),
		GSI1PK:       store.UsernameIndexPK(username),
		GSI1SK:       store.SKProfile,
		GSI2PK:       store.EmailIndexPK(email),
		GSI2SK:       store.SKProfile,
	}

	err = s.store.Transact(ctx,
		store.PutOp{Item: user, Conditions: []store.Condition{store.NotExists()}},
		store.PutOp{Item: models.UniqueGuard{Key: store.UsernameGuardKey(username), UserID: userID}, Conditions: []store.Condition{store.NotExists()}},
		store.PutOp{Item: models.UniqueGuard{Key: store.EmailGuardKey(email), UserID: userID}, Conditions: []store.Condition{store.NotExists()}},
	)
	if cf, ok := store.AsConditionFailed(err); ok {
		switch cf.Index {
		case 1:
			return nil, apperrors.Conflict("USERNAME_TAKEN")
		case 2:
			return nil, apperrors.Conflict("EMAIL_TAKEN")
		default:
			return nil, apperrors.Conflict("USER_EXISTS")
		}
	}
	if err != nil {
		return nil, storeError("REGISTER_FAILED", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.UserID,
		"username": user.Username,
	}).Info("User registered")

	return &models.RegisterResponse{
		UserID:   user.UserID,
		Username: user.Username,
		Email:    user.Email,
		Name:     user.Name,
	}, nil
}

func (s *Identity) indexHas(ctx context.Context, idx store.Index, partition string) (bool, error) {
	var keys []store.Key
	_, err := s.store.Query(ctx, store.Query{
		Index:      idx,
		Partition:  partition,
		SortEquals: store.SKProfile,
		Limit:      1,
		KeysOnly:   true,
	}, &keys)
	if err != nil {
		return false, storeError("REGISTER_FAILED", err)
	}
	return len(keys) > 0, nil
}

// Login verifies credentials and starts a new refresh chain. Any refresh token issued
// before stops being honored.
func (s *Identity) Login(ctx context.Context, username, password string) (pair *auth.TokenPair, err error) {
	defer func() { metrics.RecordAuthEvent("login", err) }()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.Validation("MISSING_FIELDS")
	}

	user, err := s.findByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		auth.BurnCompare(password)
		return nil, apperrors.Unauthenticated("INVALID_CREDENTIALS")
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, apperrors.Internal("LOGIN_FAILED", err)
	}
	if !ok {
		logging.WithUserID(s.logger, user.UserID).Warn("Invalid password")
		return nil, apperrors.Unauthenticated("INVALID_CREDENTIALS")
	}

	pair, err = s.tokens.Issue(identityOf(user))
	if err != nil {
		return nil, apperrors.Internal("TOKEN_ERROR", err)
	}

	err = s.store.Update(ctx, user.Key, store.Update{
		Set: map[string]any{"lastRefreshId": pair.RotationID},
	}, nil, store.Exists())
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, apperrors.Unauthenticated("INVALID_CREDENTIALS")
	}
	if err != nil {
		return nil, storeError("LOGIN_FAILED", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.UserID,
		"username": user.Username,
	}).Info("User logged in")
	return pair, nil
}

// the username index may lag behind writes, so the profile is re-read by its key
func (s *Identity) findByUsername(ctx context.Context, username string) (*models.User, error) {
	var keys []store.Key
	_, err := s.store.Query(ctx, store.Query{
		Index:      store.UsernameIndex,
		Partition:  store.UsernameIndexPK(username),
		SortEquals: store.SKProfile,
		Limit:      1,
		KeysOnly:   true,
	}, &keys)
	if err != nil {
		return nil, storeError("LOGIN_FAILED", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var user models.User
	err = s.store.Get(ctx, keys[0], &user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("LOGIN_FAILED", err)
	}
	return &user, nil
}

// Refresh exchanges a refresh token for a new pair. The stored rotation id is swapped
// with a compare-and-swap, so a token can be redeemed at most once.
func (s *Identity) Refresh(ctx context.Context, refreshToken string) (pair *auth.TokenPair, err error) {
	defer func() { metrics.RecordAuthEvent("refresh", err) }()

	if refreshToken == "" {
		return nil, apperrors.Unauthenticated("NO_REFRESH")
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "INVALID_REFRESH", err)
	}

	var user models.User
	err = s.store.Get(ctx, store.UserKey(claims.Subject), &user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Unauthenticated("INVALID_REFRESH")
	}
	if err != nil {
		return nil, storeError("REFRESH_FAILED", err)
	}
	if user.LastRefreshID != claims.RotationID {
		logging.WithUserID(s.logger, user.UserID).Warn("Superseded refresh token presented")
		return nil, apperrors.Unauthenticated("INVALID_REFRESH")
	}

	pair, err = s.tokens.Issue(identityOf(&user))
	if err != nil {
		return nil, apperrors.Internal("TOKEN_ERROR", err)
	}

	err = s.store.Update(ctx, user.Key, store.Update{
		Set: map[string]any{"lastRefreshId": pair.RotationID},
	}, nil, store.Equals("lastRefreshId", claims.RotationID))
	if errors.Is(err, store.ErrConditionFailed) {
		// another refresh with the same token won the swap
		return nil, apperrors.Unauthenticated("INVALID_REFRESH")
	}
	if err != nil {
		return nil, storeError("REFRESH_FAILED", err)
	}
	return pair, nil
}

// Me returns the caller's profile
func (s *Identity) Me(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.store.Get(ctx, store.UserKey(userID), &user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("USER_NOT_FOUND")
	}
	if err != nil {
		return nil, storeError("GET_ME_FAILED", err)
	}
	return &user, nil
}

// UpdateAbout replaces the about text, keeping at most MaxAboutLength runes
func (s *Identity) UpdateAbout(ctx context.Context, userID, about string) (*models.User, error) {
	about = truncateRunes(strings.TrimSpace(about), models.MaxAboutLength)

	var user models.User
	err := s.store.Update(ctx, store.UserKey(userID), store.Update{
		Set: map[string]any{
			"about":     about,
			"updatedAt": nowMillis(s.now),
		},
	}, &user, store.Exists())
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, apperrors.NotFound("USER_NOT_FOUND")
	}
	if err != nil {
		return nil, storeError("UPDATE_ABOUT_FAILED", err)
	}
	return &user, nil
}

func identityOf(u *models.User) auth.Identity {
	return auth.Identity{UserID: u.UserID, Username: u.Username, Name: u.Name, Role: u.Role}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
