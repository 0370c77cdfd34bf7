package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/logging"
	"github.com/mindgallery/gallery-api/internal/metrics"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// LikersLimit caps the user ids returned for one image
const LikersLimit = 100

// Likes toggles per-user likes and keeps likeCount equal to the number of like items
type Likes struct {
	store  store.Store
	logger *logrus.Logger
	now    Clock
}

func NewLikes(st store.Store, logger *logrus.Logger) *Likes {
	return &Likes{store: st, logger: logger, now: time.Now}
}

// Toggle likes the image if the caller has not, and unlikes it otherwise. It reports the
// state it left behind.
func (s *Likes) Toggle(ctx context.Context, imageID, userID string) (bool, error) {
	like := models.Like{
		Key:       store.LikeKey(imageID, userID),
		ImageID:   imageID,
		UserID:    userID,
		CreatedAt: nowMillis(s.now),
	}

	err := s.store.Transact(ctx,
		store.PutOp{Item: like, Conditions: []store.Condition{store.NotExists()}},
		counterOp(imageID, 1),
	)
	if err == nil {
		metrics.RecordLikeToggle(true)
		return true, nil
	}

	cf, ok := store.AsConditionFailed(err)
	switch {
	case !ok:
		return false, storeError("TOGGLE_LIKE_FAILED", err)
	case cf.Index == 1:
		return false, apperrors.NotFound("IMAGE_NOT_FOUND")
	}

	// already liked
	err = s.store.Transact(ctx,
		store.DeleteOp{Key: like.Key, Conditions: []store.Condition{store.Exists()}},
		counterOp(imageID, -1),
	)
	if cf, ok := store.AsConditionFailed(err); ok {
		if cf.Index == 1 {
			return false, apperrors.NotFound("IMAGE_NOT_FOUND")
		}
		// a concurrent toggle removed the like between the two transactions
		logging.WithImage(s.logger, userID, imageID).Warn("Concurrent like toggle")
		return false, apperrors.Conflict("TOGGLE_CONFLICT")
	}
	if errors.Is(err, store.ErrTransactionConflict) {
		return false, apperrors.New(apperrors.KindConflict, "TOGGLE_CONFLICT", err)
	}
	if err != nil {
		return false, storeError("TOGGLE_UNLIKE_FAILED", err)
	}
	metrics.RecordLikeToggle(false)
	return false, nil
}

func counterOp(imageID string, delta int64) store.UpdateOp {
	return store.UpdateOp{
		Key:        store.ImageKey(imageID),
		Update:     store.Update{Add: map[string]int64{"likeCount": delta}},
		Conditions: []store.Condition{store.Exists()},
	}
}

// Likers returns the ids of users who liked the image, capped at LikersLimit
func (s *Likes) Likers(ctx context.Context, imageID string) (*models.LikersResponse, error) {
	var likes []models.Like
	_, err := s.store.Query(ctx, store.Query{
		Index:      store.TableIndex,
		Partition:  store.ImagePartition(imageID),
		SortPrefix: store.KindLike.Prefix(),
		Limit:      LikersLimit,
	}, &likes)
	if err != nil {
		return nil, storeError("GET_LIKE_USER_FAILED", err)
	}
	users := make([]string, 0, len(likes))
	for _, l := range likes {
		users = append(users, l.UserID)
	}
	return &models.LikersResponse{Users: users, Count: len(users)}, nil
}
