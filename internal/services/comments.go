package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/metrics"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// CommentPageSize caps the comments returned for one image
const CommentPageSize = 50

// Comments manages the comments of an image and keeps its commentCount in step
type Comments struct {
	store  store.Store
	logger *logrus.Logger
	now    Clock
}

func NewComments(st store.Store, logger *logrus.Logger) *Comments {
	return &Comments{store: st, logger: logger, now: time.Now}
}

func commentText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.Validation("TEXT_REQUIRED")
	}
	if utf8.RuneCountInString(text) > models.MaxCommentLength {
		return "", apperrors.Validationf("TEXT_TOO_LONG", "comments are limited to %d characters", models.MaxCommentLength)
	}
	return text, nil
}

// Add stores a comment and increments commentCount in one transaction. The increment is
// conditioned on the image existing, which also guards the insert.
func (s *Comments) Add(ctx context.Context, imageID, authorID, text string) (*models.Comment, error) {
	text, err := commentText(text)
	if err != nil {
		return nil, err
	}

	now := s.now()
	createdAt := now.UnixMilli()
	commentID := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	comment := models.Comment{
		Key:       store.CommentKey(imageID, createdAt, commentID),
		CommentID: commentID,
		ImageID:   imageID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: createdAt,
	}

	err = s.store.Transact(ctx,
		store.PutOp{Item: comment, Conditions: []store.Condition{store.NotExists()}},
		store.UpdateOp{
			Key:        store.ImageKey(imageID),
			Update:     store.Update{Add: map[string]int64{"commentCount": 1}},
			Conditions: []store.Condition{store.Exists()},
		},
	)
	if cf, ok := store.AsConditionFailed(err); ok {
		if cf.Index == 1 {
			return nil, apperrors.NotFound("IMAGE_NOT_FOUND")
		}
		return nil, apperrors.Conflict("COMMENT_EXISTS")
	}
	if err != nil {
		return nil, storeError("ADD_COMMENT_FAILED", err)
	}
	metrics.RecordCommentOperation("add")

	s.logger.WithFields(logrus.Fields{
		"user_id":    authorID,
		"image_id":   imageID,
		"comment_id": commentID,
	}).Debug("Comment added")
	return &comment, nil
}

// List returns the newest comments of an image
func (s *Comments) List(ctx context.Context, imageID string) (*models.CommentList, error) {
	var comments []models.Comment
	_, err := s.store.Query(ctx, store.Query{
		Index:      store.TableIndex,
		Partition:  store.ImagePartition(imageID),
		SortPrefix: store.KindComment.Prefix(),
		Descending: true,
		Limit:      CommentPageSize,
	}, &comments)
	if err != nil {
		return nil, storeError("LIST_COMMENTS_FAILED", err)
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	return &models.CommentList{Items: comments}, nil
}

// authorCheck maps a failed author condition to 404 when the comment is gone and 403 otherwise
func authorCheck(err error) error {
	cf, ok := store.AsConditionFailed(err)
	if !ok {
		return nil
	}
	if cf.Index == 0 && cf.Exists {
		return apperrors.Forbidden("FORBIDDEN_NOT_AUTHOR")
	}
	if cf.Index == 0 {
		return apperrors.NotFound("COMMENT_NOT_FOUND")
	}
	return apperrors.NotFound("IMAGE_NOT_FOUND")
}

// Update replaces the text of a comment written by the caller. createdAt is part of the
// comment's key and must be supplied by the client.
func (s *Comments) Update(ctx context.Context, imageID, commentID string, createdAt int64, authorID, text string) error {
	if createdAt <= 0 {
		return apperrors.Validation("TS_REQUIRED")
	}
	text, err := commentText(text)
	if err != nil {
		return err
	}

	err = s.store.Update(ctx, store.CommentKey(imageID, createdAt, commentID), store.Update{
		Set: map[string]any{
			"text":      text,
			"updatedAt": nowMillis(s.now),
		},
	}, nil, store.Equals("authorId", authorID))
	if appErr := authorCheck(err); appErr != nil {
		return appErr
	}
	if err != nil {
		return storeError("UPDATE_COMMENT_FAILED", err)
	}
	metrics.RecordCommentOperation("update")
	return nil
}

// Delete removes a comment written by the caller and decrements commentCount atomically
func (s *Comments) Delete(ctx context.Context, imageID, commentID string, createdAt int64, authorID string) error {
	if createdAt <= 0 {
		return apperrors.Validation("TS_REQUIRED")
	}

	err := s.store.Transact(ctx,
		store.DeleteOp{
			Key:        store.CommentKey(imageID, createdAt, commentID),
			Conditions: []store.Condition{store.Equals("authorId", authorID)},
		},
		store.UpdateOp{
			Key:        store.ImageKey(imageID),
			Update:     store.Update{Add: map[string]int64{"commentCount": -1}},
			Conditions: []store.Condition{store.Exists()},
		},
	)
	if appErr := authorCheck(err); appErr != nil {
		return appErr
	}
	if err != nil {
		return storeError("DELETE_COMMENT_FAILED", err)
	}
	metrics.RecordCommentOperation("delete")

	s.logger.WithFields(logrus.Fields{
		"user_id":    authorID,
		"image_id":   imageID,
		"comment_id": commentID,
	}).Debug("Comment deleted")
	return nil
}
