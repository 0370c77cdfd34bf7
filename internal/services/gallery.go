package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/logging"
	"github.com/mindgallery/gallery-api/internal/metrics"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/objects"
	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// Page sizes
const (
	PublicPageSize = 20
	OwnerPageSize  = 50
	sweepPageSize  = 100
)

// Gallery manages image metadata, visibility and deletion
type Gallery struct {
	store      store.Store
	objects    objects.Store
	presignTTL time.Duration
	logger     *logrus.Logger
	now        Clock
}

// NewGallery creates a new gallery service. presignTTL bounds the download URLs handed out.
func NewGallery(st store.Store, objs objects.Store, presignTTL time.Duration, logger *logrus.Logger) *Gallery {
	return &Gallery{store: st, objects: objs, presignTTL: presignTTL, logger: logger, now: time.Now}
}

// Create records an uploaded image. The object itself was uploaded with a presigned URL
// under the caller's own upload prefix.
func (s *Gallery) Create(ctx context.Context, ownerID string, req models.CreateImageRequest) (*models.Image, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, apperrors.Validation("KEY_REQUIRED")
	}
	if !strings.HasPrefix(key, UploadPrefix(ownerID)) || hasDotSegment(key) {
		return nil, apperrors.Forbidden("FORBIDDEN_KEY")
	}
	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	imageID := uuid.NewString()
	createdAt := nowMillis(s.now)
	image := models.Image{
		Key:         store.ImageKey(imageID),
		ImageID:     imageID,
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		S3Key:       key,
		IsPublic:    req.IsPublic,
		Tags:        tags,
		CreatedAt:   createdAt,
		GSI3PK:      store.OwnerIndexPK(ownerID),
		GSI3SK:      store.CreatedSK(createdAt, imageID),
	}
	if image.IsPublic {
		image.GSI4PK = store.PublicIndexPK
		image.GSI4SK = store.CreatedSK(createdAt, imageID)
	}

	if err := s.store.Put(ctx, image, store.NotExists()); err != nil {
		return nil, storeError("CREATE_IMAGE_FAILED", err)
	}
	metrics.RecordImageOperation("create")

	s.logger.WithFields(logrus.Fields{
		"user_id":   ownerID,
		"image_id":  imageID,
		"is_public": image.IsPublic,
	}).Info("Image created")
	return &image, nil
}

// hasDotSegment reports whether a key holds "." or ".." path segments, which some
// object stores resolve out of the caller's prefix
func hasDotSegment(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func normalizeTags(raw []string) ([]string, error) {
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len([]rune(t)) > models.MaxTagLength {
			return nil, apperrors.Validationf("TAG_TOO_LONG", "tags are limited to %d characters", models.MaxTagLength)
		}
		tags = append(tags, t)
	}
	if len(tags) > models.MaxTags {
		return nil, apperrors.Validationf("TOO_MANY_TAGS", "at most %d tags are allowed", models.MaxTags)
	}
	return tags, nil
}

// ListPublic returns one page of the public feed, newest first
func (s *Gallery) ListPublic(ctx context.Context, cursor string) (*models.ImagePage, error) {
	var images []models.Image
	next, err := s.store.Query(ctx, store.Query{
		Index:      store.PublicIndex,
		Partition:  store.PublicIndexPK,
		Descending: true,
		Limit:      PublicPageSize,
		Cursor:     cursor,
	}, &images)
	if err != nil {
		return nil, storeError("LIST_PUBLIC_FAILED", err)
	}

	page := &models.ImagePage{Items: s.views(ctx, images)}
	if next != "" {
		page.Next = &next
	}
	return page, nil
}

// ListOwner returns the newest images of one owner, public or not
func (s *Gallery) ListOwner(ctx context.Context, ownerID string) (*models.ImageList, error) {
	var images []models.Image
	_, err := s.store.Query(ctx, store.Query{
		Index:      store.OwnerIndex,
		Partition:  store.OwnerIndexPK(ownerID),
		Descending: true,
		Limit:      OwnerPageSize,
	}, &images)
	if err != nil {
		return nil, storeError("LIST_MY_GALLERY_FAILED", err)
	}
	return &models.ImageList{Items: s.views(ctx, images)}, nil
}

func (s *Gallery) views(ctx context.Context, images []models.Image) []models.ImageView {
	views := make([]models.ImageView, 0, len(images))
	for _, img := range images {
		if img.Tags == nil {
			img.Tags = []string{}
		}
		view := models.ImageView{Image: img}
		if img.S3Key != "" {
			u, err := s.objects.PresignGet(ctx, img.S3Key, s.presignTTL)
			if err != nil {
				s.logger.WithError(err).WithField("image_id", img.ImageID).Warn("Failed to sign image URL")
			} else {
				view.ImageURL = &u
			}
		}
		views = append(views, view)
	}
	return views
}

// ownerCheck turns a failed ownership condition into 404 or 403 depending on whether the
// image was there to be checked
func ownerCheck(err error) error {
	cf, ok := store.AsConditionFailed(err)
	if !ok {
		return nil
	}
	if !cf.Exists {
		return apperrors.NotFound("IMAGE_NOT_FOUND")
	}
	return apperrors.Forbidden("FORBIDDEN_NOT_OWNER")
}

// UpdateDescription sets the description of an image the caller owns
func (s *Gallery) UpdateDescription(ctx context.Context, imageID, callerID, description string) error {
	err := s.store.Update(ctx, store.ImageKey(imageID), store.Update{
		Set: map[string]any{
			"description": strings.TrimSpace(description),
			"updatedAt":   nowMillis(s.now),
		},
	}, nil, store.Equals(store.AttrGSI3PK, store.OwnerIndexPK(callerID)))
	if appErr := ownerCheck(err); appErr != nil {
		return appErr
	}
	if err != nil {
		return storeError("UPDATE_DESCRIPTION_FAILED", err)
	}
	metrics.RecordImageOperation("describe")
	return nil
}

// SetPublic flips visibility. Making an image public re-enters it into the feed at the
// current time; making it private removes the feed projection in the same write.
func (s *Gallery) SetPublic(ctx context.Context, imageID, callerID string, public bool) error {
	now := nowMillis(s.now)
	upd := store.Update{Set: map[string]any{
		"isPublic":  public,
		"updatedAt": now,
	}}
	if public {
		upd.Set[store.AttrGSI4PK] = store.PublicIndexPK
		upd.Set[store.AttrGSI4SK] = store.CreatedSK(now, imageID)
	} else {
		upd.Remove = []string{store.AttrGSI4PK, store.AttrGSI4SK}
	}

	err := s.store.Update(ctx, store.ImageKey(imageID), upd, nil,
		store.Equals(store.AttrGSI3PK, store.OwnerIndexPK(callerID)))
	if appErr := ownerCheck(err); appErr != nil {
		return appErr
	}
	if err != nil {
		return storeError("TOGGLE_PUBLIC_FAILED", err)
	}
	metrics.RecordImageOperation("visibility")
	return nil
}

// Delete removes an image, its stored object, and every comment and like under it.
// Comments and likes are swept before and after the metadata delete; re-issuing a delete
// for an image that is already gone still clears whatever an interrupted call left behind.
func (s *Gallery) Delete(ctx context.Context, imageID, callerID string) error {
	logger := logging.WithImage(s.logger, callerID, imageID)

	var image models.Image
	err := s.store.Get(ctx, store.ImageKey(imageID), &image)
	if errors.Is(err, store.ErrNotFound) {
		if swept, err := s.sweepAll(ctx, imageID); err != nil {
			return storeError("DELETE_IMAGE_FAILED", err)
		} else if swept > 0 {
			metrics.RecordCascadeDelete(swept)
			logger.WithField("swept", swept).Warn("Cleared items left by an interrupted delete")
		}
		return apperrors.NotFound("IMAGE_NOT_FOUND")
	}
	if err != nil {
		return storeError("DELETE_IMAGE_FAILED", err)
	}
	if image.OwnerID != callerID {
		return apperrors.Forbidden("FORBIDDEN_NOT_OWNER")
	}

	swept, err := s.sweepAll(ctx, imageID)
	if err != nil {
		return storeError("DELETE_IMAGE_FAILED", err)
	}

	err = s.store.Delete(ctx, image.Key, store.Equals(store.AttrGSI3PK, store.OwnerIndexPK(callerID)))
	if appErr := ownerCheck(err); appErr != nil {
		return appErr
	}
	if err != nil {
		return storeError("DELETE_IMAGE_FAILED", err)
	}
	metrics.RecordImageOperation("delete")

	if image.S3Key != "" {
		if err := s.objects.Delete(ctx, image.S3Key); err != nil {
			logger.WithError(err).WithField("s3_key", image.S3Key).Error("Failed to delete image object")
		}
	}

	// comments and likes written between the first sweep and the metadata delete
	late, err := s.sweepAll(ctx, imageID)
	swept += late
	metrics.RecordCascadeDelete(swept)
	if err != nil {
		return storeError("DELETE_IMAGE_FAILED", err)
	}

	logger.WithField("swept", swept).Info("Image deleted")
	return nil
}

func (s *Gallery) sweepAll(ctx context.Context, imageID string) (int, error) {
	total := 0
	for _, kind := range []store.Kind{store.KindComment, store.KindLike} {
		n, err := s.sweep(ctx, imageID, kind)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// sweep deletes every item of one kind in the image partition, page by page
func (s *Gallery) sweep(ctx context.Context, imageID string, kind store.Kind) (int, error) {
	total := 0
	cursor := ""
	for {
		var keys []store.Key
		next, err := s.store.Query(ctx, store.Query{
			Index:      store.TableIndex,
			Partition:  store.ImagePartition(imageID),
			SortPrefix: kind.Prefix(),
			Limit:      sweepPageSize,
			Cursor:     cursor,
			KeysOnly:   true,
		}, &keys)
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			if err := s.store.BatchDelete(ctx, keys); err != nil {
				return total, err
			}
			total += len(keys)
		}
		if next == "" {
			return total, nil
		}
		cursor = next
	}
}
