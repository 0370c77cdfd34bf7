package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/objects"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// AllowedImageTypes are the content types accepted for direct upload
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

var unsafeNameChars = regexp.MustCompile(`[^\w.\-]`)

// UploadPrefix is the object key prefix a user may upload under and reference from an image
func UploadPrefix(userID string) string {
	return "uploads/" + userID + "/"
}

// Uploads signs direct-to-bucket uploads
type Uploads struct {
	objects objects.Store
	ttl     time.Duration
	logger  *logrus.Logger
	now     Clock
}

func NewUploads(objs objects.Store, ttl time.Duration, logger *logrus.Logger) *Uploads {
	return &Uploads{objects: objs, ttl: ttl, logger: logger, now: time.Now}
}

// Presign returns a PUT URL for uploads/<userId>/<unixMillis>_<safeName>
func (s *Uploads) Presign(ctx context.Context, userID, filename, filetype string) (*models.PresignResponse, error) {
	filename = strings.TrimSpace(filename)
	filetype = strings.ToLower(strings.TrimSpace(filetype))
	if filename == "" || filetype == "" {
		return nil, apperrors.Validation("FILENAME_FILETYPE_REQUIRED")
	}
	if !AllowedImageTypes[filetype] {
		return nil, apperrors.Validationf("UNSUPPORTED_FILE_TYPE", "%s is not an accepted image type", filetype)
	}

	key := fmt.Sprintf("%s%d_%s", UploadPrefix(userID), nowMillis(s.now), unsafeNameChars.ReplaceAllString(filename, "_"))
	u, err := s.objects.PresignPut(ctx, key, filetype, s.ttl)
	if err != nil {
		return nil, apperrors.Internal("PRESIGN_FAILED", err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "s3_key": key}).Debug("Upload presigned")
	return &models.PresignResponse{
		UploadURL: u,
		Key:       key,
		ExpiresIn: int(s.ttl.Seconds()),
	}, nil
}
