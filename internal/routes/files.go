package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/services"
)

// FileHandler issues upload URLs
type FileHandler struct {
	uploads *services.Uploads
}

func NewFileHandler(uploads *services.Uploads) *FileHandler {
	return &FileHandler{uploads: uploads}
}

// Presign returns a short-lived PUT URL under the caller's upload prefix
// @Summary Presign upload
// @Tags Files
// @Produce json
// @Security Bearer
// @Param filename query string true "Original file name"
// @Param filetype query string true "MIME type (image/jpeg, image/png, image/webp, image/gif)"
// @Success 200 {object} models.PresignResponse
// @Failure 400 {object} errors.ErrorResponse
// @Router /files/presign [get]
func (h *FileHandler) Presign(c *fiber.Ctx) error {
	resp, err := h.uploads.Presign(c.UserContext(), middleware.GetUserID(c), c.Query("filename"), c.Query("filetype"))
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
