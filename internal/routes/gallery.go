package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/services"
)

// GalleryHandler handles image metadata and likes
type GalleryHandler struct {
	gallery *services.Gallery
	likes   *services.Likes
}

func NewGalleryHandler(gallery *services.Gallery, likes *services.Likes) *GalleryHandler {
	return &GalleryHandler{gallery: gallery, likes: likes}
}

// ListPublic pages through public images, newest first
// @Summary Public gallery
// @Tags Gallery
// @Produce json
// @Param cursor query string false "Opaque cursor from a previous page"
// @Success 200 {object} models.ImagePage
// @Failure 400 {object} errors.ErrorResponse "Invalid cursor"
// @Router /gallery/public [get]
func (h *GalleryHandler) ListPublic(c *fiber.Ctx) error {
	page, err := h.gallery.ListPublic(c.UserContext(), c.Query("cursor"))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// ListMine returns the caller's images, public and private
// @Summary My images
// @Tags Gallery
// @Produce json
// @Security Bearer
// @Success 200 {object} models.ImageList
// @Failure 401 {object} errors.ErrorResponse
// @Router /gallery/me [get]
func (h *GalleryHandler) ListMine(c *fiber.Ctx) error {
	list, err := h.gallery.ListOwner(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// Create records metadata for an uploaded object
// @Summary Create image
// @Description The key must come from /files/presign for the same caller
// @Tags Gallery
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body models.CreateImageRequest true "Image metadata"
// @Success 201 {object} models.Image
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse "Key outside the caller's upload prefix"
// @Router /gallery [post]
func (h *GalleryHandler) Create(c *fiber.Ctx) error {
	var req models.CreateImageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	img, err := h.gallery.Create(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(img)
}

// UpdateDescription replaces an image description
// @Summary Update description
// @Tags Gallery
// @Accept json
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Param request body models.UpdateDescriptionRequest true "Description"
// @Success 200 {object} models.OKResponse
// @Failure 403 {object} errors.ErrorResponse "Not the owner"
// @Failure 404 {object} errors.ErrorResponse
// @Router /gallery/{imageId}/description [put]
func (h *GalleryHandler) UpdateDescription(c *fiber.Ctx) error {
	var req models.UpdateDescriptionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.gallery.UpdateDescription(c.UserContext(), c.Params("imageId"), middleware.GetUserID(c), req.Description); err != nil {
		return err
	}
	return c.JSON(models.OKResponse{OK: true})
}

// TogglePublic sets image visibility
// @Summary Set visibility
// @Tags Gallery
// @Accept json
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Param request body models.TogglePublicRequest true "Visibility"
// @Success 200 {object} models.TogglePublicResponse
// @Failure 403 {object} errors.ErrorResponse "Not the owner"
// @Failure 404 {object} errors.ErrorResponse
// @Router /gallery/{imageId}/toggle-public [patch]
func (h *GalleryHandler) TogglePublic(c *fiber.Ctx) error {
	var req models.TogglePublicRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.gallery.SetPublic(c.UserContext(), c.Params("imageId"), middleware.GetUserID(c), *req.IsPublic); err != nil {
		return err
	}
	return c.JSON(models.TogglePublicResponse{OK: true, IsPublic: *req.IsPublic})
}

// Delete removes an image with its object, comments and likes
// @Summary Delete image
// @Tags Gallery
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Success 200 {object} models.OKResponse
// @Failure 403 {object} errors.ErrorResponse "Not the owner"
// @Failure 404 {object} errors.ErrorResponse
// @Router /gallery/{imageId} [delete]
func (h *GalleryHandler) Delete(c *fiber.Ctx) error {
	if err := h.gallery.Delete(c.UserContext(), c.Params("imageId"), middleware.GetUserID(c)); err != nil {
		return err
	}
	return c.JSON(models.OKResponse{OK: true})
}

// ToggleLike likes the image, or removes the caller's like if present
// @Summary Toggle like
// @Tags Likes
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Success 200 {object} models.LikeToggleResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse "Concurrent toggle"
// @Router /gallery/{imageId}/like [post]
func (h *GalleryHandler) ToggleLike(c *fiber.Ctx) error {
	liked, err := h.likes.Toggle(c.UserContext(), c.Params("imageId"), middleware.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(models.LikeToggleResponse{OK: true, Liked: liked})
}

// Likers lists who liked an image
// @Summary Image likers
// @Tags Likes
// @Produce json
// @Param imageId path string true "Image ID"
// @Success 200 {object} models.LikersResponse
// @Router /gallery/{imageId}/likes [get]
func (h *GalleryHandler) Likers(c *fiber.Ctx) error {
	resp, err := h.likes.Likers(c.UserContext(), c.Params("imageId"))
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
