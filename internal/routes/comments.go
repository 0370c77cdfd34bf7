package routes

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/services"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// CommentHandler handles comments on an image
type CommentHandler struct {
	comments *services.Comments
}

func NewCommentHandler(comments *services.Comments) *CommentHandler {
	return &CommentHandler{comments: comments}
}

// createdAt reads the ?ts= query that locates a comment within its image
func createdAt(c *fiber.Ctx) (int64, error) {
	ts, err := strconv.ParseInt(c.Query("ts"), 10, 64)
	if err != nil || ts <= 0 {
		return 0, apperrors.Validation("TS_REQUIRED")
	}
	return ts, nil
}

// List returns the newest comments of an image
// @Summary List comments
// @Tags Comments
// @Produce json
// @Param imageId path string true "Image ID"
// @Success 200 {object} models.CommentList
// @Router /images/{imageId}/comments [get]
func (h *CommentHandler) List(c *fiber.Ctx) error {
	list, err := h.comments.List(c.UserContext(), c.Params("imageId"))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// Add posts a comment
// @Summary Add comment
// @Tags Comments
// @Accept json
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Param request body models.CommentRequest true "Comment"
// @Success 201 {object} models.CommentResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /images/{imageId}/comments [post]
func (h *CommentHandler) Add(c *fiber.Ctx) error {
	var req models.CommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	comment, err := h.comments.Add(c.UserContext(), c.Params("imageId"), middleware.GetUserID(c), req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(models.CommentResponse{OK: true, Comment: *comment})
}

// Update edits the caller's comment
// @Summary Edit comment
// @Tags Comments
// @Accept json
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Param commentId path string true "Comment ID"
// @Param ts query int true "Comment createdAt in epoch milliseconds"
// @Param request body models.CommentRequest true "Comment"
// @Success 200 {object} models.OKResponse
// @Failure 403 {object} errors.ErrorResponse "Not the author"
// @Failure 404 {object} errors.ErrorResponse
// @Router /images/{imageId}/comments/{commentId} [put]
func (h *CommentHandler) Update(c *fiber.Ctx) error {
	ts, err := createdAt(c)
	if err != nil {
		return err
	}
	var req models.CommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.comments.Update(c.UserContext(), c.Params("imageId"), c.Params("commentId"), ts, middleware.GetUserID(c), req.Text); err != nil {
		return err
	}
	return c.JSON(models.OKResponse{OK: true})
}

// Delete removes the caller's comment
// @Summary Delete comment
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param imageId path string true "Image ID"
// @Param commentId path string true "Comment ID"
// @Param ts query int true "Comment createdAt in epoch milliseconds"
// @Success 200 {object} models.OKResponse
// @Failure 403 {object} errors.ErrorResponse "Not the author"
// @Failure 404 {object} errors.ErrorResponse
// @Router /images/{imageId}/comments/{commentId} [delete]
func (h *CommentHandler) Delete(c *fiber.Ctx) error {
	ts, err := createdAt(c)
	if err != nil {
		return err
	}
	if err := h.comments.Delete(c.UserContext(), c.Params("imageId"), c.Params("commentId"), ts, middleware.GetUserID(c)); err != nil {
		return err
	}
	return c.JSON(models.OKResponse{OK: true})
}
