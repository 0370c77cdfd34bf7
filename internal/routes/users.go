package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/services"
)

// UserHandler serves the caller's own profile
type UserHandler struct {
	identity *services.Identity
}

func NewUserHandler(identity *services.Identity) *UserHandler {
	return &UserHandler{identity: identity}
}

// Me returns the caller's profile
// @Summary Current user
// @Tags Users
// @Produce json
// @Security Bearer
// @Success 200 {object} models.User
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse "Profile no longer exists"
// @Router /users/me [get]
func (h *UserHandler) Me(c *fiber.Ctx) error {
	user, err := h.identity.Me(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// UpdateAbout replaces the caller's about text. Text longer than the limit is truncated.
// @Summary Update about
// @Tags Users
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body models.UpdateAboutRequest true "About text"
// @Success 200 {object} models.User
// @Failure 401 {object} errors.ErrorResponse
// @Router /users/me/about [patch]
func (h *UserHandler) UpdateAbout(c *fiber.Ctx) error {
	var req models.UpdateAboutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.identity.UpdateAbout(c.UserContext(), middleware.GetUserID(c), req.About)
	if err != nil {
		return err
	}
	return c.JSON(user)
}
