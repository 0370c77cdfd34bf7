package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/models"
	"github.com/mindgallery/gallery-api/internal/services"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	identity  *services.Identity
	cookies   cookieJar
	accessTTL time.Duration
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(identity *services.Identity, cookies cookieJar, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{identity: identity, cookies: cookies, accessTTL: accessTTL}
}

// Register handles user registration
// @Summary Register a new user
// @Description Create an account with a unique username and email
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.RegisterRequest true "Registration details"
// @Success 201 {object} models.RegisterResponse
// @Failure 400 {object} errors.ErrorResponse "Missing or invalid fields"
// @Failure 409 {object} errors.ErrorResponse "Username or email taken"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	resp, err := h.identity.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Login handles user login
// @Summary User login
// @Description Authenticate and receive session cookies plus the tokens in the body
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.AuthResponse
// @Failure 400 {object} errors.ErrorResponse "Missing fields"
// @Failure 401 {object} errors.ErrorResponse "Invalid credentials"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	pair, err := h.identity.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return h.session(c, pair)
}

// Refresh rotates the refresh token
// @Summary Refresh session
// @Description Exchange the refresh token (body, else cookie) for a new token pair. Each refresh token is honored once.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.RefreshRequest false "Refresh token for non-browser clients"
// @Success 200 {object} models.AuthResponse
// @Failure 401 {object} errors.ErrorResponse "Missing, invalid or reused refresh token"
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	// an explicit body token wins over a possibly stale cookie
	var req models.RefreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	token := req.RefreshToken
	if token == "" {
		token = c.Cookies(middleware.RefreshCookie)
	}

	pair, err := h.identity.Refresh(c.UserContext(), token)
	if err != nil {
		return err
	}
	return h.session(c, pair)
}

func (h *AuthHandler) session(c *fiber.Ctx, pair *auth.TokenPair) error {
	h.cookies.setSession(c, pair)
	return c.JSON(models.AuthResponse{
		OK:           true,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(h.accessTTL.Seconds()),
	})
}

// Logout clears the session cookies
// @Summary Logout
// @Tags Auth
// @Produce json
// @Success 200 {object} models.OKResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.cookies.clearSession(c)
	return c.JSON(models.OKResponse{OK: true})
}

// CSRF issues a fresh double-submit token
// @Summary CSRF token
// @Description Set a readable csrf_token cookie and return the same value
// @Tags Auth
// @Produce json
// @Success 200 {object} models.CSRFResponse
// @Router /auth/csrf [get]
func (h *AuthHandler) CSRF(c *fiber.Ctx) error {
	token := middleware.NewCSRFToken()
	h.cookies.setCSRF(c, token, time.Now().Add(h.accessTTL))
	return c.JSON(models.CSRFResponse{CSRFToken: token})
}
