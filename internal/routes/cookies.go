package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/config"
	"github.com/mindgallery/gallery-api/internal/middleware"
)

// cookieJar writes the session cookies: the access token for every path, the refresh token
// only for the auth endpoints, and a script-readable CSRF token
type cookieJar struct {
	domain      string
	secure      bool
	refreshPath string
}

func newCookieJar(cfg *config.Config) cookieJar {
	return cookieJar{
		domain:      cfg.Cookie.Domain,
		secure:      cfg.Cookie.Secure,
		refreshPath: cfg.Server.BasePath + "/auth",
	}
}

func (j cookieJar) cookie(name, value, path string, expires time.Time, httpOnly bool) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   j.domain,
		Expires:  expires,
		Secure:   j.secure,
		HTTPOnly: httpOnly,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (j cookieJar) setSession(c *fiber.Ctx, pair *auth.TokenPair) {
	c.Cookie(j.cookie(middleware.AccessCookie, pair.AccessToken, "/", pair.AccessExpiresAt, true))
	c.Cookie(j.cookie(middleware.RefreshCookie, pair.RefreshToken, j.refreshPath, pair.RefreshExpiresAt, true))
	j.setCSRF(c, middleware.NewCSRFToken(), pair.AccessExpiresAt)
}

func (j cookieJar) setCSRF(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(j.cookie(middleware.CSRFCookie, token, "/", expires, false))
}

func (j cookieJar) clearSession(c *fiber.Ctx) {
	past := time.Unix(0, 0)
	c.Cookie(j.cookie(middleware.AccessCookie, "", "/", past, true))
	c.Cookie(j.cookie(middleware.RefreshCookie, "", j.refreshPath, past, true))
	c.Cookie(j.cookie(middleware.CSRFCookie, "", "/", past, false))
}
