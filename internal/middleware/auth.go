package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/auth"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// Cookie names shared by the auth handlers and the middleware
const (
	AccessCookie  = "authToken"
	RefreshCookie = "refresh_token"
	CSRFCookie    = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"
)

const (
	localUserID     = "user_id"
	localUserClaims = "user_claims"
	localAuthSource = "auth_source"
)

// Where the access token was read from
const (
	SourceCookie = "cookie"
	SourceBearer = "bearer"
)

type AuthMiddleware struct {
	tokens *auth.Tokens
	logger *logrus.Logger
}

func NewAuthMiddleware(tokens *auth.Tokens, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

// Authenticate requires a valid access token from the authToken cookie or a Bearer header.
func (a *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, source := a.extract(c)
		if token == "" {
			return apperrors.Unauthenticated("NO_TOKEN")
		}

		claims, err := a.tokens.VerifyAccess(token)
		if err != nil {
			a.logger.WithError(err).WithField("path", c.Path()).Debug("Token validation failed")
			if errors.Is(err, auth.ErrExpiredToken) {
				return apperrors.New(apperrors.KindUnauthenticated, "TOKEN_EXPIRED", err)
			}
			return apperrors.New(apperrors.KindUnauthenticated, "INVALID_TOKEN", err)
		}

		c.Locals(localUserClaims, claims)
		c.Locals(localUserID, claims.Subject)
		c.Locals(localAuthSource, source)
		return c.Next()
	}
}

// extract prefers the Authorization header; browsers send the cookie
func (a *AuthMiddleware) extract(c *fiber.Ctx) (string, string) {
	const bearerPrefix = "Bearer "
	if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):]), SourceBearer
	}
	if cookie := c.Cookies(AccessCookie); cookie != "" {
		return cookie, SourceCookie
	}
	return "", ""
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUserClaims extracts the verified access claims from context
func GetUserClaims(c *fiber.Ctx) *auth.AccessClaims {
	if claims, ok := c.Locals(localUserClaims).(*auth.AccessClaims); ok {
		return claims
	}
	return nil
}

// GetAuthSource reports whether the request authenticated with a cookie or a Bearer header
func GetAuthSource(c *fiber.Ctx) string {
	if source, ok := c.Locals(localAuthSource).(string); ok {
		return source
	}
	return ""
}
