package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/config"
	"github.com/mindgallery/gallery-api/internal/logging"
	"github.com/mindgallery/gallery-api/internal/metrics"
	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/services"
)

// Build information, set with -ldflags "-X .../internal/routes.Commit=..."
var (
	Commit    = "unknown"
	BuildTime = "unknown"
)

const serviceName = "gallery-api"

// ReadinessCheck is one dependency probed by /readyz
type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

// Dependencies are the services the handlers are built from
type Dependencies struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Middleware *middleware.Manager
	Tokens     *auth.Tokens
	Identity   *services.Identity
	Gallery    *services.Gallery
	Comments   *services.Comments
	Likes      *services.Likes
	Uploads    *services.Uploads
	Checks     []ReadinessCheck
}

// Setup configures all API routes
func Setup(app *fiber.App, deps Dependencies) {
	cfg := deps.Config
	mw := deps.Middleware

	authHandler := NewAuthHandler(deps.Identity, newCookieJar(cfg), deps.Tokens.AccessTTL())
	userHandler := NewUserHandler(deps.Identity)
	galleryHandler := NewGalleryHandler(deps.Gallery, deps.Likes)
	commentHandler := NewCommentHandler(deps.Comments)
	fileHandler := NewFileHandler(deps.Uploads)

	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(deps.Checks, deps.Logger))
	app.Get("/version", versionHandler)

	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())
	app.Get("/swagger/*", swagger.HandlerDefault)

	api := app.Group(cfg.Server.BasePath)
	api.Use(metrics.HTTPMetricsMiddleware())
	api.Use(mw.RateLimit.Handle())

	api.Get("/health", healthCheck)

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/refresh", authHandler.Refresh)
	authRoutes.Post("/logout", authHandler.Logout)
	authRoutes.Get("/csrf", authHandler.CSRF)

	// Protected routes get their chain per route; a prefix-less group would
	// apply auth to everything registered after it.
	userRoutes := api.Group("/users")
	userRoutes.Get("/me", mw.Protected(userHandler.Me)...)
	userRoutes.Patch("/me/about", mw.Protected(userHandler.UpdateAbout)...)

	galleryRoutes := api.Group("/gallery")
	galleryRoutes.Get("/public", galleryHandler.ListPublic)
	galleryRoutes.Get("/me", mw.Protected(galleryHandler.ListMine)...)
	galleryRoutes.Post("/", mw.Protected(galleryHandler.Create)...)
	galleryRoutes.Put("/:imageId/description", mw.Protected(galleryHandler.UpdateDescription)...)
	galleryRoutes.Patch("/:imageId/toggle-public", mw.Protected(galleryHandler.TogglePublic)...)
	galleryRoutes.Delete("/:imageId", mw.Protected(galleryHandler.Delete)...)
	galleryRoutes.Post("/:imageId/like", mw.Protected(galleryHandler.ToggleLike)...)
	galleryRoutes.Get("/:imageId/likes", galleryHandler.Likers)

	commentRoutes := api.Group("/images/:imageId/comments")
	commentRoutes.Get("/", commentHandler.List)
	commentRoutes.Post("/", mw.Protected(commentHandler.Add)...)
	commentRoutes.Put("/:commentId", mw.Protected(commentHandler.Update)...)
	commentRoutes.Delete("/:commentId", mw.Protected(commentHandler.Delete)...)

	api.Get("/files/presign", mw.Protected(fileHandler.Presign)...)

	// 404 handler
	app.Use(notFoundHandler)
}

// healthCheck returns the health status of the service
// @Summary Health check
// @Description Check if the service is healthy
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Router /healthz [get]
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   serviceName,
	})
}

// readinessCheck checks if the service is ready to accept traffic
// @Summary Readiness check
// @Description Probe the table, the bucket and Redis (when configured)
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Ready"
// @Failure 503 {object} map[string]interface{} "Not ready"
// @Router /readyz [get]
func readinessCheck(checks []ReadinessCheck, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				logger.WithError(err).WithField("dependency", check.Name).Warn("Readiness check failed")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":    "not ready",
					"reason":    check.Name + " unavailable",
					"timestamp": time.Now().UTC(),
				})
			}
		}

		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	}
}

// versionHandler returns version information
// @Summary Version information
// @Description Get service version and build information
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Version info"
// @Router /version [get]
func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": serviceName,
		"version": logging.Version(),
		"commit":  Commit,
		"built":   BuildTime,
	})
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return fiber.ErrNotFound
}
