package middleware

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/config"
)

// Manager holds all middleware instances
type Manager struct {
	Auth        *AuthMiddleware
	CSRF        fiber.Handler
	Idempotency *IdempotencyMiddleware
	RateLimit   *RateLimitMiddleware
	ErrorLogger *ErrorLoggerMiddleware
	RedisClient redis.UniversalClient
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager creates a new middleware manager. Redis is optional: without it rate limiting
// and idempotency are disabled.
func NewManager(cfg *config.Config, tokens *auth.Tokens, logger *logrus.Logger) (*Manager, error) {
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := NewRedisUniversalClient(&cfg.Redis, &cfg.AWS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		redisClient = client
	} else {
		logger.Info("Redis is disabled, rate limiting and idempotency are off")
	}
	return NewManagerWithRedis(cfg, tokens, redisClient, logger), nil
}

// NewManagerWithRedis wires the middleware around an existing client, which may be nil
func NewManagerWithRedis(cfg *config.Config, tokens *auth.Tokens, redisClient redis.UniversalClient, logger *logrus.Logger) *Manager {
	breaker := NewRedisBreaker("redis", logger)
	return &Manager{
		Auth:        NewAuthMiddleware(tokens, logger),
		CSRF:        CSRF(cfg.Cookie.CSRFEnabled, logger),
		Idempotency: NewIdempotencyMiddleware(redisClient, breaker, logger),
		RateLimit:   NewRateLimitMiddleware(&cfg.RateLimit, redisClient, breaker, logger),
		ErrorLogger: NewErrorLoggerMiddleware(logger),
		RedisClient: redisClient,
		Config:      cfg,
		Logger:      logger,
	}
}

// Protected returns the handler chain for routes that need an authenticated caller
func (m *Manager) Protected(handlers ...fiber.Handler) []fiber.Handler {
	chain := []fiber.Handler{m.Auth.Authenticate(), m.CSRF, m.Idempotency.Handle()}
	return append(chain, handlers...)
}

// RedisReady probes Redis when it is configured
func (m *Manager) RedisReady(ctx context.Context) error {
	if m.RedisClient == nil {
		return nil
	}
	return RedisHealthCheck(m.RedisClient)(ctx)
}

// Close closes all middleware resources
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
