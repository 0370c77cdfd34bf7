package middleware

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/config"
	"github.com/mindgallery/gallery-api/internal/metrics"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// Embed Lua scripts at compile time
//
//go:embed lua/token_bucket.lua
var tokenBucketScript string

var tokenBucket = redis.NewScript(tokenBucketScript)

type RateLimitMiddleware struct {
	config      *config.RateLimitConfig
	redisClient redis.UniversalClient
	breaker     *RedisBreaker
	logger      *logrus.Logger
}

func NewRateLimitMiddleware(cfg *config.RateLimitConfig, redisClient redis.UniversalClient, breaker *RedisBreaker, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config:      cfg,
		redisClient: redisClient,
		breaker:     breaker,
		logger:      logger,
	}
}

// Handle rate limiting middleware. Redis failures let the request through.
func (r *RateLimitMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip if rate limiting is disabled
		if !r.config.Enabled || r.redisClient == nil {
			return c.Next()
		}

		// Check if path is exempt from rate limiting
		path := c.Path()
		for _, exemptPath := range r.config.ExemptPaths {
			if strings.HasPrefix(path, exemptPath) {
				return c.Next()
			}
		}

		keyType, key := r.generateKey(c)

		allowed, remaining, resetTime, err := r.checkRateLimit(c.UserContext(), key)
		if err != nil {
			r.logger.WithError(err).Warn("Rate limit check failed, allowing request")
			return c.Next()
		}

		r.setRateLimitHeaders(c, remaining, resetTime)

		if !allowed {
			metrics.RecordRateLimitDrop(keyType)
			r.logger.WithFields(logrus.Fields{
				"key":       key,
				"path":      path,
				"method":    c.Method(),
				"remaining": remaining,
			}).Warn("Rate limit exceeded")
			return apperrors.New(apperrors.KindRateLimited, "RATE_LIMITED", nil)
		}

		return c.Next()
	}
}

// generateKey keys by user when authenticated and by client IP otherwise
func (r *RateLimitMiddleware) generateKey(c *fiber.Ctx) (string, string) {
	if userID := GetUserID(c); userID != "" {
		return "user", fmt.Sprintf("ratelimit:user:%s", userID)
	}
	return "ip", fmt.Sprintf("ratelimit:ip:%s", clientIP(c))
}

// clientIP extracts the real client IP behind a load balancer
func clientIP(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.IP()
}

func (r *RateLimitMiddleware) checkRateLimit(ctx context.Context, key string) (allowed bool, remaining int, resetTime time.Time, err error) {
	var result interface{}
	err = r.breaker.Execute(ctx, "ratelimit", func(ctx context.Context) error {
		var err error
		result, err = tokenBucket.Run(ctx, r.redisClient, []string{key},
			r.config.Burst, r.config.RPS, r.config.WindowSize.Milliseconds(), 1).Result()
		return err
	})
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected script result format")
	}
	allowedInt, ok := resultSlice[0].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("failed to parse allowed result")
	}
	remainingInt, ok := resultSlice[1].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("failed to parse remaining result")
	}

	resetTime = time.Now().Add(r.config.WindowSize).Truncate(time.Second)
	return allowedInt == 1, int(remainingInt), resetTime, nil
}

// setRateLimitHeaders sets standard rate limit headers
func (r *RateLimitMiddleware) setRateLimitHeaders(c *fiber.Ctx, remaining int, resetTime time.Time) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(r.config.RPS))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

	if remaining <= 0 {
		retryAfter := int(time.Until(resetTime).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	}
}
