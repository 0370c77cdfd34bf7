package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/metrics"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// IdempotencyHeader is the optional request header naming a retryable POST
const IdempotencyHeader = "Idempotency-Key"

const (
	idempotencyTTL     = 5 * time.Minute
	idempotencyLockTTL = 30 * time.Second
	maxIdempotencyKey  = 128
)

type IdempotencyMiddleware struct {
	redisClient redis.UniversalClient
	breaker     *RedisBreaker
	logger      *logrus.Logger
	ttl         time.Duration
}

type IdempotencyRecord struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        string    `json:"body"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewIdempotencyMiddleware(redisClient redis.UniversalClient, breaker *RedisBreaker, logger *logrus.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		redisClient: redisClient,
		breaker:     breaker,
		logger:      logger,
		ttl:         idempotencyTTL,
	}
}

// Handle replays the first 2xx response of a POST carrying an Idempotency-Key for the same
// caller. Requests without the header, and every request while Redis is unavailable, pass
// straight through. Must run after Authenticate.
func (i *IdempotencyMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		idempotencyKey := c.Get(IdempotencyHeader)
		if i.redisClient == nil || c.Method() != fiber.MethodPost || idempotencyKey == "" {
			return c.Next()
		}
		if len(idempotencyKey) > maxIdempotencyKey {
			return apperrors.Validation("INVALID_IDEMPOTENCY_KEY")
		}

		ctx := c.UserContext()
		redisKey := fmt.Sprintf("idempotency:%s:%s", GetUserID(c), idempotencyKey)
		fingerprint := i.generateFingerprint(c)

		record, err := i.getRecord(ctx, redisKey)
		if err != nil {
			i.logger.WithError(err).Warn("Failed to get idempotency record, processing request")
			return c.Next()
		}
		if record != nil {
			if record.Fingerprint != fingerprint {
				return apperrors.Conflict("IDEMPOTENCY_CONFLICT")
			}
			metrics.RecordIdempotencyHit("hit")
			return i.replay(c, record)
		}
		metrics.RecordIdempotencyHit("miss")

		// only one request per key may run at a time
		locked, err := i.lock(ctx, redisKey)
		if err != nil {
			i.logger.WithError(err).Warn("Failed to take idempotency lock, processing request")
			return c.Next()
		}
		if !locked {
			return apperrors.Conflict("IDEMPOTENCY_IN_PROGRESS")
		}
		defer i.unlock(context.WithoutCancel(ctx), redisKey)

		if err := c.Next(); err != nil {
			return err
		}

		statusCode := c.Response().StatusCode()
		if statusCode < 200 || statusCode >= 300 {
			return nil
		}
		record = &IdempotencyRecord{
			StatusCode:  statusCode,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        string(c.Response().Body()),
			Fingerprint: fingerprint,
			CreatedAt:   time.Now(),
		}
		if err := i.storeRecord(context.WithoutCancel(ctx), redisKey, record); err != nil {
			i.logger.WithError(err).WithField("idempotency_key", idempotencyKey).Error("Failed to store idempotency record")
		}
		return nil
	}
}

// generateFingerprint ties a key to the exact request it was first used with
func (i *IdempotencyMiddleware) generateFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte(":"))
	h.Write([]byte(c.Path()))
	h.Write([]byte(":"))
	h.Write(c.Request().URI().QueryString())
	h.Write([]byte(":"))
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

func (i *IdempotencyMiddleware) getRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var data string
	err := i.breaker.Execute(ctx, "idempotency_get", func(ctx context.Context) error {
		var err error
		data, err = i.redisClient.Get(ctx, key).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

func (i *IdempotencyMiddleware) storeRecord(ctx context.Context, key string, record *IdempotencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	return i.breaker.Execute(ctx, "idempotency_set", func(ctx context.Context) error {
		return i.redisClient.Set(ctx, key, data, i.ttl).Err()
	})
}

func (i *IdempotencyMiddleware) lock(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := i.breaker.Execute(ctx, "idempotency_lock", func(ctx context.Context) error {
		var err error
		ok, err = i.redisClient.SetNX(ctx, key+":lock", "1", idempotencyLockTTL).Result()
		return err
	})
	return ok, err
}

func (i *IdempotencyMiddleware) unlock(ctx context.Context, key string) {
	err := i.breaker.Execute(ctx, "idempotency_unlock", func(ctx context.Context) error {
		return i.redisClient.Del(ctx, key+":lock").Err()
	})
	if err != nil {
		i.logger.WithError(err).Debug("Failed to release idempotency lock")
	}
}

// replay writes a previously cached response
func (i *IdempotencyMiddleware) replay(c *fiber.Ctx, record *IdempotencyRecord) error {
	if record.ContentType != "" {
		c.Set(fiber.HeaderContentType, record.ContentType)
	}
	c.Set("X-Idempotency-Cached", "true")
	return c.Status(record.StatusCode).SendString(record.Body)
}
