package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/mindgallery/gallery-api/internal/metrics"
)

// RedisBreaker guards Redis calls. While open, calls fail immediately and the middleware
// using it lets requests through.
type RedisBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *logrus.Logger
}

// NewRedisBreaker opens after 5 consecutive failures and probes again after 10s
func NewRedisBreaker(name string, logger *logrus.Logger) *RedisBreaker {
	b := &RedisBreaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Redis circuit breaker state changed")
		},
	})
	return b
}

// Execute runs fn through the breaker and records the Redis call
func (b *RedisBreaker) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	status := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "rejected"
	case errors.Is(err, redis.Nil):
		status = "miss"
	case err != nil:
		status = "failure"
	}
	metrics.RecordRedisOperation(operation, status, time.Since(start))
	return err
}

// State returns closed, half-open or open
func (b *RedisBreaker) State() string {
	return b.cb.State().String()
}
