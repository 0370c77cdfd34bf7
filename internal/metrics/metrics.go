package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_requests_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Table store metrics
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of table store operations",
		},
		[]string{"operation", "outcome"}, // get/put/update/delete/query/transact/batch_delete, ok/not_found/condition_failed/conflict/error
	)

	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Table store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"operation"},
	)

	// Object store metrics
	objectOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "object_store_operations_total",
			Help: "Total number of object store operations",
		},
		[]string{"operation", "status"}, // presign_put/presign_get/delete/head, success/failure
	)

	// Domain metrics
	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Total number of authentication events",
		},
		[]string{"event", "outcome"}, // register/login/refresh, success/failure
	)

	likeTogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_like_toggles_total",
			Help: "Total number of like toggles",
		},
		[]string{"result"}, // liked or unliked
	)

	commentOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_comment_operations_total",
			Help: "Total number of comment mutations",
		},
		[]string{"operation"}, // add/update/delete
	)

	imageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_image_operations_total",
			Help: "Total number of image mutations",
		},
		[]string{"operation"}, // create/describe/visibility/delete
	)

	cascadeDeletedItems = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_cascade_deleted_items",
			Help:    "Number of dependent items removed when an image is deleted",
			Buckets: []float64{0, 1, 5, 25, 100, 500, 1000},
		},
	)

	// Rate limiting metrics
	rateLimitDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_dropped_total",
			Help: "Total number of requests dropped due to rate limiting",
		},
		[]string{"key_type"}, // user or ip
	)

	// Idempotency metrics
	idempotencyHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_hits_total",
			Help: "Total number of idempotency hits",
		},
		[]string{"type"}, // hit or miss
	)

	// Redis metrics
	redisOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	redisOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			storeOperationsTotal,
			storeOperationDuration,
			objectOperationsTotal,
			authEventsTotal,
			likeTogglesTotal,
			commentOperationsTotal,
			imageOperationsTotal,
			cascadeDeletedItems,
			rateLimitDroppedTotal,
			idempotencyHitsTotal,
			redisOperationsTotal,
			redisOperationDuration,
		)
	})
	return nil
}

// HTTPMetricsMiddleware records HTTP metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())
		if err != nil {
			// the error handler has not written the status yet
			statusCode = strconv.Itoa(statusFromError(err))
		}

		httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)

		return err
	}
}

type httpStatuser interface {
	HTTPStatus() int
}

func statusFromError(err error) int {
	switch e := err.(type) {
	case *fiber.Error:
		return e.Code
	case httpStatuser:
		return e.HTTPStatus()
	}
	return fiber.StatusInternalServerError
}

// RecordStoreOperation records a table store call
func RecordStoreOperation(operation, outcome string, duration time.Duration) {
	storeOperationsTotal.WithLabelValues(operation, outcome).Inc()
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordObjectOperation records an object store call
func RecordObjectOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	objectOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordAuthEvent records register, login and refresh attempts
func RecordAuthEvent(event string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	authEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordLikeToggle records the state a toggle left behind
func RecordLikeToggle(liked bool) {
	result := "unliked"
	if liked {
		result = "liked"
	}
	likeTogglesTotal.WithLabelValues(result).Inc()
}

func RecordCommentOperation(operation string) {
	commentOperationsTotal.WithLabelValues(operation).Inc()
}

func RecordImageOperation(operation string) {
	imageOperationsTotal.WithLabelValues(operation).Inc()
}

// RecordCascadeDelete records how many comments and likes were swept with an image
func RecordCascadeDelete(items int) {
	cascadeDeletedItems.Observe(float64(items))
}

// RecordRateLimitDrop records rate limit drops
func RecordRateLimitDrop(keyType string) {
	rateLimitDroppedTotal.WithLabelValues(keyType).Inc()
}

// RecordIdempotencyHit records idempotency cache hits/misses
func RecordIdempotencyHit(hitType string) {
	idempotencyHitsTotal.WithLabelValues(hitType).Inc()
}

// RecordRedisOperation records Redis operations
func RecordRedisOperation(operation, status string, duration time.Duration) {
	redisOperationsTotal.WithLabelValues(operation, status).Inc()
	redisOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
