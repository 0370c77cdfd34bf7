package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/logging"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

type ErrorLoggerMiddleware struct {
	logger *logrus.Logger
}

func NewErrorLoggerMiddleware(logger *logrus.Logger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger: logger,
	}
}

// Handle logs 4xx and 5xx responses with detailed context. Errors returned by handlers are
// rendered here through the app's error handler so the final status is known.
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Record start time
		startTime := time.Now()

		// Continue with request
		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}

		// Get response status code
		statusCode := c.Response().StatusCode()
		if statusCode < 400 {
			return nil
		}

		logFields := logrus.Fields{
			"status_code":   statusCode,
			"method":        c.Method(),
			"path":          c.Path(),
			"ip":            c.IP(),
			"user_agent":    c.Get(fiber.HeaderUserAgent),
			"request_id":    requestID(c),
			"duration_ms":   time.Since(startTime).Milliseconds(),
			"response_size": len(c.Response().Body()),
		}

		// Add user ID if available
		if userID := GetUserID(c); userID != "" {
			logFields["user_id"] = userID
		}
		if imageID := c.Params("imageId"); imageID != "" {
			logFields["image_id"] = imageID
		}
		if commentID := c.Params("commentId"); commentID != "" {
			logFields["comment_id"] = commentID
		}

		// Add idempotency key if present
		if idempotencyKey := c.Get(IdempotencyHeader); idempotencyKey != "" {
			logFields["idempotency_key"] = idempotencyKey
		}

		// Query strings carry no credentials; request bodies may, so they are never logged
		if len(c.Request().URI().QueryString()) > 0 {
			logFields["query"] = string(c.Request().URI().QueryString())
		}

		if err != nil {
			appErr := apperrors.As(err)
			logFields["error_code"] = appErr.Code
			if appErr.Cause != nil {
				logFields["cause"] = appErr.Cause.Error()
			}
		} else {
			responseBody := string(c.Response().Body())
			if len(responseBody) > 500 {
				responseBody = responseBody[:500] + "...(truncated)"
			}
			if responseBody != "" {
				logFields["response_body"] = strings.TrimSpace(responseBody)
			}
		}

		// Determine log level based on status code
		logEntry := logging.WithTraceID(e.logger, TraceID(c)).WithFields(logFields)
		if statusCode >= 500 {
			if err != nil {
				logEntry = logEntry.WithError(err)
			}
			logEntry.Error("Server error response")
		} else {
			logEntry.Warn("Client error response")
		}
		return nil
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
