package routes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mindgallery/gallery-api/internal/middleware"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// ErrorHandler is the single place errors become responses. The raw error text is only
// exposed when withDetail is set (development).
func ErrorHandler(withDetail bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr := classify(err)
		return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(middleware.TraceID(c), withDetail))
	}
}

func classify(err error) *apperrors.AppError {
	var fe *fiber.Error
	if !errors.As(err, &fe) {
		return apperrors.As(err)
	}
	switch fe.Code {
	case fiber.StatusNotFound:
		return apperrors.New(apperrors.KindNotFound, "ROUTE_NOT_FOUND", err)
	case fiber.StatusUnauthorized:
		return apperrors.New(apperrors.KindUnauthenticated, "UNAUTHENTICATED", err)
	case fiber.StatusForbidden:
		return apperrors.New(apperrors.KindForbidden, "FORBIDDEN", err)
	case fiber.StatusTooManyRequests:
		return apperrors.New(apperrors.KindRateLimited, "RATE_LIMITED", err)
	case fiber.StatusRequestEntityTooLarge:
		return apperrors.New(apperrors.KindValidation, "PAYLOAD_TOO_LARGE", err)
	}
	if fe.Code >= 400 && fe.Code < 500 {
		return apperrors.New(apperrors.KindValidation, "BAD_REQUEST", err)
	}
	return apperrors.Internal("INTERNAL_ERROR", err)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind parses a JSON body into out and validates it
func bind(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(out); err != nil {
			return apperrors.New(apperrors.KindValidation, "INVALID_REQUEST", err)
		}
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return apperrors.Validationf("MISSING_FIELDS", "%s is required", fe.Field())
			}
			return apperrors.Validationf("INVALID_FIELD", "%s failed the %s check", fe.Field(), fieldRule(fe))
		}
		return apperrors.New(apperrors.KindValidation, "INVALID_REQUEST", err)
	}
	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}
