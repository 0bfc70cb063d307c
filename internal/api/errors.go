// internal/api/errors.go
package api

import (
	"errors"
	"time"

	apperrors "loanflow/internal/common/errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler maps application errors onto HTTP responses. StandardError
// codes carry their own status mapping; anything else is a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	body := fiber.Map{
		"ok":        false,
		"message":   err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		code = apperrors.HTTPStatus(stdErr.Code)
		body["code"] = string(stdErr.Code)
		body["message"] = stdErr.Message
		if len(stdErr.Metadata) > 0 {
			body["details"] = stdErr.Metadata
		}
	} else if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		body["message"] = fiberErr.Message
	}

	body["status"] = code
	return c.Status(code).JSON(body)
}
