package server

import (
	"errors"
	"strings"
	"time"

	"lingochat/internal/middleware"
	"lingochat/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Per-user limits per minute.
const (
	sendLimit   = 30
	typingLimit = 120
	uploadLimit = 10
)

// currentUserID returns the id stored by AuthRequired.
func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// respondError writes err with the status its AppError code implies.
// Internal causes are logged, never returned.
func respondError(c *fiber.Ctx, err error) error {
	status := models.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			"path", c.Path(), "error", err.Error())
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
	}
	return models.RespondWithError(c, status, err)
}

// parseBefore reads the optional RFC 3339 ?before= cursor.
func parseBefore(c *fiber.Ctx) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query("before"))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, models.NewValidationError("before must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// requiredParam returns a trimmed route parameter or a validation error.
func requiredParam(c *fiber.Ctx, name string) (string, error) {
	v := strings.TrimSpace(c.Params(name))
	if v == "" {
		return "", models.NewValidationError("Missing " + name)
	}
	return v, nil
}
