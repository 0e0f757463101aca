package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/observability"
)

// CorrelationID tags the request context with X-Request-ID, generating one
// when the caller sent none, and echoes it in the response.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}
