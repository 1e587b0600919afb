// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlayerIDHeader carries the caller identity when requests arrive through a gateway.
const PlayerIDHeader = "X-User-ID"

// PlayerContextMiddleware copies the gateway-provided player identity into
// c.Locals("player_id"). Requests without the header pass through untouched.
func PlayerContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := strings.TrimSpace(c.Get(PlayerIDHeader)); id != "" {
			c.Locals("player_id", id)
		}
		return c.Next()
	}
}

// PlayerID returns the identity stored by PlayerContextMiddleware, if any.
func PlayerID(c *fiber.Ctx) string {
	id, _ := c.Locals("player_id").(string)
	return id
}
