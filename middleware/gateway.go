// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminTokenMiddleware guards administrative routes with a shared bearer token.
func AdminTokenMiddleware(expectedToken string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			logger.Warn("admin request without authorization header", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "admin token missing",
			})
		}

		// Accept "Bearer <token>" or the raw token
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			logger.Warn("admin request with invalid token", "path", c.Path(), "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid admin token",
			})
		}

		return c.Next()
	}
}
