package handlers

import (
	"game-session-system/services"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps an error's class to the HTTP status and code clients see.
func statusFor(err error) (int, string) {
	switch services.KindOf(err) {
	case services.KindNotFound:
		return fiber.StatusNotFound, "not_found"
	case services.KindResourceExhausted:
		return fiber.StatusTooManyRequests, "resource_exhausted"
	case services.KindClosed:
		return fiber.StatusConflict, "match_closed"
	case services.KindInvalidArgument:
		return fiber.StatusBadRequest, "invalid_argument"
	case services.KindDuplicate:
		return fiber.StatusConflict, "duplicate"
	case services.KindProvisioning:
		return fiber.StatusServiceUnavailable, "provisioning_failed"
	default:
		// configuration and storage failures are operator problems
		return fiber.StatusInternalServerError, "internal"
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	body := fiber.Map{"error": code}
	if status != fiber.StatusInternalServerError {
		body["message"] = err.Error()
	}
	return c.Status(status).JSON(body)
}
