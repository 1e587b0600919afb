package handlers

import (
	"game-session-system/services"

	"github.com/gofiber/fiber/v2"
)

type PlayersHandler struct {
	Players *services.PlayerService
}

type registerRequest struct {
	Username string `json:"username"`
}

func SetupPlayerRoutes(app *fiber.App, h *PlayersHandler) {
	app.Post("/players/register", h.Register)
	app.Post("/players/:userId/login", h.Login)
	app.Get("/players/:userId", h.GetPlayer)
}

func (h *PlayersHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_argument", "message": "invalid request body"})
		}
	}

	player, err := h.Players.Register(c.UserContext(), req.Username)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"userId":   player.UserID,
		"username": player.Username,
	})
}

func (h *PlayersHandler) Login(c *fiber.Ctx) error {
	if err := h.Players.Login(c.UserContext(), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PlayersHandler) GetPlayer(c *fiber.Ctx) error {
	player, err := h.Players.Get(c.UserContext(), c.Params("userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(player)
}
