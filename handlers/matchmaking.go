// handlers/matchmaking.go
package handlers

import (
	"game-session-system/middleware"
	"game-session-system/models"
	"game-session-system/services"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

type MatchmakingHandler struct {
	Matchmaker *services.Matchmaker
	Matches    *services.MatchStore
	Configs    *services.ConfigStore
	Logger     *slog.Logger
}

type joinMatchRequest struct {
	PlayerID  string `json:"playerId"`
	MatchType string `json:"matchType"`
	MatchID   string `json:"matchId"`
}

type joinMatchResponse struct {
	MatchID           string     `json:"matchId"`
	Host              string     `json:"host"`
	Port              int        `json:"port"`
	ExpirationTimeUTC *time.Time `json:"expirationTimeUtc,omitempty"`
}

func SetupMatchmakingRoutes(app *fiber.App, h *MatchmakingHandler, adminToken string) {
	// Player-facing
	app.Post("/matches/join", middleware.PlayerContextMiddleware(), h.JoinMatch)
	app.Get("/matches/:id", h.GetMatch)
	app.Get("/players/:userId/matches", h.ListPlayerMatches)

	// Admin, bearer token required
	admin := app.Group("/admin", middleware.AdminTokenMiddleware(adminToken, h.Logger))
	admin.Post("/matches/invalidate", h.InvalidateAllMatches)
	admin.Delete("/matches/:id", h.DeleteMatch)
	admin.Post("/instances/:host/:port/invalidate", h.RetireInstance)
	admin.Get("/match-configs", h.ListMatchConfigs)
	admin.Put("/match-configs/:type", h.UpsertMatchConfig)
}

func (h *MatchmakingHandler) JoinMatch(c *fiber.Ctx) error {
	var req joinMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_argument", "message": "invalid request body"})
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		req.PlayerID = middleware.PlayerID(c)
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_argument", "message": "playerId is required"})
	}

	result, err := h.Matchmaker.JoinMatch(c.UserContext(), services.JoinRequest{
		PlayerID:  req.PlayerID,
		MatchType: models.MatchType(req.MatchType),
		MatchID:   req.MatchID,
	})
	if err != nil {
		return respondError(c, err)
	}

	resp := joinMatchResponse{
		MatchID: result.MatchID,
		Host:    result.Endpoint.Host,
		Port:    result.Endpoint.Port,
	}
	if result.ExpiresAt != nil {
		t := result.ExpiresAt.UTC()
		resp.ExpirationTimeUTC = &t
	}
	return c.JSON(resp)
}

func (h *MatchmakingHandler) GetMatch(c *fiber.Ctx) error {
	match, err := h.Matches.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (h *MatchmakingHandler) ListPlayerMatches(c *fiber.Ctx) error {
	matches, err := h.Matches.ListByPlayer(c.UserContext(), c.Params("userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(matches)
}

func (h *MatchmakingHandler) InvalidateAllMatches(c *fiber.Ctx) error {
	count, err := h.Matchmaker.InvalidateAllMatches(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *MatchmakingHandler) DeleteMatch(c *fiber.Ctx) error {
	if err := h.Matches.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RetireInstance takes an instance out of rotation, e.g. after its task died.
func (h *MatchmakingHandler) RetireInstance(c *fiber.Ctx) error {
	port, err := c.ParamsInt("port")
	if err != nil || port <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_argument", "message": "port must be a positive integer"})
	}
	endpoint := models.Endpoint{Host: c.Params("host"), Port: port}
	count, err := h.Matchmaker.RetireInstance(c.UserContext(), endpoint)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *MatchmakingHandler) ListMatchConfigs(c *fiber.Ctx) error {
	configs, err := h.Configs.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(configs)
}

func (h *MatchmakingHandler) UpsertMatchConfig(c *fiber.Ctx) error {
	var cfg models.MatchConfig
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_argument", "message": "invalid request body"})
	}
	cfg.MatchType = models.MatchType(c.Params("type"))

	if err := h.Configs.Upsert(c.UserContext(), cfg); err != nil {
		if services.KindOf(err) == services.KindConfiguration {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_argument", "message": err.Error()})
		}
		return respondError(c, err)
	}
	h.Logger.Info("match config updated", "match_type", cfg.MatchType, "max_players", cfg.MaxPlayers)
	return c.JSON(cfg)
}

// HealthCheck reports liveness of the HTTP process.
func HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
