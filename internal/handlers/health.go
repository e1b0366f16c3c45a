package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"lens0/internal/database"
	"lens0/internal/services"
)

// HealthHandler reports service liveness and dependency health
type HealthHandler struct {
	mongodb *database.MongoDB
	redis   *services.RedisService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(mongodb *database.MongoDB, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{mongodb: mongodb, redis: redis}
}

// Check returns service health
// GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := "ok"
	deps := fiber.Map{}

	if h.mongodb != nil {
		if err := h.mongodb.Ping(ctx); err != nil {
			status = "degraded"
			deps["mongodb"] = "down"
		} else {
			deps["mongodb"] = "ok"
		}
	} else {
		deps["mongodb"] = "not_configured"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			deps["redis"] = "down"
		} else {
			deps["redis"] = "ok"
		}
	} else {
		deps["redis"] = "not_configured"
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"dependencies": deps,
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}
