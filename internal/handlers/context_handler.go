package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"lens0/internal/services"
)

// ContextHandler exposes the assembled memory context
type ContextHandler struct {
	contexts *services.ContextService
}

// NewContextHandler creates a new context handler
func NewContextHandler(contexts *services.ContextService) *ContextHandler {
	return &ContextHandler{contexts: contexts}
}

// Get assembles and returns the context for the current user
// GET /api/v1/context?project=thesis
func (h *ContextHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	project := c.Query("project", "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assembled, err := h.contexts.Assemble(ctx, userID, project)
	if err != nil {
		log.Printf("❌ [CONTEXT-API] Failed to assemble context: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to assemble context",
		})
	}
	return c.JSON(assembled)
}
