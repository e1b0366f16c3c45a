package handlers

import (
	"github.com/gofiber/fiber/v2"

	"lens0/internal/services"
)

// HatHandler handles hat session endpoints
type HatHandler struct {
	hats     *services.HatService
	contexts *services.ContextService
}

// NewHatHandler creates a new hat handler
func NewHatHandler(hats *services.HatService, contexts *services.ContextService) *HatHandler {
	return &HatHandler{hats: hats, contexts: contexts}
}

// SetHatRequest is the body for switching hats
type SetHatRequest struct {
	Hat string `json:"hat"`
}

// Set switches the user's active hat
// PUT /api/v1/hat
func (h *HatHandler) Set(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req SetHatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.hats.SetActiveHat(userID, req.Hat); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.contexts.Invalidate(userID)

	return c.JSON(fiber.Map{
		"hat":        req.Hat,
		"expert_hat": h.hats.IsExpertHat(req.Hat),
	})
}

// Get returns the user's active hat
// GET /api/v1/hat
func (h *HatHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	hat, active := h.hats.ActiveHat(userID)
	return c.JSON(fiber.Map{
		"hat":    hat,
		"active": active,
	})
}

// Clear removes the user's active hat
// DELETE /api/v1/hat
func (h *HatHandler) Clear(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	h.hats.ClearActiveHat(userID)
	h.contexts.Invalidate(userID)
	return c.SendStatus(fiber.StatusNoContent)
}
