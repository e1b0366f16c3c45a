package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"lens0/internal/profilestore"
)

// ExpertHandler handles expert profile API endpoints. Reads only: the
// single write path into profile data is the promotion pipeline.
type ExpertHandler struct {
	store *profilestore.Store
	guard *profilestore.Guard
}

// NewExpertHandler creates a new expert handler. guard may be nil.
func NewExpertHandler(store *profilestore.Store, guard *profilestore.Guard) *ExpertHandler {
	return &ExpertHandler{store: store, guard: guard}
}

// Provision creates the user's expert scaffolds
// POST /api/v1/experts/provision
func (h *ExpertHandler) Provision(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	if err := h.store.Provision(userID); err != nil {
		if errors.Is(err, profilestore.ErrInvalidUser) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid user identifier",
			})
		}
		log.Printf("❌ [EXPERT-API] Failed to provision experts: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to provision expert profiles",
		})
	}

	if h.guard != nil {
		if err := h.guard.WatchUser(userID); err != nil {
			log.Printf("⚠️ [EXPERT-API] Failed to watch experts dir for %s: %v", userID, err)
		}
	}

	statuses, err := h.store.Status(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read expert status",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"experts": statuses})
}

// List returns the state of every provisioned expert
// GET /api/v1/experts
func (h *ExpertHandler) List(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	statuses, err := h.store.Status(userID)
	if err != nil {
		log.Printf("❌ [EXPERT-API] Failed to list experts: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read expert status",
		})
	}
	return c.JSON(fiber.Map{"experts": statuses})
}

// Get returns one enabled expert profile
// GET /api/v1/experts/:expert
func (h *ExpertHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	expert := c.Params("expert")

	profile, err := h.store.Load(userID, expert)
	if err != nil {
		switch {
		case errors.Is(err, profilestore.ErrUnknownExpert):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown expert",
			})
		case errors.Is(err, profilestore.ErrNotEnabled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Expert profile not enabled",
			})
		case errors.Is(err, profilestore.ErrMalformedProfile):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Expert profile is malformed",
			})
		default:
			log.Printf("❌ [EXPERT-API] Failed to load profile: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load expert profile",
			})
		}
	}
	return c.JSON(profile)
}

// Enable transitions a scaffold into a live profile
// POST /api/v1/experts/:expert/enable
func (h *ExpertHandler) Enable(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	expert := c.Params("expert")

	profile, err := h.store.Enable(userID, expert)
	if err != nil {
		switch {
		case errors.Is(err, profilestore.ErrUnknownExpert):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown expert",
			})
		case errors.Is(err, profilestore.ErrAlreadyEnabled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Expert profile already enabled",
			})
		default:
			log.Printf("❌ [EXPERT-API] Failed to enable expert: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to enable expert profile",
			})
		}
	}

	log.Printf("✅ [EXPERT-API] Enabled %s expert for user %s", expert, userID)
	return c.Status(fiber.StatusCreated).JSON(profile)
}
