package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"lens0/internal/extraction"
	"lens0/internal/models"
	"lens0/internal/services"
)

const maxFactContentLength = 2000

// FactHandler handles foundational memory endpoints: global facts,
// project canonical facts, and the identity kernel.
type FactHandler struct {
	facts *services.FactStorageService
}

// NewFactHandler creates a new fact handler
func NewFactHandler(facts *services.FactStorageService) *FactHandler {
	return &FactHandler{facts: facts}
}

// CreateGlobalFactRequest is the body for storing a global fact
type CreateGlobalFactRequest struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

// CreateGlobalFact stores an explicit user fact
// POST /api/v1/facts
func (h *FactHandler) CreateGlobalFact(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req CreateGlobalFactRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Content is required",
		})
	}
	if len(req.Content) > maxFactContentLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Content must be less than 2,000 characters",
		})
	}
	if !models.ValidFactCategories[req.Category] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid fact category",
		})
	}

	// Explicit facts still pass the storability gate: questions and
	// reflections are not facts regardless of how they arrive.
	if !extraction.IsStorable(req.Content) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Content is not a storable first-person fact",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fact, err := h.facts.CreateGlobalFact(ctx, userID, req.Content, req.Category, models.FactSourceUserExplicit)
	if err != nil {
		log.Printf("❌ [FACT-API] Failed to create global fact: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store fact",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fact)
}

// ListGlobalFacts returns decrypted global facts
// GET /api/v1/facts?category=meds
func (h *FactHandler) ListGlobalFacts(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	category := c.Query("category", "")
	if category != "" && !models.ValidFactCategories[category] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid fact category",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	facts, err := h.facts.ListGlobalFacts(ctx, userID, category)
	if err != nil {
		log.Printf("❌ [FACT-API] Failed to list global facts: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve facts",
		})
	}

	responses := make([]fiber.Map, len(facts))
	for i, fact := range facts {
		responses[i] = fiber.Map{
			"id":         fact.ID.Hex(),
			"content":    fact.DecryptedContent,
			"category":   fact.Category,
			"source":     fact.Source,
			"created_at": fact.CreatedAt,
			"updated_at": fact.UpdatedAt,
		}
	}
	return c.JSON(fiber.Map{"facts": responses})
}

// DeleteGlobalFact removes a global fact
// DELETE /api/v1/facts/:id
func (h *FactHandler) DeleteGlobalFact(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	factID, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid fact ID",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.facts.DeleteGlobalFact(ctx, userID, factID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Fact not found",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateProjectFactRequest is the body for storing a project fact
type CreateProjectFactRequest struct {
	Content string `json:"content"`
}

// CreateProjectFact stores a canonical fact for one project
// POST /api/v1/projects/:project/facts
func (h *FactHandler) CreateProjectFact(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	project := c.Params("project")

	var req CreateProjectFactRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Content == "" || len(req.Content) > maxFactContentLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Content is required and must be less than 2,000 characters",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fact, err := h.facts.CreateProjectFact(ctx, userID, project, req.Content)
	if err != nil {
		log.Printf("❌ [FACT-API] Failed to create project fact: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store project fact",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fact)
}

// ListProjectFacts returns decrypted facts for one project
// GET /api/v1/projects/:project/facts
func (h *FactHandler) ListProjectFacts(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	project := c.Params("project")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	facts, err := h.facts.ListProjectFacts(ctx, userID, project)
	if err != nil {
		log.Printf("❌ [FACT-API] Failed to list project facts: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve project facts",
		})
	}

	responses := make([]fiber.Map, len(facts))
	for i, fact := range facts {
		responses[i] = fiber.Map{
			"id":         fact.ID.Hex(),
			"content":    fact.DecryptedContent,
			"created_at": fact.CreatedAt,
			"updated_at": fact.UpdatedAt,
		}
	}
	return c.JSON(fiber.Map{"project": project, "facts": responses})
}

// UpsertIdentityRequest is the body for setting the identity kernel
type UpsertIdentityRequest struct {
	PreferredName string `json:"preferred_name"`
	Locale        string `json:"locale"`
	Timezone      string `json:"timezone"`
}

// UpsertIdentity creates or updates the identity kernel
// PUT /api/v1/identity
func (h *FactHandler) UpsertIdentity(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req UpsertIdentityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.PreferredName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "preferred_name is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kernel, err := h.facts.UpsertIdentityKernel(ctx, userID, req.PreferredName, req.Locale, req.Timezone)
	if err != nil {
		log.Printf("❌ [FACT-API] Failed to upsert identity kernel: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store identity",
		})
	}
	return c.JSON(kernel)
}
