package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"lens0/internal/models"
	"lens0/internal/services"
)

// PromotionHandler handles promotion pipeline endpoints
type PromotionHandler struct {
	promotions *services.PromotionService
}

// NewPromotionHandler creates a new promotion handler
func NewPromotionHandler(promotions *services.PromotionService) *PromotionHandler {
	return &PromotionHandler{promotions: promotions}
}

// Enqueue queues a promotion request
// POST /api/v1/promotions
func (h *PromotionHandler) Enqueue(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req models.PromotionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	// The authenticated user owns the request regardless of the body
	req.UserID = userID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := h.promotions.Enqueue(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSourceNotAllowed):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Source not allowed for this expert",
			})
		case errors.Is(err, services.ErrProjectOverwriteDenied):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Project data may not overwrite expert data without an explicit rule",
			})
		case errors.Is(err, services.ErrRateLimited):
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Promotion rate limit exceeded",
			})
		case errors.Is(err, services.ErrQueueFull):
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many pending promotion jobs",
			})
		default:
			log.Printf("❌ [PROMOTION-API] Failed to enqueue: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(job)
}

// List returns recent promotion jobs for the user
// GET /api/v1/promotions?limit=50
func (h *PromotionHandler) List(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobs, err := h.promotions.ListJobs(ctx, userID, limit)
	if err != nil {
		log.Printf("❌ [PROMOTION-API] Failed to list jobs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve promotion jobs",
		})
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// Get returns one promotion job
// GET /api/v1/promotions/:id
func (h *PromotionHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	jobID, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid job ID",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := h.promotions.GetJob(ctx, userID, jobID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}
	return c.JSON(job)
}

// Audit returns the user's promotion audit trail
// GET /api/v1/promotions/audit?limit=100
func (h *PromotionHandler) Audit(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := h.promotions.AuditTrail(ctx, userID, limit)
	if err != nil {
		log.Printf("❌ [PROMOTION-API] Failed to read audit trail: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve audit trail",
		})
	}
	return c.JSON(fiber.Map{"entries": entries})
}
