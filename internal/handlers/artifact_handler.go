package handlers

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"lens0/internal/artifact"
	"lens0/internal/models"
	"lens0/internal/services"
)

// maxArtifactSize caps uploaded report size (10MB)
const maxArtifactSize = 10 * 1024 * 1024

// ArtifactHandler handles lab report uploads. Parsing is deterministic;
// with promote=true the parsed measurements are queued through the
// promotion pipeline rather than written anywhere directly.
type ArtifactHandler struct {
	promotions *services.PromotionService
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(promotions *services.PromotionService) *ArtifactHandler {
	return &ArtifactHandler{promotions: promotions}
}

// Parse parses an uploaded lab report
// POST /api/v1/artifacts/parse?promote=true&expert=health
func (h *ArtifactHandler) Parse(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A report file is required",
		})
	}
	if fileHeader.Size > maxArtifactSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Report exceeds the 10MB limit",
		})
	}

	format := c.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(fileHeader.Filename)), ".")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxArtifactSize+1))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	measurements, err := artifact.ParseReport(data, format)
	if err != nil {
		log.Printf("⚠️ [ARTIFACT-API] Parse failed (%s): %v", format, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to parse report",
		})
	}

	response := fiber.Map{
		"filename":     fileHeader.Filename,
		"format":       format,
		"measurements": measurements,
	}

	if c.Query("promote", "false") == "true" && len(measurements) > 0 {
		expert := c.Query("expert", models.ExpertHealth)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := h.promotions.Enqueue(ctx, models.PromotionRequest{
			UserID:       userID,
			Expert:       expert,
			Source:       models.PromotionSourceArtifact,
			Measurements: measurements,
		})
		if err != nil {
			log.Printf("⚠️ [ARTIFACT-API] Failed to enqueue promotion: %v", err)
			response["promotion_error"] = err.Error()
		} else {
			response["promotion_job"] = job.ID.Hex()
		}
	}

	return c.JSON(response)
}
