package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"lens0/pkg/auth"
)

// AuthHandler issues local access tokens. Production deployments front
// the API with an external identity provider, so issuance is refused
// there.
type AuthHandler struct {
	jwt        *auth.LocalJWTAuth
	production bool
}

// NewAuthHandler creates a new auth handler. jwt may be nil when auth
// is not configured.
func NewAuthHandler(jwt *auth.LocalJWTAuth, production bool) *AuthHandler {
	return &AuthHandler{jwt: jwt, production: production}
}

// TokenRequest is the body of a token issuance request
type TokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// IssueToken mints a short-lived access token for local use
// POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	if h.production || h.jwt == nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Token issuance is disabled",
		})
	}

	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}
	if req.Role == "" {
		req.Role = "user"
	}

	token, err := h.jwt.GenerateAccessToken(req.UserID, req.Email, req.Role)
	if err != nil {
		log.Printf("❌ [AUTH] Failed to issue token for %s: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.jwt.AccessTokenExpiry.Seconds()),
	})
}
