package services

import (
	"fmt"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"lens0/internal/models"
)

// HatService tracks the active hat per user session. A hat is a plain
// string; it only becomes an expert layer at context-assembly time, and
// only when it exactly matches an enabled expert name. Sessions expire
// after the configured TTL so a stale hat cannot keep injecting a layer.
type HatService struct {
	sessions *gocache.Cache
}

// NewHatService creates a new hat service with the given session TTL
func NewHatService(sessionTTL time.Duration) *HatService {
	return &HatService{
		sessions: gocache.New(sessionTTL, 2*sessionTTL),
	}
}

// SetActiveHat records the user's active hat. The hat name is free-form
// but must be non-empty; switching hats replaces the previous one.
func (s *HatService) SetActiveHat(userID, hat string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if hat == "" {
		return fmt.Errorf("hat name is required")
	}

	s.sessions.SetDefault(userID, hat)
	log.Printf("🎩 [HAT] User %s switched to hat %q", userID, hat)
	return nil
}

// ActiveHat returns the user's current hat, or ("", false) when no hat
// is active or the session expired.
func (s *HatService) ActiveHat(userID string) (string, bool) {
	v, found := s.sessions.Get(userID)
	if !found {
		return "", false
	}
	hat, ok := v.(string)
	if !ok {
		return "", false
	}
	return hat, true
}

// ClearActiveHat removes the user's active hat
func (s *HatService) ClearActiveHat(userID string) {
	s.sessions.Delete(userID)
	log.Printf("🎩 [HAT] User %s cleared active hat", userID)
}

// IsExpertHat reports whether a hat names a known expert. Hats that do
// not name an expert are valid; they just never inject an expert layer.
func (s *HatService) IsExpertHat(hat string) bool {
	return models.IsValidExpert(hat)
}
