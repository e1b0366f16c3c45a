package services

import (
	"context"
	"fmt"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"lens0/internal/logging"
	"lens0/internal/models"
)

// FoundationalSource supplies the always-injected memory layers.
type FoundationalSource interface {
	GetIdentityKernel(ctx context.Context, userID string) (*models.IdentityKernel, error)
	ListGlobalFacts(ctx context.Context, userID, category string) ([]models.DecryptedFact, error)
	ListProjectFacts(ctx context.Context, userID, project string) ([]models.DecryptedProjectFact, error)
}

// ProfileSource supplies enabled expert profile data.
type ProfileSource interface {
	IsEnabled(user, expert string) (bool, error)
	Load(user, expert string) (*models.ExpertProfile, error)
}

// ContextService assembles the memory payload injected into each
// request. Foundational memory is unconditional; on top of it at most
// one expert layer is added, and only when the active hat exactly
// matches an enabled expert. A hat that names no expert, or an expert
// that is not enabled, changes nothing about the foundational section.
type ContextService struct {
	facts    FoundationalSource
	profiles ProfileSource
	hats     *HatService
	cache    *gocache.Cache
}

// NewContextService creates a new context assembly service
func NewContextService(facts FoundationalSource, profiles ProfileSource, hats *HatService, cacheTTL time.Duration) *ContextService {
	return &ContextService{
		facts:    facts,
		profiles: profiles,
		hats:     hats,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Assemble builds the context for one request. Project may be empty, in
// which case no project facts are included.
func (s *ContextService) Assemble(ctx context.Context, userID, project string) (*models.AssembledContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	start := time.Now()

	activeHat, _ := s.hats.ActiveHat(userID)

	cacheKey := fmt.Sprintf("%s|%s|%s", userID, project, activeHat)
	if cached, found := s.cache.Get(cacheKey); found {
		if assembled, ok := cached.(*models.AssembledContext); ok {
			return assembled, nil
		}
	}

	foundational, err := s.buildFoundational(ctx, userID, project)
	if err != nil {
		return nil, err
	}

	assembled := &models.AssembledContext{
		UserID:       userID,
		Project:      project,
		Foundational: *foundational,
		BuiltAt:      time.Now(),
	}

	// Expert layer: exact hat match against an enabled expert, or nothing.
	if layer := s.expertLayer(userID, activeHat); layer != nil {
		assembled.Expert = layer
	}

	s.cache.SetDefault(cacheKey, assembled)

	if m := GetMetrics(); m != nil {
		m.RecordContextBuild(time.Since(start).Seconds())
		if assembled.Expert != nil {
			m.RecordExpertLayerInjected(assembled.Expert.Expert)
		}
	}

	logging.WithContextBuild(userID, project, activeHat).Debug("context assembled",
		"expert_layer", assembled.Expert != nil,
		"duration_ms", time.Since(start).Milliseconds())
	return assembled, nil
}

// buildFoundational gathers identity kernel, global facts, and project
// canonical facts. Failures to load one layer do not drop the others.
func (s *ContextService) buildFoundational(ctx context.Context, userID, project string) (*models.FoundationalContext, error) {
	foundational := &models.FoundationalContext{
		GlobalFacts:  []models.ContextFact{},
		ProjectFacts: []models.ContextFact{},
	}

	kernel, err := s.facts.GetIdentityKernel(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [CONTEXT] Failed to load identity kernel for %s: %v", userID, err)
	} else {
		foundational.Identity = kernel
	}

	globalFacts, err := s.facts.ListGlobalFacts(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load global facts: %w", err)
	}
	for _, fact := range globalFacts {
		foundational.GlobalFacts = append(foundational.GlobalFacts, models.ContextFact{
			Category: fact.Category,
			Content:  fact.DecryptedContent,
		})
	}

	if project != "" {
		projectFacts, err := s.facts.ListProjectFacts(ctx, userID, project)
		if err != nil {
			return nil, fmt.Errorf("failed to load project facts: %w", err)
		}
		for _, fact := range projectFacts {
			foundational.ProjectFacts = append(foundational.ProjectFacts, models.ContextFact{
				Content: fact.DecryptedContent,
			})
		}
	}

	return foundational, nil
}

// expertLayer returns the single expert layer for the active hat, or
// nil. Unknown hats, disabled experts, and malformed profiles all
// resolve to nil; a broken profile must never break context assembly.
func (s *ContextService) expertLayer(userID, activeHat string) *models.ExpertLayer {
	if activeHat == "" || !models.IsValidExpert(activeHat) {
		return nil
	}

	enabled, err := s.profiles.IsEnabled(userID, activeHat)
	if err != nil || !enabled {
		return nil
	}

	profile, err := s.profiles.Load(userID, activeHat)
	if err != nil {
		log.Printf("⚠️ [CONTEXT] Skipping expert layer %s for %s: %v", activeHat, userID, err)
		return nil
	}

	return &models.ExpertLayer{
		Expert: profile.Expert,
		Data:   profile.Data,
	}
}

// Invalidate drops cached contexts for a user. Called after promotions
// and hat switches so the next build reflects the new state.
func (s *ContextService) Invalidate(userID string) {
	for key := range s.cache.Items() {
		if len(key) >= len(userID) && key[:len(userID)] == userID {
			if len(key) == len(userID) || key[len(userID)] == '|' {
				s.cache.Delete(key)
			}
		}
	}
}
