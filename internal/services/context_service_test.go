package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"lens0/internal/models"
)

// stubFacts serves canned foundational memory for context assembly tests.
type stubFacts struct {
	kernel       *models.IdentityKernel
	globalFacts  []models.DecryptedFact
	projectFacts map[string][]models.DecryptedProjectFact
	kernelErr    error
	globalErr    error
}

func (s *stubFacts) GetIdentityKernel(ctx context.Context, userID string) (*models.IdentityKernel, error) {
	return s.kernel, s.kernelErr
}

func (s *stubFacts) ListGlobalFacts(ctx context.Context, userID, category string) ([]models.DecryptedFact, error) {
	return s.globalFacts, s.globalErr
}

func (s *stubFacts) ListProjectFacts(ctx context.Context, userID, project string) ([]models.DecryptedProjectFact, error) {
	return s.projectFacts[project], nil
}

// stubProfiles serves in-memory expert profiles.
type stubProfiles struct {
	enabled  map[string]bool
	profiles map[string]*models.ExpertProfile
	loadErr  error
}

func (s *stubProfiles) IsEnabled(user, expert string) (bool, error) {
	return s.enabled[expert], nil
}

func (s *stubProfiles) Load(user, expert string) (*models.ExpertProfile, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	profile, ok := s.profiles[expert]
	if !ok {
		return nil, fmt.Errorf("no profile for %s", expert)
	}
	return profile, nil
}

func decryptedFact(category, content string) models.DecryptedFact {
	return models.DecryptedFact{
		GlobalFact:       models.GlobalFact{Category: category},
		DecryptedContent: content,
	}
}

func newTestContextService(facts *stubFacts, profiles *stubProfiles, hats *HatService) *ContextService {
	return NewContextService(facts, profiles, hats, 30*time.Second)
}

func TestAssembleFoundationalAlwaysPresent(t *testing.T) {
	facts := &stubFacts{
		kernel: &models.IdentityKernel{UserID: "alice", PreferredName: "Alice"},
		globalFacts: []models.DecryptedFact{
			decryptedFact(models.FactCategoryIdentity, "works as a nurse"),
			decryptedFact(models.FactCategoryMeds, "takes lisinopril 10mg daily"),
		},
		projectFacts: map[string][]models.DecryptedProjectFact{
			"garden": {{DecryptedContent: "raised beds face south"}},
		},
	}
	profiles := &stubProfiles{enabled: map[string]bool{}}
	service := newTestContextService(facts, profiles, NewHatService(time.Minute))

	assembled, err := service.Assemble(context.Background(), "alice", "garden")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if assembled.Foundational.Identity == nil || assembled.Foundational.Identity.PreferredName != "Alice" {
		t.Error("Identity kernel missing from foundational context")
	}
	if len(assembled.Foundational.GlobalFacts) != 2 {
		t.Errorf("Expected 2 global facts, got %d", len(assembled.Foundational.GlobalFacts))
	}
	if len(assembled.Foundational.ProjectFacts) != 1 {
		t.Errorf("Expected 1 project fact, got %d", len(assembled.Foundational.ProjectFacts))
	}
	if assembled.Expert != nil {
		t.Error("No hat is active: expert layer must be absent")
	}
}

func TestAssembleNoProjectFactsWithoutProject(t *testing.T) {
	facts := &stubFacts{
		projectFacts: map[string][]models.DecryptedProjectFact{
			"garden": {{DecryptedContent: "raised beds face south"}},
		},
	}
	service := newTestContextService(facts, &stubProfiles{}, NewHatService(time.Minute))

	assembled, err := service.Assemble(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(assembled.Foundational.ProjectFacts) != 0 {
		t.Errorf("Expected no project facts without a project, got %d", len(assembled.Foundational.ProjectFacts))
	}
}

func TestAssembleExpertLayerOnExactHatMatch(t *testing.T) {
	healthProfile := models.NewExpertProfile(models.ExpertHealth)
	healthProfile.Data = map[string]any{"medications": []any{map[string]any{"name": "lisinopril"}}}

	facts := &stubFacts{}
	profiles := &stubProfiles{
		enabled:  map[string]bool{models.ExpertHealth: true},
		profiles: map[string]*models.ExpertProfile{models.ExpertHealth: healthProfile},
	}
	hats := NewHatService(time.Minute)
	service := newTestContextService(facts, profiles, hats)

	if err := hats.SetActiveHat("alice", models.ExpertHealth); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}

	assembled, err := service.Assemble(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if assembled.Expert == nil {
		t.Fatal("Active health hat with an enabled profile should inject the expert layer")
	}
	if assembled.Expert.Expert != models.ExpertHealth {
		t.Errorf("Expected health layer, got %q", assembled.Expert.Expert)
	}
	if assembled.Expert.Data == nil {
		t.Error("Expert layer should carry the profile data")
	}
}

func TestAssembleNoLayerForNonExpertHat(t *testing.T) {
	facts := &stubFacts{}
	profiles := &stubProfiles{enabled: map[string]bool{models.ExpertHealth: true}}
	hats := NewHatService(time.Minute)
	service := newTestContextService(facts, profiles, hats)

	// "research" is a perfectly valid hat that names no expert.
	if err := hats.SetActiveHat("alice", "research"); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}

	assembled, err := service.Assemble(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if assembled.Expert != nil {
		t.Error("A hat that names no expert must not inject an expert layer")
	}
}

func TestAssembleNoLayerForDisabledExpert(t *testing.T) {
	facts := &stubFacts{}
	profiles := &stubProfiles{enabled: map[string]bool{}}
	hats := NewHatService(time.Minute)
	service := newTestContextService(facts, profiles, hats)

	if err := hats.SetActiveHat("alice", models.ExpertCoding); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}

	assembled, err := service.Assemble(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if assembled.Expert != nil {
		t.Error("A disabled expert must not inject a layer even with the matching hat on")
	}
}

func TestAssembleSurvivesBrokenProfile(t *testing.T) {
	facts := &stubFacts{
		globalFacts: []models.DecryptedFact{decryptedFact(models.FactCategoryIdentity, "works as a nurse")},
	}
	profiles := &stubProfiles{
		enabled: map[string]bool{models.ExpertHealth: true},
		loadErr: fmt.Errorf("malformed expert profile"),
	}
	hats := NewHatService(time.Minute)
	service := newTestContextService(facts, profiles, hats)

	if err := hats.SetActiveHat("alice", models.ExpertHealth); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}

	assembled, err := service.Assemble(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("A broken profile must not break context assembly: %v", err)
	}
	if assembled.Expert != nil {
		t.Error("A profile that fails to load must not inject a layer")
	}
	if len(assembled.Foundational.GlobalFacts) != 1 {
		t.Error("Foundational memory must remain intact when the expert layer fails")
	}
}

func TestAssembleSurvivesMissingKernel(t *testing.T) {
	facts := &stubFacts{kernelErr: fmt.Errorf("no kernel")}
	service := newTestContextService(facts, &stubProfiles{}, NewHatService(time.Minute))

	assembled, err := service.Assemble(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if assembled.Foundational.Identity != nil {
		t.Error("Failed kernel load should leave identity empty, not fail assembly")
	}
}

func TestAssembleRequiresUser(t *testing.T) {
	service := newTestContextService(&stubFacts{}, &stubProfiles{}, NewHatService(time.Minute))
	if _, err := service.Assemble(context.Background(), "", ""); err == nil {
		t.Error("Assemble without a user should fail")
	}
}

func TestInvalidateDropsOnlyThatUser(t *testing.T) {
	facts := &stubFacts{}
	hats := NewHatService(time.Minute)
	service := newTestContextService(facts, &stubProfiles{}, hats)

	if _, err := service.Assemble(context.Background(), "alice", "garden"); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if _, err := service.Assemble(context.Background(), "alicia", "garden"); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	service.Invalidate("alice")

	if _, found := service.cache.Get("alice|garden|"); found {
		t.Error("Invalidate should drop the user's cached contexts")
	}
	if _, found := service.cache.Get("alicia|garden|"); !found {
		t.Error("Invalidate must not drop other users' cached contexts")
	}
}
