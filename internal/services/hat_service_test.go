package services

import (
	"testing"
	"time"

	"lens0/internal/models"
)

func TestActiveHatLifecycle(t *testing.T) {
	service := NewHatService(time.Minute)

	if _, found := service.ActiveHat("alice"); found {
		t.Error("New user should have no active hat")
	}

	if err := service.SetActiveHat("alice", "research"); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}
	hat, found := service.ActiveHat("alice")
	if !found || hat != "research" {
		t.Errorf("Expected active hat %q, got %q (found=%v)", "research", hat, found)
	}

	// Switching replaces, never stacks.
	if err := service.SetActiveHat("alice", models.ExpertHealth); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}
	hat, found = service.ActiveHat("alice")
	if !found || hat != models.ExpertHealth {
		t.Errorf("Expected active hat %q, got %q (found=%v)", models.ExpertHealth, hat, found)
	}

	service.ClearActiveHat("alice")
	if _, found := service.ActiveHat("alice"); found {
		t.Error("Cleared hat should be gone")
	}
}

func TestSetActiveHatValidation(t *testing.T) {
	service := NewHatService(time.Minute)

	if err := service.SetActiveHat("", "research"); err == nil {
		t.Error("Empty user should be rejected")
	}
	if err := service.SetActiveHat("alice", ""); err == nil {
		t.Error("Empty hat should be rejected")
	}
}

func TestHatSessionExpiry(t *testing.T) {
	service := NewHatService(50 * time.Millisecond)

	if err := service.SetActiveHat("alice", "research"); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, found := service.ActiveHat("alice"); found {
		t.Error("Hat session should expire after the TTL")
	}
}

func TestHatsAreIsolatedPerUser(t *testing.T) {
	service := NewHatService(time.Minute)

	if err := service.SetActiveHat("alice", models.ExpertHealth); err != nil {
		t.Fatalf("SetActiveHat failed: %v", err)
	}
	if _, found := service.ActiveHat("bob"); found {
		t.Error("One user's hat must not leak to another user")
	}
}

func TestIsExpertHat(t *testing.T) {
	service := NewHatService(time.Minute)

	for _, expert := range models.AllExperts {
		if !service.IsExpertHat(expert) {
			t.Errorf("%q should be an expert hat", expert)
		}
	}
	for _, hat := range []string{"research", "writing", "Health", ""} {
		if service.IsExpertHat(hat) {
			t.Errorf("%q should not be an expert hat", hat)
		}
	}
}
