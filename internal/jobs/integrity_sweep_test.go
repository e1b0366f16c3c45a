package jobs

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"lens0/internal/models"
	"lens0/internal/profilestore"
)

func sweepTestStore(t *testing.T, user string) *profilestore.Store {
	t.Helper()
	store := profilestore.New(t.TempDir())
	if err := store.Provision(user); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	return store
}

func profileSize(t *testing.T, store *profilestore.Store, user, expert string) int64 {
	t.Helper()
	path, err := store.ProfilePath(user, expert)
	if err != nil {
		t.Fatalf("ProfilePath failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	return info.Size()
}

func TestSweepResetsMalformedProfile(t *testing.T) {
	store := sweepTestStore(t, "alice")
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	path, err := store.ProfilePath("alice", models.ExpertHealth)
	if err != nil {
		t.Fatalf("ProfilePath failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("corrupt write failed: %v", err)
	}

	if err := NewIntegritySweep(store).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if size := profileSize(t, store, "alice", models.ExpertHealth); size != 0 {
		t.Errorf("expected malformed profile reset to scaffold, size is %d", size)
	}

	// The slot is back to scaffold state and can be enabled again.
	if sanctioned, err := store.WasEnabled("alice", models.ExpertHealth); err != nil || sanctioned {
		t.Errorf("expected enablement cleared after reset, got (%v, %v)", sanctioned, err)
	}
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Errorf("expected re-enable after reset to succeed, got: %v", err)
	}
}

func TestSweepResetsForgedProfile(t *testing.T) {
	store := sweepTestStore(t, "bob")

	// A valid document planted on disk without going through Enable.
	forged, err := json.Marshal(models.NewExpertProfile(models.ExpertGeneral))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path, err := store.ProfilePath("bob", models.ExpertGeneral)
	if err != nil {
		t.Fatalf("ProfilePath failed: %v", err)
	}
	if err := os.WriteFile(path, forged, 0o644); err != nil {
		t.Fatalf("forged write failed: %v", err)
	}

	if err := NewIntegritySweep(store).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if size := profileSize(t, store, "bob", models.ExpertGeneral); size != 0 {
		t.Errorf("expected forged profile reset to scaffold, size is %d", size)
	}
	if enabled, err := store.IsEnabled("bob", models.ExpertGeneral); err != nil || enabled {
		t.Errorf("expected general to stay disabled, got (%v, %v)", enabled, err)
	}
}

func TestSweepKeepsSanctionedProfiles(t *testing.T) {
	store := sweepTestStore(t, "carol")
	if _, err := store.Enable("carol", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	if err := NewIntegritySweep(store).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.Load("carol", models.ExpertHealth); err != nil {
		t.Errorf("expected sanctioned profile to survive the sweep, got: %v", err)
	}
	for _, expert := range []string{models.ExpertTherapist, models.ExpertCoding, models.ExpertAnalysis, models.ExpertGeneral} {
		if size := profileSize(t, store, "carol", expert); size != 0 {
			t.Errorf("expected %s scaffold untouched, size is %d", expert, size)
		}
	}
}

func TestSweepWithoutProjectsDir(t *testing.T) {
	store := profilestore.New(t.TempDir())
	if err := NewIntegritySweep(store).Run(context.Background()); err != nil {
		t.Errorf("expected sweep over empty root to succeed, got: %v", err)
	}
}
