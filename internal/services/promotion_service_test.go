package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"lens0/internal/config"
	"lens0/internal/extraction"
	"lens0/internal/models"
	"lens0/internal/profilestore"
)

// newApplyTestService builds a promotion service wired to a real on-disk
// profile store. The queue, audit log, and Redis are not exercised here;
// these tests cover the apply-side merge logic only.
func newApplyTestService(t *testing.T) (*PromotionService, *profilestore.Store) {
	t.Helper()

	store := profilestore.New(t.TempDir())
	if err := store.Provision("alice"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	service := &PromotionService{
		profiles:   store,
		rules:      config.DefaultPromotionRules(),
		cfg:        &config.Config{MaxPromotionsPerHour: 3},
		rateEvents: make(map[string][]time.Time),
	}
	return service, store
}

func loadHealthData(t *testing.T, store *profilestore.Store) *models.HealthData {
	t.Helper()
	profile, err := store.Load("alice", models.ExpertHealth)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	hd, err := profile.DecodeHealthData()
	if err != nil {
		t.Fatalf("DecodeHealthData failed: %v", err)
	}
	return hd
}

func TestMergeHealthFindings(t *testing.T) {
	service, store := newApplyTestService(t)
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	applied, reason, err := service.mergeHealthFindings("alice", models.ExpertHealth, []extraction.HealthFinding{
		{Kind: "medication", Medication: &models.Medication{Name: "lisinopril", DoseMG: 10, Frequency: "daily"}},
		{Kind: "allergy", Allergy: "penicillin"},
		{Kind: "weight", WeightKG: 81.6},
	})
	if err != nil {
		t.Fatalf("mergeHealthFindings failed: %v", err)
	}
	if !applied {
		t.Fatalf("Expected applied merge, got refusal: %s", reason)
	}

	hd := loadHealthData(t, store)
	if len(hd.Medications) != 1 || hd.Medications[0].DoseMG != 10 {
		t.Errorf("Unexpected medications: %+v", hd.Medications)
	}
	if len(hd.Allergies) != 1 || hd.Allergies[0] != "penicillin" {
		t.Errorf("Unexpected allergies: %+v", hd.Allergies)
	}
	if hd.WeightKG != 81.6 {
		t.Errorf("Expected weight 81.6, got %v", hd.WeightKG)
	}
}

func TestMergeHealthFindingsLatestDoseWins(t *testing.T) {
	service, store := newApplyTestService(t)
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	first := []extraction.HealthFinding{
		{Kind: "medication", Medication: &models.Medication{Name: "lisinopril", DoseMG: 10, Frequency: "daily"}},
	}
	if applied, reason, err := service.mergeHealthFindings("alice", models.ExpertHealth, first); err != nil || !applied {
		t.Fatalf("First merge failed: applied=%v reason=%s err=%v", applied, reason, err)
	}

	second := []extraction.HealthFinding{
		{Kind: "medication", Medication: &models.Medication{Name: "lisinopril", DoseMG: 20, Frequency: "daily"}},
	}
	if applied, reason, err := service.mergeHealthFindings("alice", models.ExpertHealth, second); err != nil || !applied {
		t.Fatalf("Second merge failed: applied=%v reason=%s err=%v", applied, reason, err)
	}

	hd := loadHealthData(t, store)
	if len(hd.Medications) != 1 {
		t.Fatalf("Expected one medication entry, got %d", len(hd.Medications))
	}
	if hd.Medications[0].DoseMG != 20 {
		t.Errorf("Expected updated dose 20, got %v", hd.Medications[0].DoseMG)
	}
}

func TestMergeHealthFindingsRefusesDuplicates(t *testing.T) {
	service, store := newApplyTestService(t)
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	findings := []extraction.HealthFinding{{Kind: "allergy", Allergy: "penicillin"}}
	if applied, _, err := service.mergeHealthFindings("alice", models.ExpertHealth, findings); err != nil || !applied {
		t.Fatalf("First merge should apply (applied=%v, err=%v)", applied, err)
	}

	applied, reason, err := service.mergeHealthFindings("alice", models.ExpertHealth, findings)
	if err != nil {
		t.Fatalf("mergeHealthFindings failed: %v", err)
	}
	if applied || reason != "all_duplicates" {
		t.Errorf("Expected all_duplicates refusal, got applied=%v reason=%q", applied, reason)
	}
}

func TestMergeHealthFindingsRefusesDisabledExpert(t *testing.T) {
	service, _ := newApplyTestService(t)

	applied, reason, err := service.mergeHealthFindings("alice", models.ExpertHealth, []extraction.HealthFinding{
		{Kind: "weight", WeightKG: 80},
	})
	if err != nil {
		t.Fatalf("Expected refusal, not error: %v", err)
	}
	if applied || reason != "expert_not_enabled" {
		t.Errorf("Expected expert_not_enabled refusal, got applied=%v reason=%q", applied, reason)
	}
}

func TestMergeHealthFindingsRefusesMalformedProfile(t *testing.T) {
	service, store := newApplyTestService(t)

	path, err := store.ProfilePath("alice", models.ExpertHealth)
	if err != nil {
		t.Fatalf("ProfilePath failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("Failed to tamper profile: %v", err)
	}

	applied, reason, err := service.mergeHealthFindings("alice", models.ExpertHealth, []extraction.HealthFinding{
		{Kind: "weight", WeightKG: 80},
	})
	if err != nil {
		t.Fatalf("Expected refusal, not error: %v", err)
	}
	if applied || reason != "malformed_profile" {
		t.Errorf("Expected malformed_profile refusal, got applied=%v reason=%q", applied, reason)
	}
}

func TestApplyArtifactDeduplicatesMeasurements(t *testing.T) {
	service, store := newApplyTestService(t)
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	req := models.PromotionRequest{
		UserID: "alice",
		Expert: models.ExpertHealth,
		Source: models.PromotionSourceArtifact,
		Measurements: []models.Measurement{
			{Analyte: "Glucose", Value: 95, Unit: "MG/DL", ObservedAt: "2026-08-01T00:00:00Z"},
			{Analyte: "hba1c", Value: 5.4, Unit: "%", ObservedAt: "2026-08-01T00:00:00Z"},
		},
	}

	applied, reason, err := service.applyArtifact(context.Background(), req)
	if err != nil {
		t.Fatalf("applyArtifact failed: %v", err)
	}
	if !applied || reason != "added_2_measurements" {
		t.Fatalf("Expected 2 measurements added, got applied=%v reason=%q", applied, reason)
	}

	hd := loadHealthData(t, store)
	if len(hd.Measurements) != 2 {
		t.Fatalf("Expected 2 stored measurements, got %d", len(hd.Measurements))
	}
	// Analyte and unit are stored lowercased.
	if hd.Measurements[0].Analyte != "glucose" || hd.Measurements[0].Unit != "mg/dl" {
		t.Errorf("Measurement not normalized: %+v", hd.Measurements[0])
	}

	// The same artifact again is a pure duplicate.
	applied, reason, err = service.applyArtifact(context.Background(), req)
	if err != nil {
		t.Fatalf("applyArtifact failed: %v", err)
	}
	if applied || reason != "all_duplicates" {
		t.Errorf("Expected all_duplicates refusal, got applied=%v reason=%q", applied, reason)
	}
}

func TestApplyArtifactRequiresMeasurements(t *testing.T) {
	service, _ := newApplyTestService(t)

	applied, reason, err := service.applyArtifact(context.Background(), models.PromotionRequest{
		UserID: "alice",
		Expert: models.ExpertHealth,
		Source: models.PromotionSourceArtifact,
	})
	if err != nil {
		t.Fatalf("applyArtifact failed: %v", err)
	}
	if applied || reason != "no_measurements" {
		t.Errorf("Expected no_measurements refusal, got applied=%v reason=%q", applied, reason)
	}
}

func TestApplyProjectFactsDeniedByDefault(t *testing.T) {
	service, store := newApplyTestService(t)
	if _, err := store.Enable("alice", models.ExpertHealth); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	applied, reason, err := service.applyProjectFacts(context.Background(), models.PromotionRequest{
		UserID:       "alice",
		Project:      "garden",
		Expert:       models.ExpertHealth,
		Source:       models.PromotionSourceProjectFacts,
		FactContents: []string{"sprained ankle during planting"},
	})
	if err != nil {
		t.Fatalf("applyProjectFacts failed: %v", err)
	}
	if applied || reason != "project_overwrite_denied" {
		t.Errorf("Expected project_overwrite_denied, got applied=%v reason=%q", applied, reason)
	}

	// The profile on disk is untouched.
	hd := loadHealthData(t, store)
	if len(hd.Medications) != 0 || len(hd.Allergies) != 0 || len(hd.Measurements) != 0 {
		t.Errorf("Denied promotion must not touch the profile: %+v", hd)
	}
}

func TestApplyProjectFactsWithExplicitRule(t *testing.T) {
	service, store := newApplyTestService(t)
	service.rules = &config.PromotionRules{
		Experts: map[string]config.ExpertRule{
			models.ExpertCoding: {
				Sources:               []string{models.PromotionSourceProjectFacts},
				AllowProjectOverwrite: true,
			},
		},
	}
	if _, err := store.Enable("alice", models.ExpertCoding); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	applied, reason, err := service.applyProjectFacts(context.Background(), models.PromotionRequest{
		UserID:       "alice",
		Project:      "lens0",
		Expert:       models.ExpertCoding,
		Source:       models.PromotionSourceProjectFacts,
		FactContents: []string{"prefers table-driven tests", "prefers table-driven tests", "uses vim"},
	})
	if err != nil {
		t.Fatalf("applyProjectFacts failed: %v", err)
	}
	if !applied || reason != "added_2_facts" {
		t.Errorf("Expected 2 facts added, got applied=%v reason=%q", applied, reason)
	}
}

func TestRefuseOnProfileError(t *testing.T) {
	service := &PromotionService{}

	tests := []struct {
		name       string
		err        error
		reason     string
		retryable  bool
	}{
		{name: "Not enabled", err: fmt.Errorf("wrap: %w", profilestore.ErrNotEnabled), reason: "expert_not_enabled"},
		{name: "Malformed", err: fmt.Errorf("wrap: %w", profilestore.ErrMalformedProfile), reason: "malformed_profile"},
		{name: "Unknown expert", err: fmt.Errorf("wrap: %w", profilestore.ErrUnknownExpert), reason: "unknown_expert"},
		{name: "Infrastructure error stays retryable", err: errors.New("disk full"), retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, reason, err := service.refuseOnProfileError(tt.err)
			if applied {
				t.Error("refuseOnProfileError should never report applied")
			}
			if tt.retryable {
				if err == nil {
					t.Error("Expected the error to pass through for retry")
				}
				return
			}
			if err != nil {
				t.Errorf("Expected refusal, got error: %v", err)
			}
			if reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, reason)
			}
		})
	}
}

func TestCheckRateLimitLocalWindow(t *testing.T) {
	service := &PromotionService{
		cfg:        &config.Config{MaxPromotionsPerHour: 3},
		rateEvents: make(map[string][]time.Time),
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := service.checkRateLimit(ctx, "alice"); err != nil {
			t.Fatalf("Request %d should pass: %v", i+1, err)
		}
	}
	if err := service.checkRateLimit(ctx, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got: %v", err)
	}

	// Other users have their own budget.
	if err := service.checkRateLimit(ctx, "bob"); err != nil {
		t.Errorf("Other user should not be limited: %v", err)
	}
}

func TestMeasurementKey(t *testing.T) {
	a := models.Measurement{Analyte: "glucose", Value: 95, Unit: "mg/dl", ObservedAt: "2026-08-01T00:00:00Z"}
	b := a
	if measurementKey(a) != measurementKey(b) {
		t.Error("Identical measurements should share a key")
	}
	b.Value = 96
	if measurementKey(a) == measurementKey(b) {
		t.Error("Different values should produce different keys")
	}
}
