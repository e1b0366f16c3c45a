package config

import (
	"os"
	"path/filepath"
	"testing"

	"lens0/internal/models"
)

func TestDefaultPromotionRules(t *testing.T) {
	rules := DefaultPromotionRules()

	// Health accepts all three deterministic sources.
	for _, source := range []string{
		models.PromotionSourceGlobalSubset,
		models.PromotionSourceUserStatement,
		models.PromotionSourceArtifact,
	} {
		if !rules.SourceAllowed(models.ExpertHealth, source) {
			t.Errorf("Health should accept source %q", source)
		}
	}

	// Only the promotable global subset is allowed in.
	for _, category := range []string{models.FactCategoryMeds, models.FactCategoryAllergies, models.FactCategoryWeight} {
		if !rules.CategoryAllowed(models.ExpertHealth, category) {
			t.Errorf("Health should accept category %q", category)
		}
	}
	for _, category := range []string{models.FactCategoryIdentity, models.FactCategoryPreference, models.FactCategoryConstraint} {
		if rules.CategoryAllowed(models.ExpertHealth, category) {
			t.Errorf("Health should reject category %q", category)
		}
	}

	// Project data never overwrites expert data by default.
	if rules.ProjectOverwriteAllowed(models.ExpertHealth) {
		t.Error("Default rules must deny project overwrite")
	}
}

func TestRulesDenyByAbsence(t *testing.T) {
	rules := DefaultPromotionRules()

	// No rule entry means no promotions at all.
	for _, expert := range []string{models.ExpertTherapist, models.ExpertCoding, models.ExpertAnalysis, models.ExpertGeneral} {
		if rules.SourceAllowed(expert, models.PromotionSourceUserStatement) {
			t.Errorf("Expert %q has no rule and should deny all sources", expert)
		}
		if rules.CategoryAllowed(expert, models.FactCategoryMeds) {
			t.Errorf("Expert %q has no rule and should deny all categories", expert)
		}
		if rules.ProjectOverwriteAllowed(expert) {
			t.Errorf("Expert %q has no rule and should deny project overwrite", expert)
		}
	}
}

func TestLoadPromotionRules(t *testing.T) {
	content := `experts:
  health:
    sources:
      - user_statement
    global_categories:
      - meds
    allow_project_overwrite: false
  coding:
    sources:
      - user_statement
    allow_project_overwrite: true
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	rules, err := LoadPromotionRules(path)
	if err != nil {
		t.Fatalf("LoadPromotionRules failed: %v", err)
	}

	if !rules.SourceAllowed(models.ExpertHealth, models.PromotionSourceUserStatement) {
		t.Error("Health should accept user_statement per the file")
	}
	if rules.SourceAllowed(models.ExpertHealth, models.PromotionSourceArtifact) {
		t.Error("Health should reject artifact: the file does not list it")
	}
	if rules.CategoryAllowed(models.ExpertHealth, models.FactCategoryAllergies) {
		t.Error("Health should reject allergies: the file only lists meds")
	}
	if !rules.ProjectOverwriteAllowed(models.ExpertCoding) {
		t.Error("Coding overwrite flag from the file should apply")
	}
	if rules.ProjectOverwriteAllowed(models.ExpertHealth) {
		t.Error("Health overwrite should stay denied")
	}
}

func TestLoadPromotionRulesMissingFile(t *testing.T) {
	if _, err := LoadPromotionRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing rules file")
	}
}

func TestLoadPromotionRulesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	rules, err := LoadPromotionRules(path)
	if err != nil {
		t.Fatalf("LoadPromotionRules failed on empty file: %v", err)
	}
	if rules.SourceAllowed(models.ExpertHealth, models.PromotionSourceUserStatement) {
		t.Error("Empty rules file should deny everything")
	}
}
