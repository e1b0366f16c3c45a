package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lens0/internal/models"
)

// ExpertRule scopes what the promotion pipeline may write into one
// expert profile and where the data may come from.
type ExpertRule struct {
	Sources               []string `yaml:"sources"`
	GlobalCategories      []string `yaml:"global_categories"`
	AllowProjectOverwrite bool     `yaml:"allow_project_overwrite"`
}

// PromotionRules is the parsed promotion rules file. Absence of a rule
// means deny: an expert with no entry accepts no promotions at all.
type PromotionRules struct {
	Experts map[string]ExpertRule `yaml:"experts"`
}

// LoadPromotionRules loads promotion rules from a YAML file.
func LoadPromotionRules(filePath string) (*PromotionRules, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read promotion rules file: %w", err)
	}

	var rules PromotionRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse promotion rules YAML: %w", err)
	}

	if rules.Experts == nil {
		rules.Experts = map[string]ExpertRule{}
	}
	return &rules, nil
}

// DefaultPromotionRules returns the built-in rules used when no rules
// file is present: only the health profile accepts promotions, from the
// three deterministic sources, and project data never overwrites expert
// data.
func DefaultPromotionRules() *PromotionRules {
	return &PromotionRules{
		Experts: map[string]ExpertRule{
			models.ExpertHealth: {
				Sources: []string{
					models.PromotionSourceGlobalSubset,
					models.PromotionSourceUserStatement,
					models.PromotionSourceArtifact,
				},
				GlobalCategories: []string{
					models.FactCategoryMeds,
					models.FactCategoryAllergies,
					models.FactCategoryWeight,
				},
				AllowProjectOverwrite: false,
			},
		},
	}
}

// SourceAllowed reports whether source may feed the given expert.
func (r *PromotionRules) SourceAllowed(expert, source string) bool {
	rule, ok := r.Experts[expert]
	if !ok {
		return false
	}
	for _, s := range rule.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// CategoryAllowed reports whether a global fact category may be promoted
// into the given expert.
func (r *PromotionRules) CategoryAllowed(expert, category string) bool {
	rule, ok := r.Experts[expert]
	if !ok {
		return false
	}
	for _, c := range rule.GlobalCategories {
		if c == category {
			return true
		}
	}
	return false
}

// ProjectOverwriteAllowed reports whether project-scoped data may
// overwrite the given expert's data. Default deny.
func (r *PromotionRules) ProjectOverwriteAllowed(expert string) bool {
	rule, ok := r.Experts[expert]
	if !ok {
		return false
	}
	return rule.AllowProjectOverwrite
}
