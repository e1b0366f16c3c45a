package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaExpertProfileV1 is the schema identifier stamped on every profile write.
const SchemaExpertProfileV1 = "expert_profile_v1"

// Expert identifiers. Each one doubles as a hat identifier: a profile's
// data is injected into context only while the matching hat is active.
const (
	ExpertHealth    = "health"
	ExpertTherapist = "therapist"
	ExpertCoding    = "coding"
	ExpertAnalysis  = "analysis"
	ExpertGeneral   = "general"
)

// AllExperts lists every provisioned expert in scaffold order.
var AllExperts = []string{
	ExpertHealth,
	ExpertTherapist,
	ExpertCoding,
	ExpertAnalysis,
	ExpertGeneral,
}

// IsValidExpert reports whether id names a provisioned expert.
func IsValidExpert(id string) bool {
	for _, e := range AllExperts {
		if e == id {
			return true
		}
	}
	return false
}

// ExpertProfile is the on-disk JSON shape of an enabled expert profile.
// Scaffolds (never-enabled experts) are zero-byte files and have no
// profile document at all.
type ExpertProfile struct {
	Schema    string         `json:"schema"`
	Expert    string         `json:"expert"`
	UpdatedAt string         `json:"updated_at"` // ISO-8601, set on every write
	Data      map[string]any `json:"data"`
}

// NewExpertProfile returns a minimal valid profile with empty data.
func NewExpertProfile(expert string) *ExpertProfile {
	return &ExpertProfile{
		Schema:    SchemaExpertProfileV1,
		Expert:    expert,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Data:      map[string]any{},
	}
}

// Validate checks the required top-level fields against the profile's identity.
func (p *ExpertProfile) Validate(expert string) error {
	if p.Schema == "" {
		return fmt.Errorf("profile missing schema")
	}
	if p.Schema != SchemaExpertProfileV1 {
		return fmt.Errorf("unsupported profile schema: %s", p.Schema)
	}
	if p.Expert == "" {
		return fmt.Errorf("profile missing expert identity")
	}
	if p.Expert != expert {
		return fmt.Errorf("profile expert %q does not match target %q", p.Expert, expert)
	}
	if p.UpdatedAt == "" {
		return fmt.Errorf("profile missing updated_at")
	}
	if _, err := time.Parse(time.RFC3339, p.UpdatedAt); err != nil {
		return fmt.Errorf("profile updated_at is not ISO-8601: %w", err)
	}
	if p.Data == nil {
		return fmt.Errorf("profile missing data object")
	}
	return nil
}

// Touch refreshes the write timestamp.
func (p *ExpertProfile) Touch() {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Medication is a single normalized medication entry in the health profile.
type Medication struct {
	Name      string  `json:"name"`              // lowercase canonical name
	DoseMG    float64 `json:"dose_mg,omitempty"` // canonicalized to milligrams
	Frequency string  `json:"frequency,omitempty"`
}

// Measurement is a single lab analyte observation from deterministic
// artifact parsing.
type Measurement struct {
	Analyte    string  `json:"analyte"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	ObservedAt string  `json:"observed_at,omitempty"` // ISO-8601 when known
}

// HealthData is the typed payload of the health expert profile.
type HealthData struct {
	Medications  []Medication  `json:"medications,omitempty"`
	Allergies    []string      `json:"allergies,omitempty"`
	WeightKG     float64       `json:"weight_kg,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
}

// DecodeHealthData interprets a profile's generic data object as health data.
func (p *ExpertProfile) DecodeHealthData() (*HealthData, error) {
	raw, err := json.Marshal(p.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode profile data: %w", err)
	}
	var hd HealthData
	if err := json.Unmarshal(raw, &hd); err != nil {
		return nil, fmt.Errorf("failed to decode health data: %w", err)
	}
	return &hd, nil
}

// SetHealthData stores typed health data back into the generic data object.
func (p *ExpertProfile) SetHealthData(hd *HealthData) error {
	raw, err := json.Marshal(hd)
	if err != nil {
		return fmt.Errorf("failed to encode health data: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to rebuild data object: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	p.Data = data
	return nil
}
