package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"lens0/internal/models"
)

// Deterministic statement extraction: the Tier-1 write path. Only
// explicit, first-person, declarative statements become fact
// candidates. Reflections, speculation and questions are never stored.

// Candidate is a storable fact candidate extracted from one user turn.
type Candidate struct {
	Claim    string `json:"claim"`
	Category string `json:"category"`
}

// HealthFinding is a health-specific extraction result, already
// canonicalized (doses in mg, weight in kg, names lowercased).
type HealthFinding struct {
	Kind       string             `json:"kind"` // "medication", "allergy", "weight"
	Medication *models.Medication `json:"medication,omitempty"`
	Allergy    string             `json:"allergy,omitempty"`
	WeightKG   float64            `json:"weight_kg,omitempty"`
}

// Markers that disqualify a sentence: feelings and speculation framed
// as statements must not be stored as facts.
var reflectiveMarkers = []string{
	"i think",
	"i feel",
	"maybe",
	"probably",
	"i guess",
	"i'm worried",
	"im worried",
	"i wonder",
	"i hope",
}

// First-person markers: a claim has to be about the speaker.
var firstPersonRe = regexp.MustCompile(`(?i)\b(i|i'm|im|my|me|we|our)\b`)

var (
	// "I take 10 mg of lisinopril daily" / "I take 10mg lisinopril every morning"
	medDoseFirstRe = regexp.MustCompile(`(?i)\bi take (\d+(?:\.\d+)?)\s*(mg|milligrams?|mcg|micrograms?|g|grams?)\s+(?:of\s+)?([a-z][a-z-]+)(?:\s+(daily|twice daily|every morning|every night|every evening|weekly|as needed))?`)
	// "I take lisinopril 10mg daily"
	medNameFirstRe = regexp.MustCompile(`(?i)\bi take ([a-z][a-z-]+)\s+(\d+(?:\.\d+)?)\s*(mg|milligrams?|mcg|micrograms?|g|grams?)(?:\s+(daily|twice daily|every morning|every night|every evening|weekly|as needed))?`)
	// "I'm allergic to penicillin" / "I am allergic to shellfish and peanuts"
	allergyRe = regexp.MustCompile(`(?i)\bi(?:'m| am)\s+allergic to\s+([a-z][a-z ,-]*[a-z])`)
	// "I weigh 180 lbs" / "I weigh about 82 kg"
	weightRe = regexp.MustCompile(`(?i)\bi weigh (?:about |around )?(\d+(?:\.\d+)?)\s*(lbs?|pounds?|kg|kilograms?)`)
)

// normalize lowercases a statement and unifies curly apostrophes so the
// marker checks behave on real chat text.
func normalize(statement string) string {
	s := strings.ToLower(strings.TrimSpace(statement))
	s = strings.ReplaceAll(s, "’", "'")
	return s
}

// IsStorable reports whether a user turn qualifies as a Tier-1 fact
// candidate at all.
func IsStorable(statement string) bool {
	s := normalize(statement)
	if s == "" {
		return false
	}
	if strings.Contains(s, "?") {
		return false
	}
	for _, marker := range reflectiveMarkers {
		if strings.Contains(s, marker) {
			return false
		}
	}
	return firstPersonRe.MatchString(s)
}

// Extract produces a fact candidate with a category guess, or reports
// that the turn must not be stored.
func Extract(statement string) (*Candidate, bool) {
	if !IsStorable(statement) {
		return nil, false
	}

	claim := strings.TrimSpace(statement)
	return &Candidate{
		Claim:    claim,
		Category: guessCategory(normalize(statement)),
	}, true
}

func guessCategory(s string) string {
	switch {
	case medDoseFirstRe.MatchString(s) || medNameFirstRe.MatchString(s):
		return models.FactCategoryMeds
	case allergyRe.MatchString(s):
		return models.FactCategoryAllergies
	case weightRe.MatchString(s):
		return models.FactCategoryWeight
	case strings.Contains(s, "prefer") || strings.Contains(s, "favorite") ||
		strings.Contains(s, "i like") || strings.Contains(s, "i don't like") ||
		strings.Contains(s, "helps me"):
		return models.FactCategoryPreference
	case strings.Contains(s, "visa") || strings.Contains(s, "custody") ||
		strings.Contains(s, "schedule") || strings.Contains(s, "deadline"):
		return models.FactCategoryConstraint
	default:
		return models.FactCategoryIdentity
	}
}

// ExtractHealth runs the deterministic health-field extraction against
// one user turn. Returns nothing for turns that are not storable or
// carry no recognized health field.
func ExtractHealth(statement string) (*HealthFinding, bool) {
	if !IsStorable(statement) {
		return nil, false
	}
	s := normalize(statement)

	if m := medDoseFirstRe.FindStringSubmatch(s); m != nil {
		value, _ := strconv.ParseFloat(m[1], 64)
		return &HealthFinding{
			Kind: "medication",
			Medication: &models.Medication{
				Name:      m[3],
				DoseMG:    NormalizeDoseMG(value, m[2]),
				Frequency: m[4],
			},
		}, true
	}

	if m := medNameFirstRe.FindStringSubmatch(s); m != nil {
		value, _ := strconv.ParseFloat(m[2], 64)
		return &HealthFinding{
			Kind: "medication",
			Medication: &models.Medication{
				Name:      m[1],
				DoseMG:    NormalizeDoseMG(value, m[3]),
				Frequency: m[4],
			},
		}, true
	}

	if m := allergyRe.FindStringSubmatch(s); m != nil {
		return &HealthFinding{
			Kind:    "allergy",
			Allergy: strings.TrimSpace(m[1]),
		}, true
	}

	if m := weightRe.FindStringSubmatch(s); m != nil {
		value, _ := strconv.ParseFloat(m[1], 64)
		return &HealthFinding{
			Kind:     "weight",
			WeightKG: NormalizeWeightKG(value, m[2]),
		}, true
	}

	return nil, false
}

// NormalizeDoseMG canonicalizes a dose to milligrams.
func NormalizeDoseMG(value float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "mcg", "microgram", "micrograms":
		return round2(value / 1000)
	case "g", "gram", "grams":
		return round2(value * 1000)
	default: // mg, milligram(s)
		return round2(value)
	}
}

// lbsPerKG is the exact avoirdupois conversion factor.
const lbsPerKG = 0.45359237

// NormalizeWeightKG canonicalizes a body weight to kilograms, rounded
// to one decimal place.
func NormalizeWeightKG(value float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "lb", "lbs", "pound", "pounds":
		return round1(value * lbsPerKG)
	default: // kg, kilogram(s)
		return round1(value)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
