package extraction

import (
	"testing"

	"lens0/internal/models"
)

func TestIsStorable(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		storable  bool
	}{
		{name: "Declarative medication fact", statement: "I take 10mg of lisinopril daily", storable: true},
		{name: "Allergy statement", statement: "I'm allergic to penicillin", storable: true},
		{name: "Weight statement", statement: "I weigh 180 lbs", storable: true},
		{name: "Preference statement", statement: "I prefer morning workouts", storable: true},
		{name: "Question rejected", statement: "Should I take lisinopril?", storable: false},
		{name: "Question about weight rejected", statement: "Do I weigh too much?", storable: false},
		{name: "Reflective i think rejected", statement: "I think I take too many pills", storable: false},
		{name: "Reflective i feel rejected", statement: "I feel tired all the time", storable: false},
		{name: "Speculation maybe rejected", statement: "Maybe I should change my dose", storable: false},
		{name: "Speculation probably rejected", statement: "I probably weigh 180 lbs", storable: false},
		{name: "Worry rejected", statement: "I'm worried about my blood pressure", storable: false},
		{name: "Curly apostrophe worry rejected", statement: "I’m worried about my meds", storable: false},
		{name: "Third person rejected", statement: "The patient takes lisinopril", storable: false},
		{name: "Empty rejected", statement: "", storable: false},
		{name: "Whitespace rejected", statement: "   ", storable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStorable(tt.statement); got != tt.storable {
				t.Errorf("IsStorable(%q) = %v, want %v", tt.statement, got, tt.storable)
			}
		})
	}
}

func TestExtractCategories(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		category  string
	}{
		{name: "Medication dose first", statement: "I take 10mg of lisinopril daily", category: models.FactCategoryMeds},
		{name: "Medication name first", statement: "I take lisinopril 10mg daily", category: models.FactCategoryMeds},
		{name: "Allergy", statement: "I am allergic to shellfish", category: models.FactCategoryAllergies},
		{name: "Weight", statement: "I weigh about 82 kg", category: models.FactCategoryWeight},
		{name: "Preference", statement: "I prefer dark roast coffee", category: models.FactCategoryPreference},
		{name: "Constraint", statement: "My visa renewal deadline is in March", category: models.FactCategoryConstraint},
		{name: "Identity fallback", statement: "I work as a nurse", category: models.FactCategoryIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate, ok := Extract(tt.statement)
			if !ok {
				t.Fatalf("Extract(%q) rejected a storable statement", tt.statement)
			}
			if candidate.Category != tt.category {
				t.Errorf("Expected category %q, got %q", tt.category, candidate.Category)
			}
			if candidate.Claim == "" {
				t.Error("Candidate claim should not be empty")
			}
		})
	}
}

func TestExtractRejectsNonStorable(t *testing.T) {
	if _, ok := Extract("Should I take my medication?"); ok {
		t.Error("Extract should reject questions")
	}
	if _, ok := Extract("I think I weigh 80 kg"); ok {
		t.Error("Extract should reject reflective statements")
	}
}

func TestExtractHealthMedication(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		medName   string
		doseMG    float64
		frequency string
	}{
		{
			name:      "Dose first with of",
			statement: "I take 10mg of lisinopril daily",
			medName:   "lisinopril",
			doseMG:    10,
			frequency: "daily",
		},
		{
			name:      "Name first",
			statement: "I take metformin 500 mg twice daily",
			medName:   "metformin",
			doseMG:    500,
			frequency: "twice daily",
		},
		{
			name:      "Micrograms normalized to mg",
			statement: "I take 75 mcg of levothyroxine every morning",
			medName:   "levothyroxine",
			doseMG:    0.08,
			frequency: "every morning",
		},
		{
			name:      "Grams normalized to mg",
			statement: "I take 1g of amoxicillin",
			medName:   "amoxicillin",
			doseMG:    1000,
		},
		{
			name:      "No frequency",
			statement: "I take atorvastatin 20mg",
			medName:   "atorvastatin",
			doseMG:    20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finding, ok := ExtractHealth(tt.statement)
			if !ok {
				t.Fatalf("ExtractHealth(%q) found nothing", tt.statement)
			}
			if finding.Kind != "medication" {
				t.Fatalf("Expected medication finding, got %q", finding.Kind)
			}
			med := finding.Medication
			if med.Name != tt.medName {
				t.Errorf("Expected name %q, got %q", tt.medName, med.Name)
			}
			if med.DoseMG != tt.doseMG {
				t.Errorf("Expected dose %v mg, got %v", tt.doseMG, med.DoseMG)
			}
			if med.Frequency != tt.frequency {
				t.Errorf("Expected frequency %q, got %q", tt.frequency, med.Frequency)
			}
		})
	}
}

func TestExtractHealthAllergyAndWeight(t *testing.T) {
	finding, ok := ExtractHealth("I'm allergic to penicillin")
	if !ok || finding.Kind != "allergy" {
		t.Fatalf("Expected allergy finding, got %+v (ok=%v)", finding, ok)
	}
	if finding.Allergy != "penicillin" {
		t.Errorf("Expected allergy %q, got %q", "penicillin", finding.Allergy)
	}

	finding, ok = ExtractHealth("I weigh 180 lbs")
	if !ok || finding.Kind != "weight" {
		t.Fatalf("Expected weight finding, got %+v (ok=%v)", finding, ok)
	}
	if finding.WeightKG != 81.6 {
		t.Errorf("Expected 81.6 kg, got %v", finding.WeightKG)
	}

	finding, ok = ExtractHealth("I weigh about 82 kg")
	if !ok || finding.WeightKG != 82 {
		t.Fatalf("Expected 82 kg, got %+v (ok=%v)", finding, ok)
	}
}

func TestExtractHealthDeterminism(t *testing.T) {
	statement := "I take 10mg of lisinopril daily"

	first, ok := ExtractHealth(statement)
	if !ok {
		t.Fatal("ExtractHealth found nothing")
	}
	for i := 0; i < 5; i++ {
		again, ok := ExtractHealth(statement)
		if !ok {
			t.Fatalf("Run %d found nothing", i)
		}
		if *again.Medication != *first.Medication {
			t.Fatalf("Run %d differs: %+v vs %+v", i, again.Medication, first.Medication)
		}
	}
}

func TestExtractHealthRejectsNonHealth(t *testing.T) {
	if _, ok := ExtractHealth("I prefer dark roast coffee"); ok {
		t.Error("Non-health statement should produce no health finding")
	}
	if _, ok := ExtractHealth("Should I take 10mg of lisinopril?"); ok {
		t.Error("Questions should produce no health finding")
	}
}

func TestNormalizeDoseMG(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		unit  string
		want  float64
	}{
		{name: "Milligrams unchanged", value: 10, unit: "mg", want: 10},
		{name: "Milligrams spelled out", value: 10, unit: "milligrams", want: 10},
		{name: "Micrograms divided", value: 500, unit: "mcg", want: 0.5},
		{name: "Micrograms rounded", value: 75, unit: "mcg", want: 0.08},
		{name: "Grams multiplied", value: 1.5, unit: "g", want: 1500},
		{name: "Case insensitive", value: 10, unit: "MG", want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDoseMG(tt.value, tt.unit); got != tt.want {
				t.Errorf("NormalizeDoseMG(%v, %q) = %v, want %v", tt.value, tt.unit, got, tt.want)
			}
		})
	}
}

func TestNormalizeWeightKG(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		unit  string
		want  float64
	}{
		{name: "Kilograms unchanged", value: 82, unit: "kg", want: 82},
		{name: "Kilograms rounded", value: 82.44, unit: "kg", want: 82.4},
		{name: "Pounds converted", value: 180, unit: "lbs", want: 81.6},
		{name: "Single pound unit", value: 180, unit: "lb", want: 81.6},
		{name: "Pounds spelled out", value: 200, unit: "pounds", want: 90.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeWeightKG(tt.value, tt.unit); got != tt.want {
				t.Errorf("NormalizeWeightKG(%v, %q) = %v, want %v", tt.value, tt.unit, got, tt.want)
			}
		})
	}
}
