package artifact

import (
	"strings"
	"testing"
)

func TestParseTextExtractsKnownAnalytes(t *testing.T) {
	text := strings.Join([]string{
		"Quest Diagnostics",
		"Date: 2026-05-01",
		"Glucose: 95 mg/dL",
		"HbA1c: 5.4 %",
		"LDL Cholesterol: 130 mg/dL",
		"Ferritin: 80 ng/mL",
		"Notes: fasting sample",
	}, "\n")

	got := ParseText(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 measurements, got %d: %+v", len(got), got)
	}

	if got[0].Analyte != "glucose" || got[0].Value != 95 || got[0].Unit != "mg/dl" {
		t.Errorf("unexpected first measurement: %+v", got[0])
	}
	if got[1].Analyte != "hba1c" || got[1].Value != 5.4 {
		t.Errorf("unexpected second measurement: %+v", got[1])
	}
	if got[2].Analyte != "ldl" {
		t.Errorf("expected ldl, got %s", got[2].Analyte)
	}

	for _, m := range got {
		if m.ObservedAt != "2026-05-01T00:00:00Z" {
			t.Errorf("expected date line to apply, got %q", m.ObservedAt)
		}
	}
}

func TestParseTextIsDeterministic(t *testing.T) {
	text := "Glucose: 95 mg/dL\nTSH: 2.1 mIU/L\n"

	first := ParseText(text)
	for i := 0; i < 5; i++ {
		again := ParseText(text)
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d measurements, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Errorf("run %d measurement %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestParseTextSkipsWrongUnits(t *testing.T) {
	got := ParseText("Glucose: 95 furlongs\n")
	if len(got) != 0 {
		t.Errorf("expected unit mismatch to be skipped, got %+v", got)
	}
}

func TestParseCSV(t *testing.T) {
	csv := strings.Join([]string{
		"analyte,value,unit,date",
		"glucose,95,mg/dL,2026-05-01",
		"unknown thing,12,mg/dL,2026-05-01",
		"potassium,4.2,mmol/L,",
	}, "\n")

	got, err := parseCSV(csv)
	if err != nil {
		t.Fatalf("parseCSV failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 measurements, got %d: %+v", len(got), got)
	}
	if got[0].ObservedAt != "2026-05-01T00:00:00Z" {
		t.Errorf("unexpected date: %q", got[0].ObservedAt)
	}
	if got[1].Analyte != "potassium" || got[1].ObservedAt != "" {
		t.Errorf("unexpected second measurement: %+v", got[1])
	}
}

func TestCanonicalAnalyte(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Glucose", "glucose", true},
		{"  Fasting   Glucose ", "glucose", true},
		{"A1C", "hba1c", true},
		{"HDL Cholesterol", "hdl", true},
		{"Ferritin", "", false},
	}

	for _, tt := range tests {
		got, ok := canonicalAnalyte(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("canonicalAnalyte(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseReportRejectsUnknownFormat(t *testing.T) {
	if _, err := ParseReport([]byte("x"), "docx"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
