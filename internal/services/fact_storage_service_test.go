package services

import (
	"testing"
)

// TestNormalizeContent tests content normalization for deduplication
func TestNormalizeContent(t *testing.T) {
	service := &FactStorageService{}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Basic normalization",
			input:    "Takes lisinopril daily",
			expected: "takes lisinopril daily",
		},
		{
			name:     "Remove punctuation",
			input:    "Allergic to penicillin, and shellfish!",
			expected: "allergic to penicillin and shellfish",
		},
		{
			name:     "Collapse whitespace",
			input:    "Weighs   about    82   kg",
			expected: "weighs about 82 kg",
		},
		{
			name:     "Hyphens become separators",
			input:    "Prefers dark-roast coffee",
			expected: "prefers dark roast coffee",
		},
		{
			name:     "Trim whitespace",
			input:    "  takes lisinopril daily  ",
			expected: "takes lisinopril daily",
		},
		{
			name:     "Numbers preserved",
			input:    "Takes 10mg every morning",
			expected: "takes 10mg every morning",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := service.normalizeContent(tt.input)
			if result != tt.expected {
				t.Errorf("Expected: %q, got: %q", tt.expected, result)
			}
		})
	}
}

// TestCalculateHash ensures consistent hashing
func TestCalculateHash(t *testing.T) {
	service := &FactStorageService{}

	tests := []struct {
		name        string
		input1      string
		input2      string
		shouldMatch bool
	}{
		{
			name:        "Identical strings",
			input1:      "takes lisinopril daily",
			input2:      "takes lisinopril daily",
			shouldMatch: true,
		},
		{
			name:        "Different strings",
			input1:      "takes lisinopril daily",
			input2:      "takes metformin daily",
			shouldMatch: false,
		},
		{
			name:        "Normalized equivalents",
			input1:      service.normalizeContent("Takes Lisinopril, daily!"),
			input2:      service.normalizeContent("takes lisinopril daily"),
			shouldMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash1 := service.calculateHash(tt.input1)
			hash2 := service.calculateHash(tt.input2)
			if (hash1 == hash2) != tt.shouldMatch {
				t.Errorf("Hash match = %v, want %v", hash1 == hash2, tt.shouldMatch)
			}
			if len(hash1) != 64 {
				t.Errorf("Expected 64-char hex hash, got %d chars", len(hash1))
			}
		})
	}
}
