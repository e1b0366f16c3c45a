package artifact

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lens0/internal/models"
)

// Deterministic lab-report parsing. No model calls: a report parses to
// the same measurements every time or not at all. Unknown analytes are
// skipped, never guessed.

// Supported report formats.
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
	FormatText = "txt"
	FormatCSV  = "csv"
)

// analyteUnits is the fixed reference table: canonical analyte name to
// the units accepted for it. Only listed analytes are ever extracted.
var analyteUnits = map[string][]string{
	"glucose":       {"mg/dl", "mmol/l"},
	"hemoglobin":    {"g/dl"},
	"hba1c":         {"%"},
	"cholesterol":   {"mg/dl", "mmol/l"},
	"ldl":           {"mg/dl", "mmol/l"},
	"hdl":           {"mg/dl", "mmol/l"},
	"triglycerides": {"mg/dl", "mmol/l"},
	"creatinine":    {"mg/dl", "umol/l"},
	"tsh":           {"miu/l", "uiu/ml"},
	"alt":           {"u/l"},
	"ast":           {"u/l"},
	"vitamin d":     {"ng/ml", "nmol/l"},
	"sodium":        {"mmol/l", "meq/l"},
	"potassium":     {"mmol/l", "meq/l"},
}

// analyteAliases maps report spellings to canonical analyte names.
var analyteAliases = map[string]string{
	"blood glucose":     "glucose",
	"fasting glucose":   "glucose",
	"hb":                "hemoglobin",
	"hgb":               "hemoglobin",
	"a1c":               "hba1c",
	"hemoglobin a1c":    "hba1c",
	"total cholesterol": "cholesterol",
	"ldl cholesterol":   "ldl",
	"hdl cholesterol":   "hdl",
	"vitamin d3":        "vitamin d",
	"25-oh vitamin d":   "vitamin d",
}

var (
	// "Glucose: 95 mg/dL" / "LDL Cholesterol   130 mg/dL"
	measurementRe = regexp.MustCompile(`(?i)^\s*([a-z][a-z0-9 .()-]*?)\s*[:\t]?\s+(\d+(?:\.\d+)?)\s*([a-z%]+(?:/[a-z]+)?)\s*$`)
	// "Date: 2026-05-01" / "Collected: 2026-05-01"
	dateRe = regexp.MustCompile(`(?i)^\s*(?:date|collected|collection date|observed)\s*[:\t]\s*(\d{4}-\d{2}-\d{2})\s*$`)
)

// ParseReport parses a lab report in the given format into measurements.
func ParseReport(data []byte, format string) ([]models.Measurement, error) {
	switch strings.ToLower(format) {
	case FormatPDF:
		text, err := extractPDFText(data)
		if err != nil {
			return nil, err
		}
		return ParseText(text), nil
	case FormatXLSX:
		return parseXLSX(data)
	case FormatText:
		return ParseText(string(data)), nil
	case FormatCSV:
		return parseCSV(string(data))
	default:
		return nil, fmt.Errorf("unsupported artifact format: %s", format)
	}
}

// ParseText extracts measurements from free-form report text, one
// analyte per line. A date line applies to every measurement after it.
func ParseText(text string) []models.Measurement {
	var measurements []models.Measurement
	observedAt := ""

	for _, line := range strings.Split(text, "\n") {
		if m := dateRe.FindStringSubmatch(line); m != nil {
			if t, err := time.Parse("2006-01-02", m[1]); err == nil {
				observedAt = t.UTC().Format(time.RFC3339)
			}
			continue
		}

		m := measurementRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		analyte, ok := canonicalAnalyte(m[1])
		if !ok {
			continue
		}
		unit := strings.ToLower(m[3])
		if !unitAccepted(analyte, unit) {
			continue
		}

		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}

		measurements = append(measurements, models.Measurement{
			Analyte:    analyte,
			Value:      value,
			Unit:       unit,
			ObservedAt: observedAt,
		})
	}
	return measurements
}

// parseCSV parses "analyte,value,unit[,date]" rows. A header row is
// skipped when present.
func parseCSV(text string) ([]models.Measurement, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	var measurements []models.Measurement
	for i, fields := range records {
		if len(fields) < 3 {
			continue
		}
		for j := range fields {
			fields[j] = strings.TrimSpace(fields[j])
		}

		if i == 0 && strings.EqualFold(fields[0], "analyte") {
			continue
		}

		analyte, ok := canonicalAnalyte(fields[0])
		if !ok {
			continue
		}
		unit := strings.ToLower(fields[2])
		if !unitAccepted(analyte, unit) {
			continue
		}

		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}

		observedAt := ""
		if len(fields) >= 4 && fields[3] != "" {
			if t, err := time.Parse("2006-01-02", fields[3]); err == nil {
				observedAt = t.UTC().Format(time.RFC3339)
			}
		}

		measurements = append(measurements, models.Measurement{
			Analyte:    analyte,
			Value:      value,
			Unit:       unit,
			ObservedAt: observedAt,
		})
	}
	return measurements, nil
}

// canonicalAnalyte resolves a report spelling against the reference table.
func canonicalAnalyte(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.Join(strings.Fields(n), " ")

	if alias, ok := analyteAliases[n]; ok {
		n = alias
	}
	if _, ok := analyteUnits[n]; ok {
		return n, true
	}
	return "", false
}

func unitAccepted(analyte, unit string) bool {
	for _, u := range analyteUnits[analyte] {
		if u == unit {
			return true
		}
	}
	return false
}
