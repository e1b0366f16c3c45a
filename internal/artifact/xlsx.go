package artifact

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"lens0/internal/models"
)

// parseXLSX reads measurements from the first sheet of a workbook.
// Expected columns: analyte, value, unit, and optionally date. A header
// row is detected by the literal "analyte" in the first cell; without
// one the columns are taken positionally.
func parseXLSX(data []byte) ([]models.Measurement, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	colAnalyte, colValue, colUnit, colDate := 0, 1, 2, 3
	start := 0
	if len(rows) > 0 && len(rows[0]) > 0 && strings.EqualFold(strings.TrimSpace(rows[0][0]), "analyte") {
		start = 1
		for i, cell := range rows[0] {
			switch strings.ToLower(strings.TrimSpace(cell)) {
			case "analyte":
				colAnalyte = i
			case "value", "result":
				colValue = i
			case "unit", "units":
				colUnit = i
			case "date", "collected", "observed":
				colDate = i
			}
		}
	}

	var measurements []models.Measurement
	for _, row := range rows[start:] {
		if len(row) <= colValue || len(row) <= colUnit || len(row) <= colAnalyte {
			continue
		}

		analyte, ok := canonicalAnalyte(row[colAnalyte])
		if !ok {
			continue
		}
		unit := strings.ToLower(strings.TrimSpace(row[colUnit]))
		if !unitAccepted(analyte, unit) {
			continue
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(row[colValue]), 64)
		if err != nil {
			continue
		}

		observedAt := ""
		if len(row) > colDate {
			if t, err := time.Parse("2006-01-02", strings.TrimSpace(row[colDate])); err == nil {
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
