package artifact

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	// maxPDFPages limits the number of pages to process
	maxPDFPages = 100

	// maxExtractedTextSize limits the extracted text size (1MB)
	maxExtractedTextSize = 1024 * 1024
)

// ValidatePDF checks if a file is a valid PDF by attempting to open it
func ValidatePDF(data []byte) error {
	reader := bytes.NewReader(data)
	_, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid PDF: %w", err)
	}
	return nil
}

// extractPDFText extracts plain text from a PDF report. Measurement
// lines are matched per page, so page markers are not inserted.
func extractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	totalPages := pdfReader.NumPage()
	if totalPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}
	if totalPages > maxPDFPages {
		return "", fmt.Errorf("PDF has too many pages (%d), max allowed is %d", totalPages, maxPDFPages)
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages with extraction errors, don't fail completely
			continue
		}

		cleaned := cleanPDFText(text)
		if cleaned != "" {
			textBuilder.WriteString(cleaned)
			textBuilder.WriteString("\n")
		}

		if textBuilder.Len() > maxExtractedTextSize {
			break
		}
	}

	extracted := textBuilder.String()
	if len(extracted) > maxExtractedTextSize {
		extracted = extracted[:maxExtractedTextSize]
	}
	return extracted, nil
}

// cleanPDFText cleans extracted PDF text
func cleanPDFText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = normalizeWhitespace(text)
	return strings.TrimSpace(text)
}

// normalizeWhitespace collapses runs of spaces while preserving newlines
func normalizeWhitespace(text string) string {
	var result strings.Builder
	lastWasSpace := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				if r == '\n' {
					result.WriteRune('\n')
					lastWasSpace = false
				} else {
					result.WriteRune(' ')
					lastWasSpace = true
				}
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}
