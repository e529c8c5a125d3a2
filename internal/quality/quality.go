// Package quality grades extracted invoice text and recommends whether to
// trust the native text layer or fall back to OCR.
package quality

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/auction-intake/internal/model"
)

// Grading thresholds.
const (
	minUsableChars    = 50
	minGoodChars      = 200
	maxGarbledRatio   = 0.2
	cleanGarbledRatio = 0.1
	minAlphaRatio     = 0.5
	ocrAlphaRatio     = 0.3
	minWords          = 30
)

var (
	vinPattern    = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)
	datePattern   = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	amountPattern = regexp.MustCompile(`\$\s?\d[\d,]*(\.\d{2})?|\b\d[\d,]*\.\d{2}\b`)
)

var confidenceByQuality = map[model.TextQuality]float64{
	model.QualityExcellent: 0.95,
	model.QualityGood:      0.85,
	model.QualityPoor:      0.60,
	model.QualityUnusable:  0.20,
}

// Analyze computes quality metrics for text. It is pure and total: any input,
// including the empty string, produces a fully populated result.
func Analyze(text string) model.TextQualityMetrics {
	m := model.TextQualityMetrics{}

	var alpha, digit, space, garbled int
	for _, r := range text {
		m.TotalChars++
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsDigit(r):
			digit++
		}
		if unicode.IsSpace(r) {
			space++
		}
		if isGarbled(r) {
			garbled++
		}
	}

	words := strings.Fields(text)
	m.WordCount = len(words)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			m.LineCount++
		}
	}

	if m.TotalChars > 0 {
		total := float64(m.TotalChars)
		m.AlphaRatio = float64(alpha) / total
		m.DigitRatio = float64(digit) / total
		m.WhitespaceRatio = float64(space) / total
		m.GarbledRatio = float64(garbled) / total
	}
	if m.WordCount > 0 {
		var wordChars int
		for _, w := range words {
			wordChars += len([]rune(w))
		}
		m.AvgWordLength = float64(wordChars) / float64(m.WordCount)
	}

	m.HasVIN = vinPattern.MatchString(strings.ToUpper(text))
	m.HasDate = datePattern.MatchString(text)
	m.HasAmount = amountPattern.MatchString(text)

	m.Quality = grade(m)
	m.Mode = recommend(m)
	m.ConfidenceScore = confidenceByQuality[m.Quality]
	return m
}

// isGarbled flags runes outside printable ASCII, keeping ordinary line and
// tab whitespace.
func isGarbled(r rune) bool {
	if r > unicode.MaxASCII {
		return true
	}
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return unicode.IsControl(r)
}

func grade(m model.TextQualityMetrics) model.TextQuality {
	switch {
	case m.TotalChars < minUsableChars || m.GarbledRatio > maxGarbledRatio:
		return model.QualityUnusable
	case m.TotalChars < minGoodChars || m.AlphaRatio < minAlphaRatio:
		return model.QualityPoor
	case m.HasVIN && m.HasDate && m.WordCount >= minWords && m.GarbledRatio < cleanGarbledRatio:
		return model.QualityExcellent
	case m.WordCount >= minWords && m.GarbledRatio < cleanGarbledRatio:
		return model.QualityGood
	default:
		return model.QualityPoor
	}
}

func recommend(m model.TextQualityMetrics) model.ExtractionMode {
	switch m.Quality {
	case model.QualityExcellent, model.QualityGood:
		return model.ModeNative
	case model.QualityPoor:
		if !m.HasVIN && !m.HasDate && m.AlphaRatio < ocrAlphaRatio {
			return model.ModeOCR
		}
		return model.ModeHybrid
	default:
		return model.ModeOCR
	}
}
