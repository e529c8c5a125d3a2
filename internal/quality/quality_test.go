package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/auction-intake/internal/model"
)

const cleanInvoice = `COPART SALES RECEIPT
Buyer number 445566 purchased the vehicle described below at public auction.
VIN: 1HGCM82633A004352
Sale Date: 03/14/2024
The vehicle must be picked up from the lot location within three business days of payment or storage fees will apply to this account.
Total Due: $1,250.00
`

const prose = `The buyer agrees that the vehicle is sold as is and where is without any warranty of any kind.
Storage charges begin accruing after the free period ends and must be settled before the vehicle leaves the yard.
Please bring this receipt and a valid photo identification when collecting the vehicle.
`

func TestAnalyzeGrades(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		quality    model.TextQuality
		mode       model.ExtractionMode
		confidence float64
	}{
		{"empty", "", model.QualityUnusable, model.ModeOCR, 0.20},
		{"short", "VIN 1HGCM82633A004352", model.QualityUnusable, model.ModeOCR, 0.20},
		{"garbled", strings.Repeat("éüß", 30), model.QualityUnusable, model.ModeOCR, 0.20},
		{"excellent", cleanInvoice, model.QualityExcellent, model.ModeNative, 0.95},
		{"good", prose, model.QualityGood, model.ModeNative, 0.85},
		{"poor with vin", "VIN 1HGCM82633A004352 lot 12345678 sold at auction to buyer 445566 for pickup in Dallas Texas", model.QualityPoor, model.ModeHybrid, 0.60},
		{"poor numeric", strings.Repeat("12 34 56 ", 10), model.QualityPoor, model.ModeOCR, 0.60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := Analyze(tt.text)
			assert.Equal(t, tt.quality, m.Quality)
			assert.Equal(t, tt.mode, m.Mode)
			assert.InDelta(t, tt.confidence, m.ConfidenceScore, 0.0001)
		})
	}
}

func TestAnalyzeShortTextAlwaysUnusable(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"a", "   ", "1HGCM82633A004352 03/14/2024 $5.00", strings.Repeat("x", 49)} {
		m := Analyze(text)
		assert.Equal(t, model.QualityUnusable, m.Quality, text)
		assert.Equal(t, model.ModeOCR, m.Mode, text)
		assert.InDelta(t, 0.20, m.ConfidenceScore, 0.0001, text)
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", cleanInvoice, prose, "\x00\x01garbage"} {
		assert.Equal(t, Analyze(text), Analyze(text))
	}
}

func TestAnalyzeMetrics(t *testing.T) {
	t.Parallel()

	m := Analyze(cleanInvoice)
	assert.True(t, m.HasVIN)
	assert.True(t, m.HasDate)
	assert.True(t, m.HasAmount)
	assert.Equal(t, 6, m.LineCount)
	assert.Greater(t, m.WordCount, 30)
	assert.Greater(t, m.AlphaRatio, 0.5)
	assert.Zero(t, m.GarbledRatio)
	assert.Greater(t, m.AvgWordLength, 2.0)

	empty := Analyze("")
	assert.Zero(t, empty.TotalChars)
	assert.Zero(t, empty.AlphaRatio)
	assert.Zero(t, empty.AvgWordLength)
}

func TestAnalyzeGarbledIgnoresLineWhitespace(t *testing.T) {
	t.Parallel()

	m := Analyze("line one\r\n\tline two\n")
	assert.Zero(t, m.GarbledRatio)

	m = Analyze("ab\x07cd")
	assert.InDelta(t, 0.2, m.GarbledRatio, 0.0001)
}

func TestAnalyzeISODate(t *testing.T) {
	t.Parallel()
	assert.True(t, Analyze("sold 2024-03-14").HasDate)
	assert.False(t, Analyze("lot 12345678").HasDate)
}
