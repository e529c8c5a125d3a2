package model

// TextQuality grades extracted text.
type TextQuality string

const (
	QualityExcellent TextQuality = "excellent"
	QualityGood      TextQuality = "good"
	QualityPoor      TextQuality = "poor"
	QualityUnusable  TextQuality = "unusable"
)

// ExtractionMode is the recommended text extraction strategy.
type ExtractionMode string

const (
	ModeNative ExtractionMode = "native"
	ModeOCR    ExtractionMode = "ocr"
	ModeHybrid ExtractionMode = "hybrid"
)

// TextQualityMetrics summarizes the quality of a block of extracted text.
type TextQualityMetrics struct {
	TotalChars      int            `json:"total_chars"`
	WordCount       int            `json:"word_count"`
	LineCount       int            `json:"line_count"`
	AlphaRatio      float64        `json:"alpha_ratio"`
	DigitRatio      float64        `json:"digit_ratio"`
	WhitespaceRatio float64        `json:"whitespace_ratio"`
	GarbledRatio    float64        `json:"garbled_ratio"`
	AvgWordLength   float64        `json:"avg_word_length"`
	HasVIN          bool           `json:"has_vin"`
	HasDate         bool           `json:"has_date"`
	HasAmount       bool           `json:"has_amount"`
	Quality         TextQuality    `json:"quality"`
	Mode            ExtractionMode `json:"recommended_mode"`
	ConfidenceScore float64        `json:"confidence_score"`
}
