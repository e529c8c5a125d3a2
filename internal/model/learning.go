package model

import "time"

// Rule types understood by the format extractors.
const (
	RuleTypeLabelInline = "label_inline"
	RuleTypeLabelBelow  = "label_below"
	RuleTypeRegex       = "regex"
)

// LearnedRule is a per-(format, field) extraction rule derived from
// reviewed corrections. Rules are deactivated, never deleted.
type LearnedRule struct {
	ID              int64          `json:"id"`
	FormatID        int            `json:"format_id"`
	FieldKey        string         `json:"field_key"`
	RuleType        string         `json:"rule_type"`
	LabelPatterns   []string       `json:"label_patterns"`
	ExcludePatterns []string       `json:"exclude_patterns"`
	PositionHints   map[string]any `json:"position_hints,omitempty"`
	Priority        int            `json:"priority"`
	Confidence      float64        `json:"confidence"`
	ValidationCount int            `json:"validation_count"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Summary returns the read-side view of the rule consumed by extractors.
func (r LearnedRule) Summary() RuleSummary {
	return RuleSummary{
		RuleType:        r.RuleType,
		LabelPatterns:   append([]string(nil), r.LabelPatterns...),
		ExcludePatterns: append([]string(nil), r.ExcludePatterns...),
		Confidence:      r.Confidence,
	}
}

// RuleSummary is what a format extractor sees of a learned rule.
type RuleSummary struct {
	RuleType        string   `json:"rule_type"`
	LabelPatterns   []string `json:"label_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	Confidence      float64  `json:"confidence"`
}

// FieldCorrection is a single reviewed field value. Only IsProcessed ever
// changes after creation.
type FieldCorrection struct {
	ID             int64     `json:"id"`
	RunID          int64     `json:"run_id"`
	FormatID       int       `json:"format_id"`
	DocumentID     int64     `json:"document_id"`
	FieldKey       string    `json:"field_key"`
	PredictedValue string    `json:"predicted_value"`
	CorrectedValue string    `json:"corrected_value"`
	WasCorrect     bool      `json:"was_correct"`
	ContextText    string    `json:"context_text"`
	PrecedingLabel string    `json:"preceding_label"`
	IsProcessed    bool      `json:"is_processed"`
	CreatedAt      time.Time `json:"created_at"`
}

// DatasetSplit assigns a training example to a dataset partition.
type DatasetSplit string

const (
	SplitTrain      DatasetSplit = "train"
	SplitTest       DatasetSplit = "test"
	SplitValidation DatasetSplit = "validation"
)

// TrainingExample aggregates one review submission's corrected values.
type TrainingExample struct {
	ID              int64             `json:"id"`
	FormatID        int               `json:"format_id"`
	DocumentID      int64             `json:"document_id"`
	CorrectedFields map[string]string `json:"corrected_fields"`
	RawText         string            `json:"raw_text"`
	QualityScore    float64           `json:"quality_score"`
	IsValidated     bool              `json:"is_validated"`
	DatasetSplit    DatasetSplit      `json:"dataset_split"`
	CreatedAt       time.Time         `json:"created_at"`
}

// FormatStats aggregates learning activity for one format.
type FormatStats struct {
	FormatID          int     `json:"format_id"`
	CorrectionCount   int     `json:"correction_count"`
	ExampleCount      int     `json:"example_count"`
	ValidatedExamples int     `json:"validated_examples"`
	ActiveRules       int     `json:"active_rules"`
	MeanConfidence    float64 `json:"mean_confidence"`
}
