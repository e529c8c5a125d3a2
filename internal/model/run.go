package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of one pipeline pass over a document.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusExtracted RunStatus = "extracted"
	RunStatusPosted    RunStatus = "posted"
	RunStatusFailed    RunStatus = "failed"
)

// Document is an ingested source file.
type Document struct {
	ID         int64     `json:"id"`
	SourcePath string    `json:"source_path"`
	PageCount  int       `json:"page_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Run is one pass of the extraction pipeline over a document.
type Run struct {
	ID            int64           `json:"id"`
	DocumentID    int64           `json:"document_id"`
	SourcePath    string          `json:"source_path"`
	FormatID      int             `json:"format_id"`
	Status        RunStatus       `json:"status"`
	ExtractedText string          `json:"-"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RunContext is what the learning service needs to know about a run.
type RunContext struct {
	FormatID      int    `json:"format_id"`
	DocumentID    int64  `json:"document_id"`
	ExtractedText string `json:"extracted_text"`
}

// DefaultFormatID is used when a run's format cannot be resolved.
const DefaultFormatID = 1
