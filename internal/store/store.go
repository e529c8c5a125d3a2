// Package store persists documents, pipeline runs, learned rules,
// corrections, training examples and transport orders.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-intake/internal/model"
)

// ErrNotFound is returned (wrapped) when a looked-up record does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RunUpdate is the outcome of one pipeline pass persisted onto a run.
type RunUpdate struct {
	FormatID      int
	Status        model.RunStatus
	ExtractedText string
	Result        json.RawMessage
	Error         string
}

// Store defines the persistence interface for the intake pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, sourcePath string, pageCount int) (*model.Document, error)
	GetDocument(ctx context.Context, id int64) (*model.Document, error)

	// Runs
	CreateRun(ctx context.Context, documentID int64) (*model.Run, error)
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRun(ctx context.Context, id int64, upd RunUpdate) error

	// Learned rules
	ActiveRules(ctx context.Context, formatID int) ([]model.LearnedRule, error)
	ActiveRule(ctx context.Context, formatID int, fieldKey string) (*model.LearnedRule, error)
	SaveRule(ctx context.Context, rule *model.LearnedRule) error
	DeactivateRule(ctx context.Context, id int64) error

	// Corrections
	InsertCorrection(ctx context.Context, c *model.FieldCorrection) error
	UnprocessedCorrections(ctx context.Context, formatID, limit int) ([]model.FieldCorrection, error)
	MarkCorrectionsProcessed(ctx context.Context, ids []int64) error

	// Training examples
	InsertTrainingExample(ctx context.Context, ex *model.TrainingExample) error
	ImportTrainingExamples(ctx context.Context, examples []model.TrainingExample) (int64, error)
	ListTrainingExamples(ctx context.Context, formatID int, split model.DatasetSplit) ([]model.TrainingExample, error)

	// Transport orders
	UpsertTransportOrder(ctx context.Context, order *model.TransportOrder, externalID string) (created bool, err error)

	// Stats
	FormatStats(ctx context.Context, formatID int) (*model.FormatStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound)
}

func marshalPatterns(p []string) (string, error) {
	if p == nil {
		p = []string{}
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func unmarshalPatterns(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
