package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_DocumentsAndRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/in/copart-1.pdf", 2)
	require.NoError(t, err)
	assert.NotZero(t, doc.ID)

	again, err := s.CreateDocument(ctx, "/in/copart-1.pdf", 3)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	assert.Equal(t, 3, again.PageCount)

	run, err := s.CreateRun(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, "/in/copart-1.pdf", run.SourcePath)

	result := json.RawMessage(`{"action":"posted"}`)
	require.NoError(t, s.UpdateRun(ctx, run.ID, RunUpdate{
		FormatID:      1,
		Status:        model.RunStatusPosted,
		ExtractedText: "COPART",
		Result:        result,
	}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPosted, got.Status)
	assert.Equal(t, 1, got.FormatID)
	assert.Equal(t, "COPART", got.ExtractedText)
	assert.JSONEq(t, string(result), string(got.Result))

	_, err = s.GetRun(ctx, 999)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(s.UpdateRun(ctx, 999, RunUpdate{Status: model.RunStatusFailed})))

	_, err = s.GetDocument(ctx, 999)
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ListRunsFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, p := range []string{"/a.pdf", "/b.pdf", "/c.pdf"} {
		doc, err := s.CreateDocument(ctx, p, 1)
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, doc.ID)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateRun(ctx, 2, RunUpdate{Status: model.RunStatusFailed, Error: "boom"}))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)

	page, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "boom", page[0].Error)
}

func TestSQLite_LearnedRules(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	none, err := s.ActiveRule(ctx, 1, "vin")
	require.NoError(t, err)
	assert.Nil(t, none)

	rule := &model.LearnedRule{
		FormatID:      1,
		FieldKey:      "pickup_address",
		RuleType:      model.RuleTypeLabelBelow,
		LabelPatterns: []string{"PHYSICAL ADDRESS OF LOT"},
		Confidence:    0.5,
		IsActive:      true,
	}
	require.NoError(t, s.SaveRule(ctx, rule))
	assert.NotZero(t, rule.ID)

	rule.LabelPatterns = append(rule.LabelPatterns, "LOT LOCATION")
	rule.ValidationCount = 4
	require.NoError(t, s.SaveRule(ctx, rule))

	got, err := s.ActiveRule(ctx, 1, "pickup_address")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"PHYSICAL ADDRESS OF LOT", "LOT LOCATION"}, got.LabelPatterns)
	assert.Equal(t, []string{}, got.ExcludePatterns)
	assert.Equal(t, 4, got.ValidationCount)
	assert.True(t, got.IsActive)

	// A second active rule for the same field violates the partial index.
	dup := &model.LearnedRule{FormatID: 1, FieldKey: "pickup_address", RuleType: model.RuleTypeLabelBelow, IsActive: true}
	assert.Error(t, s.SaveRule(ctx, dup))

	require.NoError(t, s.DeactivateRule(ctx, rule.ID))
	rules, err := s.ActiveRules(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rules)

	// Deactivated rules free the slot for a replacement.
	replacement := &model.LearnedRule{FormatID: 1, FieldKey: "pickup_address", RuleType: model.RuleTypeLabelInline, IsActive: true}
	require.NoError(t, s.SaveRule(ctx, replacement))

	assert.True(t, IsNotFound(s.DeactivateRule(ctx, 12345)))
}

func TestSQLite_Corrections(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []int64
	for i, key := range []string{"vin", "lot_number", "vin"} {
		c := &model.FieldCorrection{
			RunID: 7, FormatID: 1, FieldKey: key, CorrectedValue: "v",
			WasCorrect: i%2 == 0, PrecedingLabel: "LOT #",
		}
		require.NoError(t, s.InsertCorrection(ctx, c))
		ids = append(ids, c.ID)
	}
	other := &model.FieldCorrection{RunID: 8, FormatID: 2, FieldKey: "vin", CorrectedValue: "x"}
	require.NoError(t, s.InsertCorrection(ctx, other))

	pending, err := s.UnprocessedCorrections(ctx, 1, 100)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[2], pending[0].ID)
	assert.True(t, pending[0].WasCorrect)
	assert.False(t, pending[1].WasCorrect)

	limited, err := s.UnprocessedCorrections(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, s.MarkCorrectionsProcessed(ctx, ids[:2]))
	pending, err = s.UnprocessedCorrections(ctx, 1, 100)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	assert.NoError(t, s.MarkCorrectionsProcessed(ctx, nil))
}

func TestSQLite_TrainingExamples(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ex := &model.TrainingExample{
		FormatID:        1,
		DocumentID:      3,
		CorrectedFields: map[string]string{"vin": "1HGCM82633A004352"},
		RawText:         "raw",
		QualityScore:    0.85,
		IsValidated:     true,
		DatasetSplit:    model.SplitTrain,
	}
	require.NoError(t, s.InsertTrainingExample(ctx, ex))
	assert.NotZero(t, ex.ID)

	n, err := s.ImportTrainingExamples(ctx, []model.TrainingExample{
		{FormatID: 1, CorrectedFields: map[string]string{"make": "HONDA"}, DatasetSplit: model.SplitTest},
		{FormatID: 2, CorrectedFields: map[string]string{}, DatasetSplit: model.SplitValidation},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := s.ListTrainingExamples(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1HGCM82633A004352", all[0].CorrectedFields["vin"])
	assert.True(t, all[0].IsValidated)

	test, err := s.ListTrainingExamples(ctx, 1, model.SplitTest)
	require.NoError(t, err)
	require.Len(t, test, 1)
	assert.Equal(t, "HONDA", test[0].CorrectedFields["make"])
}

func TestSQLite_UpsertTransportOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	order := &model.TransportOrder{RunID: 1, VIN: "1HGCM82633A004352", Make: "HONDA"}
	created, err := s.UpsertTransportOrder(ctx, order, "")
	require.NoError(t, err)
	assert.True(t, created)

	order.RunID = 2
	created, err = s.UpsertTransportOrder(ctx, order, "a0X000")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSQLite_FormatStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	empty, err := s.FormatStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.FormatStats{FormatID: 1}, *empty)

	require.NoError(t, s.InsertCorrection(ctx, &model.FieldCorrection{FormatID: 1, FieldKey: "vin", CorrectedValue: "x"}))
	require.NoError(t, s.InsertTrainingExample(ctx, &model.TrainingExample{FormatID: 1, IsValidated: true, DatasetSplit: model.SplitTrain}))
	require.NoError(t, s.InsertTrainingExample(ctx, &model.TrainingExample{FormatID: 1, DatasetSplit: model.SplitTest}))
	require.NoError(t, s.SaveRule(ctx, &model.LearnedRule{FormatID: 1, FieldKey: "vin", RuleType: "regex", Confidence: 0.4, IsActive: true}))
	require.NoError(t, s.SaveRule(ctx, &model.LearnedRule{FormatID: 1, FieldKey: "make", RuleType: "label_inline", Confidence: 0.8, IsActive: true}))

	st, err := s.FormatStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CorrectionCount)
	assert.Equal(t, 2, st.ExampleCount)
	assert.Equal(t, 1, st.ValidatedExamples)
	assert.Equal(t, 2, st.ActiveRules)
	assert.InDelta(t, 0.6, st.MeanConfidence, 0.0001)
}
