package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runCols = []string{"id", "document_id", "source_path", "format_id", "status", "extracted_text", "result", "error", "created_at", "updated_at"}

var ruleCols = []string{"id", "format_id", "field_key", "rule_type", "label_patterns", "exclude_patterns", "position_hints",
	"priority", "confidence", "validation_count", "is_active", "created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_learned_rules_active`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT r.id, r.document_id, d.source_path .* WHERE r.id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow(int64(5), int64(2), "/in/a.pdf", 1, "posted", "text", []byte(`{"action":"posted"}`), "", now, now))

	r, err := s.GetRun(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPosted, r.Status)
	assert.Equal(t, "/in/a.pdf", r.SourcePath)
	assert.JSONEq(t, `{"action":"posted"}`, string(r.Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs r JOIN documents d`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE true AND r.status = \$1 ORDER BY r.id LIMIT \$2 OFFSET \$3`).
		WithArgs("pending", 10, 20).
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow(int64(21), int64(3), "/in/b.pdf", 0, "pending", "", nil, "", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusPending, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET format_id`).
		WithArgs(1, "failed", "", pgxmock.AnyArg(), "boom", int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRun(context.Background(), 9, RunUpdate{FormatID: 1, Status: model.RunStatusFailed, Error: "boom"})
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ActiveRules(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM learned_rules WHERE format_id = \$1 AND is_active`).
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows(ruleCols).
			AddRow(int64(1), 1, "pickup_address", "label_below", []byte(`["PHYSICAL ADDRESS OF LOT"]`), []byte(`[]`),
				[]byte(`{}`), 0, 0.7, 10, true, now, now))

	rules, err := s.ActiveRules(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, []string{"PHYSICAL ADDRESS OF LOT"}, rules[0].LabelPatterns)
	assert.Equal(t, []string{}, rules[0].ExcludePatterns)
	assert.Nil(t, rules[0].PositionHints)
	assert.InDelta(t, 0.7, rules[0].Confidence, 0.0001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ActiveRule_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`AND field_key = \$2 AND is_active`).
		WithArgs(2, "vin").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.ActiveRule(context.Background(), 2, "vin")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRule_InsertAndUpdate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	ctx := context.Background()

	rule := &model.LearnedRule{FormatID: 1, FieldKey: "vin", RuleType: "label_below", LabelPatterns: []string{"VIN:"}, IsActive: true}

	mock.ExpectQuery(`INSERT INTO learned_rules`).
		WithArgs(1, "vin", "label_below", `["VIN:"]`, `[]`, `{}`, 0, 0.0, 0, true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))
	require.NoError(t, s.SaveRule(ctx, rule))
	assert.Equal(t, int64(11), rule.ID)

	rule.Confidence = 0.5
	mock.ExpectExec(`UPDATE learned_rules SET rule_type`).
		WithArgs("label_below", `["VIN:"]`, `[]`, `{}`, 0, 0.5, 0, true, int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.SaveRule(ctx, rule))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateRule(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE learned_rules SET is_active = false`).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE learned_rules SET is_active = false`).
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.DeactivateRule(context.Background(), 3))
	assert.True(t, IsNotFound(s.DeactivateRule(context.Background(), 4)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkCorrectionsProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE field_corrections SET is_processed = true WHERE id = ANY\(\$1\)`).
		WithArgs([]int64{1, 2, 3}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	require.NoError(t, s.MarkCorrectionsProcessed(context.Background(), []int64{1, 2, 3}))
	require.NoError(t, s.MarkCorrectionsProcessed(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportTrainingExamples(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"training_examples"}, trainingExampleColumns).WillReturnResult(2)

	n, err := s.ImportTrainingExamples(context.Background(), []model.TrainingExample{
		{FormatID: 1, CorrectedFields: map[string]string{"vin": "x"}, DatasetSplit: model.SplitTrain},
		{FormatID: 1, DatasetSplit: model.SplitTest},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertTransportOrder(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	order := &model.TransportOrder{RunID: 4, VIN: "1HGCM82633A004352"}

	mock.ExpectQuery(`ON CONFLICT \(vin\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), int64(4), "1HGCM82633A004352", "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	created, err := s.UpsertTransportOrder(context.Background(), order, "")
	require.NoError(t, err)
	assert.False(t, created)

	mock.ExpectQuery(`ON CONFLICT \(vin\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), int64(4), "1HGCM82633A004352", "", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	_, err = s.UpsertTransportOrder(context.Background(), order, "")
	assert.ErrorContains(t, err, "upsert transport order")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FormatStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM field_corrections`).
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"c", "e", "v", "r", "m"}).AddRow(10, 3, 1, 2, 0.75))

	st, err := s.FormatStats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.FormatStats{FormatID: 1, CorrectionCount: 10, ExampleCount: 3, ValidatedExamples: 1, ActiveRules: 2, MeanConfidence: 0.75}, *st)
	assert.NoError(t, mock.ExpectationsWereMet())
}
