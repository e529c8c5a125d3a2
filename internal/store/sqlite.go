package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/auction-intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path TEXT NOT NULL UNIQUE,
	page_count  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id    INTEGER NOT NULL REFERENCES documents(id),
	format_id      INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	extracted_text TEXT NOT NULL DEFAULT '',
	result         TEXT,
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS learned_rules (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	format_id        INTEGER NOT NULL,
	field_key        TEXT NOT NULL,
	rule_type        TEXT NOT NULL DEFAULT 'label_below',
	label_patterns   TEXT NOT NULL DEFAULT '[]',
	exclude_patterns TEXT NOT NULL DEFAULT '[]',
	position_hints   TEXT NOT NULL DEFAULT '{}',
	priority         INTEGER NOT NULL DEFAULT 0,
	confidence       REAL NOT NULL DEFAULT 0,
	validation_count INTEGER NOT NULL DEFAULT 0,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_corrections (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          INTEGER NOT NULL,
	format_id       INTEGER NOT NULL,
	document_id     INTEGER NOT NULL DEFAULT 0,
	field_key       TEXT NOT NULL,
	predicted_value TEXT NOT NULL DEFAULT '',
	corrected_value TEXT NOT NULL,
	was_correct     INTEGER NOT NULL DEFAULT 0,
	context_text    TEXT NOT NULL DEFAULT '',
	preceding_label TEXT NOT NULL DEFAULT '',
	is_processed    INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS training_examples (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	format_id        INTEGER NOT NULL,
	document_id      INTEGER NOT NULL DEFAULT 0,
	corrected_fields TEXT NOT NULL DEFAULT '{}',
	raw_text         TEXT NOT NULL DEFAULT '',
	quality_score    REAL NOT NULL DEFAULT 0,
	is_validated     INTEGER NOT NULL DEFAULT 0,
	dataset_split    TEXT NOT NULL DEFAULT 'train',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transport_orders (
	id          TEXT PRIMARY KEY,
	run_id      INTEGER NOT NULL,
	vin         TEXT NOT NULL UNIQUE,
	external_id TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_learned_rules_active ON learned_rules(format_id, field_key) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_field_corrections_pending ON field_corrections(format_id, is_processed, created_at);
CREATE INDEX IF NOT EXISTS idx_training_examples_format ON training_examples(format_id, dataset_split);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateDocument registers sourcePath, refreshing the page count when the
// path is already known.
func (s *SQLiteStore) CreateDocument(ctx context.Context, sourcePath string, pageCount int) (*model.Document, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO documents (source_path, page_count, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(source_path) DO UPDATE SET page_count = excluded.page_count
		 RETURNING id`,
		sourcePath, pageCount, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert document %s", sourcePath)
	}
	return s.GetDocument(ctx, id)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	var d model.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, page_count, created_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.SourcePath, &d.PageCount, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %d", id)
	}
	return &d, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, documentID int64) (*model.Run, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (document_id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		documentID, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for document %d", documentID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: run id")
	}
	return s.GetRun(ctx, id)
}

const runColumns = `r.id, r.document_id, d.source_path, r.format_id, r.status, r.extracted_text, r.result, r.error, r.created_at, r.updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs r JOIN documents d ON d.id = r.document_id WHERE r.id = ?`, id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs r JOIN documents d ON d.id = r.document_id WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND r.status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY r.id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, id int64, upd RunUpdate) error {
	var result any
	if len(upd.Result) > 0 {
		result = string(upd.Result)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET format_id = ?, status = ?, extracted_text = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		upd.FormatID, string(upd.Status), upd.ExtractedText, result, upd.Error, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %d", id)
	}
	return checkRowsAffected(res, "run", id)
}

const ruleColumns = `id, format_id, field_key, rule_type, label_patterns, exclude_patterns, position_hints, priority, confidence, validation_count, is_active, created_at, updated_at`

func (s *SQLiteStore) ActiveRules(ctx context.Context, formatID int) ([]model.LearnedRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM learned_rules WHERE format_id = ? AND is_active = 1 ORDER BY priority DESC, field_key`,
		formatID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active rules for format %d", formatID)
	}
	defer rows.Close()

	var rules []model.LearnedRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: active rules iterate")
}

// ActiveRule returns the active rule for (formatID, fieldKey), or nil when
// there is none.
func (s *SQLiteStore) ActiveRule(ctx context.Context, formatID int, fieldKey string) (*model.LearnedRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM learned_rules WHERE format_id = ? AND field_key = ? AND is_active = 1`,
		formatID, fieldKey,
	)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active rule %d/%s", formatID, fieldKey)
	}
	return r, nil
}

// SaveRule inserts rule when its ID is zero and updates it otherwise.
func (s *SQLiteStore) SaveRule(ctx context.Context, rule *model.LearnedRule) error {
	labels, excludes, hints, err := encodeRule(rule)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode rule")
	}
	now := time.Now().UTC()

	if rule.ID == 0 {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO learned_rules (format_id, field_key, rule_type, label_patterns, exclude_patterns, position_hints,
			   priority, confidence, validation_count, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			rule.FormatID, rule.FieldKey, rule.RuleType, labels, excludes, hints,
			rule.Priority, rule.Confidence, rule.ValidationCount, rule.IsActive, now, now,
		).Scan(&rule.ID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert rule %d/%s", rule.FormatID, rule.FieldKey)
		}
		rule.CreatedAt, rule.UpdatedAt = now, now
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE learned_rules SET rule_type = ?, label_patterns = ?, exclude_patterns = ?, position_hints = ?,
		   priority = ?, confidence = ?, validation_count = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		rule.RuleType, labels, excludes, hints,
		rule.Priority, rule.Confidence, rule.ValidationCount, rule.IsActive, now, rule.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update rule %d", rule.ID)
	}
	rule.UpdatedAt = now
	return checkRowsAffected(res, "rule", rule.ID)
}

func (s *SQLiteStore) DeactivateRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learned_rules SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate rule %d", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) InsertCorrection(ctx context.Context, c *model.FieldCorrection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO field_corrections (run_id, format_id, document_id, field_key, predicted_value, corrected_value,
		   was_correct, context_text, preceding_label, is_processed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		c.RunID, c.FormatID, c.DocumentID, c.FieldKey, c.PredictedValue, c.CorrectedValue,
		c.WasCorrect, c.ContextText, c.PrecedingLabel, c.IsProcessed, c.CreatedAt,
	).Scan(&c.ID)
	return eris.Wrapf(err, "sqlite: insert correction %s", c.FieldKey)
}

// UnprocessedCorrections returns up to limit unprocessed corrections for
// formatID, most recent first.
func (s *SQLiteStore) UnprocessedCorrections(ctx context.Context, formatID, limit int) ([]model.FieldCorrection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, format_id, document_id, field_key, predicted_value, corrected_value,
		   was_correct, context_text, preceding_label, is_processed, created_at
		 FROM field_corrections WHERE format_id = ? AND is_processed = 0
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		formatID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: unprocessed corrections for format %d", formatID)
	}
	defer rows.Close()

	var out []model.FieldCorrection
	for rows.Next() {
		var c model.FieldCorrection
		if err := rows.Scan(&c.ID, &c.RunID, &c.FormatID, &c.DocumentID, &c.FieldKey, &c.PredictedValue,
			&c.CorrectedValue, &c.WasCorrect, &c.ContextText, &c.PrecedingLabel, &c.IsProcessed, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: unprocessed corrections iterate")
}

func (s *SQLiteStore) MarkCorrectionsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE field_corrections SET is_processed = 1 WHERE id IN (`+placeholders+`)`, args...,
	)
	return eris.Wrap(err, "sqlite: mark corrections processed")
}

func (s *SQLiteStore) InsertTrainingExample(ctx context.Context, ex *model.TrainingExample) error {
	fields, err := json.Marshal(ex.CorrectedFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal corrected fields")
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO training_examples (format_id, document_id, corrected_fields, raw_text, quality_score,
		   is_validated, dataset_split, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		ex.FormatID, ex.DocumentID, string(fields), ex.RawText, ex.QualityScore,
		ex.IsValidated, string(ex.DatasetSplit), ex.CreatedAt,
	).Scan(&ex.ID)
	return eris.Wrap(err, "sqlite: insert training example")
}

// ImportTrainingExamples inserts examples in a single transaction.
func (s *SQLiteStore) ImportTrainingExamples(ctx context.Context, examples []model.TrainingExample) (int64, error) {
	if len(examples) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO training_examples (format_id, document_id, corrected_fields, raw_text, quality_score,
		   is_validated, dataset_split, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare import")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range examples {
		ex := &examples[i]
		fields, err := json.Marshal(ex.CorrectedFields)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal corrected fields")
		}
		if _, err := stmt.ExecContext(ctx, ex.FormatID, ex.DocumentID, string(fields), ex.RawText,
			ex.QualityScore, ex.IsValidated, string(ex.DatasetSplit), now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import training example %d", i)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return int64(len(examples)), nil
}

// ListTrainingExamples returns formatID's examples in insertion order. An
// empty split returns every split.
func (s *SQLiteStore) ListTrainingExamples(ctx context.Context, formatID int, split model.DatasetSplit) ([]model.TrainingExample, error) {
	query := `SELECT id, format_id, document_id, corrected_fields, raw_text, quality_score, is_validated, dataset_split, created_at
		FROM training_examples WHERE format_id = ?`
	args := []any{formatID}
	if split != "" {
		query += ` AND dataset_split = ?`
		args = append(args, string(split))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list training examples for format %d", formatID)
	}
	defer rows.Close()

	var out []model.TrainingExample
	for rows.Next() {
		var ex model.TrainingExample
		var fields, split string
		if err := rows.Scan(&ex.ID, &ex.FormatID, &ex.DocumentID, &fields, &ex.RawText, &ex.QualityScore,
			&ex.IsValidated, &split, &ex.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan training example")
		}
		ex.DatasetSplit = model.DatasetSplit(split)
		if err := json.Unmarshal([]byte(fields), &ex.CorrectedFields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal corrected fields")
		}
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list training examples iterate")
}

// UpsertTransportOrder stores order keyed by VIN and reports whether a new
// row was created.
func (s *SQLiteStore) UpsertTransportOrder(ctx context.Context, order *model.TransportOrder, externalID string) (bool, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal transport order")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin order upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM transport_orders WHERE vin = ?`, order.VIN).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transport_orders (id, run_id, vin, external_id, payload, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), order.RunID, order.VIN, externalID, string(payload), now, now,
		)
		if err != nil {
			return false, eris.Wrapf(err, "sqlite: insert transport order %s", order.VIN)
		}
	case err != nil:
		return false, eris.Wrapf(err, "sqlite: lookup transport order %s", order.VIN)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE transport_orders SET run_id = ?, external_id = ?, payload = ?, updated_at = ? WHERE id = ?`,
			order.RunID, externalID, string(payload), now, existing,
		)
		if err != nil {
			return false, eris.Wrapf(err, "sqlite: update transport order %s", order.VIN)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit order upsert")
	}
	return existing == "", nil
}

func (s *SQLiteStore) FormatStats(ctx context.Context, formatID int) (*model.FormatStats, error) {
	st := model.FormatStats{FormatID: formatID}
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM field_corrections WHERE format_id = ?1),
		   (SELECT COUNT(*) FROM training_examples WHERE format_id = ?1),
		   (SELECT COUNT(*) FROM training_examples WHERE format_id = ?1 AND is_validated = 1),
		   (SELECT COUNT(*) FROM learned_rules WHERE format_id = ?1 AND is_active = 1),
		   (SELECT COALESCE(AVG(confidence), 0) FROM learned_rules WHERE format_id = ?1 AND is_active = 1)`,
		formatID,
	).Scan(&st.CorrectionCount, &st.ExampleCount, &st.ValidatedExamples, &st.ActiveRules, &st.MeanConfidence)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: format stats %d", formatID)
	}
	return &st, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var result sql.NullString
	if err := row.Scan(&r.ID, &r.DocumentID, &r.SourcePath, &r.FormatID, &status, &r.ExtractedText,
		&result, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if result.Valid && result.String != "" {
		r.Result = json.RawMessage(result.String)
	}
	return &r, nil
}

func scanRule(row scannable) (*model.LearnedRule, error) {
	var r model.LearnedRule
	var labels, excludes, hints string
	if err := row.Scan(&r.ID, &r.FormatID, &r.FieldKey, &r.RuleType, &labels, &excludes, &hints,
		&r.Priority, &r.Confidence, &r.ValidationCount, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return decodeRule(&r, labels, excludes, hints)
}

func encodeRule(rule *model.LearnedRule) (labels, excludes, hints string, err error) {
	if labels, err = marshalPatterns(rule.LabelPatterns); err != nil {
		return
	}
	if excludes, err = marshalPatterns(rule.ExcludePatterns); err != nil {
		return
	}
	h := rule.PositionHints
	if h == nil {
		h = map[string]any{}
	}
	var b []byte
	b, err = json.Marshal(h)
	hints = string(b)
	return
}

func decodeRule(r *model.LearnedRule, labels, excludes, hints string) (*model.LearnedRule, error) {
	var err error
	if r.LabelPatterns, err = unmarshalPatterns(labels); err != nil {
		return nil, eris.Wrap(err, "unmarshal label patterns")
	}
	if r.ExcludePatterns, err = unmarshalPatterns(excludes); err != nil {
		return nil, eris.Wrap(err, "unmarshal exclude patterns")
	}
	if hints != "" && hints != "{}" {
		if err := json.Unmarshal([]byte(hints), &r.PositionHints); err != nil {
			return nil, eris.Wrap(err, "unmarshal position hints")
		}
	}
	return r, nil
}
