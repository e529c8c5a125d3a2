package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-intake/internal/db"
	"github.com/sells-group/auction-intake/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          BIGSERIAL PRIMARY KEY,
	source_path TEXT NOT NULL UNIQUE,
	page_count  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id             BIGSERIAL PRIMARY KEY,
	document_id    BIGINT NOT NULL REFERENCES documents(id),
	format_id      INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	extracted_text TEXT NOT NULL DEFAULT '',
	result         JSONB,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS learned_rules (
	id               BIGSERIAL PRIMARY KEY,
	format_id        INTEGER NOT NULL,
	field_key        TEXT NOT NULL,
	rule_type        TEXT NOT NULL DEFAULT 'label_below',
	label_patterns   JSONB NOT NULL DEFAULT '[]',
	exclude_patterns JSONB NOT NULL DEFAULT '[]',
	position_hints   JSONB NOT NULL DEFAULT '{}',
	priority         INTEGER NOT NULL DEFAULT 0,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	validation_count INTEGER NOT NULL DEFAULT 0,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_corrections (
	id              BIGSERIAL PRIMARY KEY,
	run_id          BIGINT NOT NULL,
	format_id       INTEGER NOT NULL,
	document_id     BIGINT NOT NULL DEFAULT 0,
	field_key       TEXT NOT NULL,
	predicted_value TEXT NOT NULL DEFAULT '',
	corrected_value TEXT NOT NULL,
	was_correct     BOOLEAN NOT NULL DEFAULT false,
	context_text    TEXT NOT NULL DEFAULT '',
	preceding_label TEXT NOT NULL DEFAULT '',
	is_processed    BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS training_examples (
	id               BIGSERIAL PRIMARY KEY,
	format_id        INTEGER NOT NULL,
	document_id      BIGINT NOT NULL DEFAULT 0,
	corrected_fields JSONB NOT NULL DEFAULT '{}',
	raw_text         TEXT NOT NULL DEFAULT '',
	quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_validated     BOOLEAN NOT NULL DEFAULT false,
	dataset_split    TEXT NOT NULL DEFAULT 'train',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transport_orders (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      BIGINT NOT NULL,
	vin         TEXT NOT NULL UNIQUE,
	external_id TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_learned_rules_active ON learned_rules(format_id, field_key) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_field_corrections_pending ON field_corrections(format_id, created_at DESC) WHERE NOT is_processed;
CREATE INDEX IF NOT EXISTS idx_training_examples_format ON training_examples(format_id, dataset_split);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, sourcePath string, pageCount int) (*model.Document, error) {
	d := model.Document{SourcePath: sourcePath, PageCount: pageCount}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (source_path, page_count) VALUES ($1, $2)
		 ON CONFLICT (source_path) DO UPDATE SET page_count = EXCLUDED.page_count
		 RETURNING id, created_at`,
		sourcePath, pageCount,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert document %s", sourcePath)
	}
	return &d, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_path, page_count, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.SourcePath, &d.PageCount, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %d", id)
	}
	return &d, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, documentID int64) (*model.Run, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO runs (document_id, status) VALUES ($1, $2) RETURNING id`,
		documentID, string(model.RunStatusPending),
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for document %d", documentID)
	}
	return s.GetRun(ctx, id)
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs r JOIN documents d ON d.id = r.document_id WHERE r.id = $1`, id,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs r JOIN documents d ON d.id = r.document_id WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND r.status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY r.id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, id int64, upd RunUpdate) error {
	var result []byte
	if len(upd.Result) > 0 {
		result = upd.Result
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET format_id = $1, status = $2, extracted_text = $3, result = $4, error = $5, updated_at = now() WHERE id = $6`,
		upd.FormatID, string(upd.Status), upd.ExtractedText, result, upd.Error, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %d", id)
	}
	return nil
}

func (s *PostgresStore) ActiveRules(ctx context.Context, formatID int) ([]model.LearnedRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM learned_rules WHERE format_id = $1 AND is_active ORDER BY priority DESC, field_key`,
		formatID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active rules for format %d", formatID)
	}
	defer rows.Close()

	var rules []model.LearnedRule
	for rows.Next() {
		r, err := scanPgRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: active rules iterate")
}

func (s *PostgresStore) ActiveRule(ctx context.Context, formatID int, fieldKey string) (*model.LearnedRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM learned_rules WHERE format_id = $1 AND field_key = $2 AND is_active`,
		formatID, fieldKey,
	)
	r, err := scanPgRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active rule %d/%s", formatID, fieldKey)
	}
	return r, nil
}

func (s *PostgresStore) SaveRule(ctx context.Context, rule *model.LearnedRule) error {
	labels, excludes, hints, err := encodeRule(rule)
	if err != nil {
		return eris.Wrap(err, "postgres: encode rule")
	}

	if rule.ID == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO learned_rules (format_id, field_key, rule_type, label_patterns, exclude_patterns, position_hints,
			   priority, confidence, validation_count, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at, updated_at`,
			rule.FormatID, rule.FieldKey, rule.RuleType, labels, excludes, hints,
			rule.Priority, rule.Confidence, rule.ValidationCount, rule.IsActive,
		).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		return eris.Wrapf(err, "postgres: insert rule %d/%s", rule.FormatID, rule.FieldKey)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE learned_rules SET rule_type = $1, label_patterns = $2, exclude_patterns = $3, position_hints = $4,
		   priority = $5, confidence = $6, validation_count = $7, is_active = $8, updated_at = now()
		 WHERE id = $9`,
		rule.RuleType, labels, excludes, hints,
		rule.Priority, rule.Confidence, rule.ValidationCount, rule.IsActive, rule.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update rule %d", rule.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule %d", rule.ID)
	}
	return nil
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE learned_rules SET is_active = false, updated_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate rule %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule %d", id)
	}
	return nil
}

func (s *PostgresStore) InsertCorrection(ctx context.Context, c *model.FieldCorrection) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO field_corrections (run_id, format_id, document_id, field_key, predicted_value, corrected_value,
		   was_correct, context_text, preceding_label, is_processed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at`,
		c.RunID, c.FormatID, c.DocumentID, c.FieldKey, c.PredictedValue, c.CorrectedValue,
		c.WasCorrect, c.ContextText, c.PrecedingLabel, c.IsProcessed,
	).Scan(&c.ID, &c.CreatedAt)
	return eris.Wrapf(err, "postgres: insert correction %s", c.FieldKey)
}

func (s *PostgresStore) UnprocessedCorrections(ctx context.Context, formatID, limit int) ([]model.FieldCorrection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, format_id, document_id, field_key, predicted_value, corrected_value,
		   was_correct, context_text, preceding_label, is_processed, created_at
		 FROM field_corrections WHERE format_id = $1 AND NOT is_processed
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		formatID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: unprocessed corrections for format %d", formatID)
	}
	defer rows.Close()

	var out []model.FieldCorrection
	for rows.Next() {
		var c model.FieldCorrection
		if err := rows.Scan(&c.ID, &c.RunID, &c.FormatID, &c.DocumentID, &c.FieldKey, &c.PredictedValue,
			&c.CorrectedValue, &c.WasCorrect, &c.ContextText, &c.PrecedingLabel, &c.IsProcessed, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: unprocessed corrections iterate")
}

func (s *PostgresStore) MarkCorrectionsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE field_corrections SET is_processed = true WHERE id = ANY($1)`, ids,
	)
	return eris.Wrap(err, "postgres: mark corrections processed")
}

func (s *PostgresStore) InsertTrainingExample(ctx context.Context, ex *model.TrainingExample) error {
	fields, err := json.Marshal(ex.CorrectedFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal corrected fields")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO training_examples (format_id, document_id, corrected_fields, raw_text, quality_score,
		   is_validated, dataset_split)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		ex.FormatID, ex.DocumentID, fields, ex.RawText, ex.QualityScore,
		ex.IsValidated, string(ex.DatasetSplit),
	).Scan(&ex.ID, &ex.CreatedAt)
	return eris.Wrap(err, "postgres: insert training example")
}

var trainingExampleColumns = []string{
	"format_id", "document_id", "corrected_fields", "raw_text", "quality_score", "is_validated", "dataset_split",
}

// ImportTrainingExamples bulk-loads examples with COPY.
func (s *PostgresStore) ImportTrainingExamples(ctx context.Context, examples []model.TrainingExample) (int64, error) {
	rows := make([][]any, 0, len(examples))
	for _, ex := range examples {
		fields, err := json.Marshal(ex.CorrectedFields)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal corrected fields")
		}
		rows = append(rows, []any{
			ex.FormatID, ex.DocumentID, fields, ex.RawText, ex.QualityScore, ex.IsValidated, string(ex.DatasetSplit),
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "training_examples", trainingExampleColumns, rows)
	return n, eris.Wrap(err, "postgres: import training examples")
}

func (s *PostgresStore) ListTrainingExamples(ctx context.Context, formatID int, split model.DatasetSplit) ([]model.TrainingExample, error) {
	query := `SELECT id, format_id, document_id, corrected_fields, raw_text, quality_score, is_validated, dataset_split, created_at
		FROM training_examples WHERE format_id = $1`
	args := []any{formatID}
	if split != "" {
		query += ` AND dataset_split = $2`
		args = append(args, string(split))
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list training examples for format %d", formatID)
	}
	defer rows.Close()

	var out []model.TrainingExample
	for rows.Next() {
		var ex model.TrainingExample
		var fields []byte
		var split string
		if err := rows.Scan(&ex.ID, &ex.FormatID, &ex.DocumentID, &fields, &ex.RawText, &ex.QualityScore,
			&ex.IsValidated, &split, &ex.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan training example")
		}
		ex.DatasetSplit = model.DatasetSplit(split)
		if err := json.Unmarshal(fields, &ex.CorrectedFields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal corrected fields")
		}
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list training examples iterate")
}

// UpsertTransportOrder inserts or refreshes the order for a VIN. xmax is
// zero only for freshly inserted tuples.
func (s *PostgresStore) UpsertTransportOrder(ctx context.Context, order *model.TransportOrder, externalID string) (bool, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal transport order")
	}
	var created bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO transport_orders (id, run_id, vin, external_id, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (vin) DO UPDATE SET run_id = EXCLUDED.run_id, external_id = EXCLUDED.external_id,
		   payload = EXCLUDED.payload, updated_at = now()
		 RETURNING (xmax = 0)`,
		uuid.New().String(), order.RunID, order.VIN, externalID, payload,
	).Scan(&created)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert transport order %s", order.VIN)
	}
	return created, nil
}

func (s *PostgresStore) FormatStats(ctx context.Context, formatID int) (*model.FormatStats, error) {
	st := model.FormatStats{FormatID: formatID}
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM field_corrections WHERE format_id = $1),
		   (SELECT COUNT(*) FROM training_examples WHERE format_id = $1),
		   (SELECT COUNT(*) FROM training_examples WHERE format_id = $1 AND is_validated),
		   (SELECT COUNT(*) FROM learned_rules WHERE format_id = $1 AND is_active),
		   (SELECT COALESCE(AVG(confidence), 0) FROM learned_rules WHERE format_id = $1 AND is_active)`,
		formatID,
	).Scan(&st.CorrectionCount, &st.ExampleCount, &st.ValidatedExamples, &st.ActiveRules, &st.MeanConfidence)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: format stats %d", formatID)
	}
	return &st, nil
}

func scanPgRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var result []byte
	if err := row.Scan(&r.ID, &r.DocumentID, &r.SourcePath, &r.FormatID, &status, &r.ExtractedText,
		&result, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(result) > 0 {
		r.Result = json.RawMessage(result)
	}
	return &r, nil
}

func scanPgRule(row scannable) (*model.LearnedRule, error) {
	var r model.LearnedRule
	var labels, excludes, hints []byte
	if err := row.Scan(&r.ID, &r.FormatID, &r.FieldKey, &r.RuleType, &labels, &excludes, &hints,
		&r.Priority, &r.Confidence, &r.ValidationCount, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return decodeRule(&r, string(labels), string(excludes), string(hints))
}
