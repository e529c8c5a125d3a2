// Package learning folds reviewed field corrections into per-format learned
// extraction rules.
package learning

import (
	"context"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/quality"
)

// Store is the persistence the learning service needs.
type Store interface {
	ActiveRules(ctx context.Context, formatID int) ([]model.LearnedRule, error)
	ActiveRule(ctx context.Context, formatID int, fieldKey string) (*model.LearnedRule, error)
	SaveRule(ctx context.Context, rule *model.LearnedRule) error
	DeactivateRule(ctx context.Context, id int64) error
	InsertCorrection(ctx context.Context, c *model.FieldCorrection) error
	UnprocessedCorrections(ctx context.Context, formatID, limit int) ([]model.FieldCorrection, error)
	MarkCorrectionsProcessed(ctx context.Context, ids []int64) error
	InsertTrainingExample(ctx context.Context, ex *model.TrainingExample) error
	FormatStats(ctx context.Context, formatID int) (*model.FormatStats, error)
}

// RunLookup resolves the document context of a reviewed run.
type RunLookup interface {
	LookupRun(ctx context.Context, runID int64) (model.RunContext, error)
}

// Correction is one reviewed field value as submitted by a reviewer.
type Correction struct {
	FieldKey       string `json:"field_key"`
	PredictedValue string `json:"predicted_value"`
	CorrectedValue string `json:"corrected_value"`
}

// LearnSummary reports what a learning pass changed.
type LearnSummary struct {
	FormatID     int      `json:"format_id"`
	Processed    int      `json:"processed"`
	RulesCreated int      `json:"rules_created"`
	RulesUpdated int      `json:"rules_updated"`
	Fields       []string `json:"fields"`
}

const (
	defaultBatchSize     = 100
	defaultContextWindow = 200
	minUpperLabelLen     = 3
)

// Service records corrections and derives learned rules from them.
type Service struct {
	store     Store
	runs      RunLookup
	batchSize int
	window    int

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// NewService creates a learning service. runs may be nil, in which case every
// submission uses the default run context.
func NewService(st Store, runs RunLookup, cfg config.LearningConfig) *Service {
	s := &Service{
		store:     st,
		runs:      runs,
		batchSize: cfg.BatchSize,
		window:    cfg.ContextWindow,
		locks:     make(map[int]*sync.Mutex),
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.window <= 0 {
		s.window = defaultContextWindow
	}
	return s
}

// SubmitCorrections persists one correction per entry and a single training
// example for the batch, then runs a best-effort learning pass. Failures are
// counted per correction and never returned.
func (s *Service) SubmitCorrections(ctx context.Context, runID int64, corrections []Correction, markValidated bool) (saved, errCount int) {
	rc := s.lookupRun(ctx, runID)
	log := zap.L().With(zap.Int64("run_id", runID), zap.Int("format_id", rc.FormatID))

	fields := make(map[string]string, len(corrections))
	for _, c := range corrections {
		if err := s.saveCorrection(ctx, runID, rc, c); err != nil {
			errCount++
			log.Warn("learning: correction not saved", zap.String("field", c.FieldKey), zap.Error(err))
			continue
		}
		saved++
		fields[c.FieldKey] = c.CorrectedValue
	}

	ex := &model.TrainingExample{
		FormatID:        rc.FormatID,
		DocumentID:      rc.DocumentID,
		CorrectedFields: fields,
		RawText:         rc.ExtractedText,
		QualityScore:    quality.Analyze(rc.ExtractedText).ConfidenceScore,
		IsValidated:     markValidated,
		DatasetSplit:    SplitFor(rc.DocumentID),
	}
	if err := s.store.InsertTrainingExample(ctx, ex); err != nil {
		log.Error("learning: training example not saved", zap.Error(err))
	}

	if saved > 0 {
		if summary, err := s.Learn(ctx, rc.FormatID); err != nil {
			log.Error("learning: learning pass failed", zap.Error(err))
		} else {
			log.Info("learning: rules updated",
				zap.Int("processed", summary.Processed),
				zap.Int("created", summary.RulesCreated),
				zap.Int("updated", summary.RulesUpdated),
			)
		}
	}
	return saved, errCount
}

func (s *Service) saveCorrection(ctx context.Context, runID int64, rc model.RunContext, c Correction) error {
	key := strings.TrimSpace(c.FieldKey)
	if key == "" {
		return eris.New("learning: correction has no field key")
	}
	if strings.TrimSpace(c.CorrectedValue) == "" {
		return eris.Errorf("learning: correction for %s has no corrected value", key)
	}
	contextText, label := locate(rc.ExtractedText, c.CorrectedValue, s.window)
	fc := &model.FieldCorrection{
		RunID:          runID,
		FormatID:       rc.FormatID,
		DocumentID:     rc.DocumentID,
		FieldKey:       key,
		PredictedValue: c.PredictedValue,
		CorrectedValue: c.CorrectedValue,
		WasCorrect:     sameValue(c.PredictedValue, c.CorrectedValue),
		ContextText:    contextText,
		PrecedingLabel: label,
	}
	return eris.Wrap(s.store.InsertCorrection(ctx, fc), "learning: insert correction")
}

// lookupRun never fails; a missing run degrades to the default context.
func (s *Service) lookupRun(ctx context.Context, runID int64) model.RunContext {
	fallback := model.RunContext{FormatID: model.DefaultFormatID}
	if s.runs == nil {
		return fallback
	}
	rc, err := s.runs.LookupRun(ctx, runID)
	if err != nil {
		zap.L().Warn("learning: run lookup failed, using defaults", zap.Int64("run_id", runID), zap.Error(err))
		return fallback
	}
	if rc.FormatID <= 0 {
		rc.FormatID = model.DefaultFormatID
	}
	return rc
}

func (s *Service) formatLock(formatID int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[formatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[formatID] = l
	}
	return l
}

// Learn folds the most recent unprocessed corrections of a format into its
// learned rules. Passes for the same format are serialized.
func (s *Service) Learn(ctx context.Context, formatID int) (LearnSummary, error) {
	l := s.formatLock(formatID)
	l.Lock()
	defer l.Unlock()

	summary := LearnSummary{FormatID: formatID, Fields: []string{}}
	pending, err := s.store.UnprocessedCorrections(ctx, formatID, s.batchSize)
	if err != nil {
		return summary, eris.Wrapf(err, "learning: load corrections for format %d", formatID)
	}

	var order []string
	groups := map[string][]model.FieldCorrection{}
	for _, c := range pending {
		if _, ok := groups[c.FieldKey]; !ok {
			order = append(order, c.FieldKey)
		}
		groups[c.FieldKey] = append(groups[c.FieldKey], c)
	}

	for _, key := range order {
		group := groups[key]
		created, err := s.applyGroup(ctx, formatID, key, group)
		if err != nil {
			return summary, err
		}
		ids := make([]int64, len(group))
		for i, c := range group {
			ids[i] = c.ID
		}
		if err := s.store.MarkCorrectionsProcessed(ctx, ids); err != nil {
			return summary, eris.Wrapf(err, "learning: mark %s corrections processed", key)
		}
		if created {
			summary.RulesCreated++
		} else {
			summary.RulesUpdated++
		}
		summary.Processed += len(group)
		summary.Fields = append(summary.Fields, key)
	}
	return summary, nil
}

func (s *Service) applyGroup(ctx context.Context, formatID int, key string, group []model.FieldCorrection) (bool, error) {
	rule, err := s.store.ActiveRule(ctx, formatID, key)
	if err != nil {
		return false, eris.Wrapf(err, "learning: load rule %s", key)
	}
	created := rule == nil
	if created {
		rule = &model.LearnedRule{
			FormatID: formatID,
			FieldKey: key,
			RuleType: model.RuleTypeLabelBelow,
			IsActive: true,
		}
	}

	correct := 0
	labels := make([]string, 0, len(group))
	for _, c := range group {
		if c.WasCorrect {
			correct++
		}
		labels = append(labels, c.PrecedingLabel)
	}
	rule.LabelPatterns = unionLabels(rule.LabelPatterns, labels)
	rule.Confidence = float64(correct) / float64(len(group))
	rule.ValidationCount += len(group)

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return false, eris.Wrapf(err, "learning: save rule %s", key)
	}
	return created, nil
}

// Rules returns the active rules of a format.
func (s *Service) Rules(ctx context.Context, formatID int) ([]model.LearnedRule, error) {
	rules, err := s.store.ActiveRules(ctx, formatID)
	if err != nil {
		return nil, eris.Wrapf(err, "learning: rules for format %d", formatID)
	}
	if rules == nil {
		rules = []model.LearnedRule{}
	}
	return rules, nil
}

// Stats aggregates learning activity for a format.
func (s *Service) Stats(ctx context.Context, formatID int) (model.FormatStats, error) {
	st, err := s.store.FormatStats(ctx, formatID)
	if err != nil {
		return model.FormatStats{}, eris.Wrapf(err, "learning: stats for format %d", formatID)
	}
	return *st, nil
}

// DeactivateRule retires a rule. Rules are never deleted.
func (s *Service) DeactivateRule(ctx context.Context, ruleID int64) error {
	return eris.Wrapf(s.store.DeactivateRule(ctx, ruleID), "learning: deactivate rule %d", ruleID)
}

// SplitFor deterministically assigns a document to train (80%), test (10%)
// or validation (10%).
func SplitFor(documentID int64) model.DatasetSplit {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(documentID, 10)))
	switch h.Sum32() % 10 {
	case 8:
		return model.SplitTest
	case 9:
		return model.SplitValidation
	default:
		return model.SplitTrain
	}
}

// locate returns the text window around the first case-insensitive match of
// value and the label line directly above it.
func locate(text, value string, window int) (contextText, label string) {
	value = strings.TrimSpace(value)
	if text == "" || value == "" {
		return "", ""
	}
	loc := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(value)).FindStringIndex(text)
	if loc == nil {
		return "", ""
	}

	runes := []rune(text)
	start := utf8.RuneCountInString(text[:loc[0]])
	end := start + utf8.RuneCountInString(text[loc[0]:loc[1]])
	from := max(0, start-window)
	to := min(len(runes), end+window)
	contextText = string(runes[from:to])

	lineStart := strings.LastIndex(text[:loc[0]], "\n")
	if lineStart < 0 {
		return contextText, ""
	}
	above := strings.Split(text[:lineStart], "\n")
	for i := len(above) - 1; i >= 0; i-- {
		line := strings.TrimSpace(above[i])
		if line == "" {
			continue
		}
		if isLabel(line) {
			label = strings.TrimSpace(strings.TrimSuffix(line, ":"))
		}
		break
	}
	return contextText, label
}

func isLabel(line string) bool {
	if strings.HasSuffix(line, ":") {
		return true
	}
	if utf8.RuneCountInString(line) <= minUpperLabelLen {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

func sameValue(a, b string) bool {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return norm(a) == norm(b)
}

// unionLabels appends the non-empty labels missing from existing, keeping
// first-seen order.
func unionLabels(existing, labels []string) []string {
	out := make([]string, 0, len(existing)+len(labels))
	seen := map[string]bool{}
	for _, l := range append(append([]string{}, existing...), labels...) {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
