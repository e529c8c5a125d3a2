// Package classify picks the auction format of an invoice by scoring its
// text against every registered format.
package classify

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/extract"
	"github.com/sells-group/auction-intake/internal/model"
)

const (
	// MinScoreThreshold is the lowest best score accepted as a classification.
	MinScoreThreshold = 0.3
	// ScoreMargin is the best-vs-runner-up gap below which a classification
	// is logged as ambiguous. The best score still wins.
	ScoreMargin = 0.1
)

// Scorer scores text for one format.
type Scorer interface {
	Source() model.Source
	Score(text string) (float64, []string)
}

// Result is a classification outcome. Extractor is nil when the text could
// not be classified; callers must treat that as unclassified.
type Result struct {
	Source          model.Source `json:"source"`
	Score           float64      `json:"score"`
	MatchedPatterns []string     `json:"matched_patterns"`
	Extractor       Scorer       `json:"-"`
	RawText         string       `json:"-"`
}

// Classified reports whether a format was selected.
func (r Result) Classified() bool {
	return r.Extractor != nil
}

// Engine holds the registered scorers. It has no mutable state after
// construction and is safe for concurrent use.
type Engine struct {
	scorers []Scorer
	text    *extract.TextCache
}

// NewEngine creates an engine. text may be nil if ClassifyFile is unused.
func NewEngine(text *extract.TextCache, scorers ...Scorer) *Engine {
	return &Engine{scorers: scorers, text: text}
}

type scored struct {
	scorer  Scorer
	score   float64
	matched []string
}

// Classify scores text against every scorer and returns the best match, or
// an unclassified result with score 0 when the best is below
// MinScoreThreshold.
func (e *Engine) Classify(text string) Result {
	results := make([]scored, 0, len(e.scorers))
	for _, s := range e.scorers {
		score, matched := s.Score(text)
		results = append(results, scored{scorer: s, score: score, matched: matched})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) == 0 || results[0].score < MinScoreThreshold {
		return Result{
			Source:          model.SourceUnknown,
			Score:           0,
			MatchedPatterns: []string{},
			RawText:         text,
		}
	}

	best := results[0]
	if len(results) > 1 {
		second := results[1]
		if second.score > MinScoreThreshold && best.score-second.score < ScoreMargin {
			zap.L().Warn("classify: ambiguous format match",
				zap.String("best", string(best.scorer.Source())),
				zap.Float64("best_score", best.score),
				zap.String("runner_up", string(second.scorer.Source())),
				zap.Float64("runner_up_score", second.score),
			)
		}
	}

	matched := best.matched
	if matched == nil {
		matched = []string{}
	}
	return Result{
		Source:          best.scorer.Source(),
		Score:           best.score,
		MatchedPatterns: matched,
		Extractor:       best.scorer,
		RawText:         text,
	}
}

// ClassifyFile classifies the document at path, reading its text through
// the engine's text cache.
func (e *Engine) ClassifyFile(ctx context.Context, path string) (Result, error) {
	if e.text == nil {
		return Result{}, eris.New("classify: no text source configured")
	}
	text, err := e.text.Text(ctx, path)
	if err != nil {
		return Result{}, eris.Wrapf(err, "classify: read %s", path)
	}
	return e.Classify(text), nil
}
