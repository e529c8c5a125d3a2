package learning

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
)

// RuleReader reads active learned rules.
type RuleReader interface {
	ActiveRules(ctx context.Context, formatID int) ([]model.LearnedRule, error)
}

// RuleBook serves learned rules to format extractors by format code.
type RuleBook struct {
	rules   RuleReader
	catalog *formats.Catalog
}

// NewRuleBook creates a RuleBook resolving format codes through catalog.
func NewRuleBook(rules RuleReader, catalog *formats.Catalog) *RuleBook {
	return &RuleBook{rules: rules, catalog: catalog}
}

// RulesFor returns the active rules of a format keyed by field. Unknown
// formats have no rules.
func (b *RuleBook) RulesFor(ctx context.Context, formatCode string) (map[string]model.RuleSummary, error) {
	out := map[string]model.RuleSummary{}
	p, ok := b.catalog.ByCode(formatCode)
	if !ok {
		return out, nil
	}
	rules, err := b.rules.ActiveRules(ctx, p.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "learning: rules for %s", formatCode)
	}
	for _, r := range rules {
		out[r.FieldKey] = r.Summary()
	}
	return out, nil
}

// RunGetter loads runs by id.
type RunGetter interface {
	GetRun(ctx context.Context, id int64) (*model.Run, error)
}

// StoreRunLookup resolves run context from the run store.
type StoreRunLookup struct {
	runs RunGetter
}

// NewStoreRunLookup wraps a run store as a RunLookup.
func NewStoreRunLookup(runs RunGetter) *StoreRunLookup {
	return &StoreRunLookup{runs: runs}
}

// LookupRun implements RunLookup.
func (l *StoreRunLookup) LookupRun(ctx context.Context, runID int64) (model.RunContext, error) {
	run, err := l.runs.GetRun(ctx, runID)
	if err != nil {
		return model.RunContext{}, eris.Wrapf(err, "learning: lookup run %d", runID)
	}
	return model.RunContext{
		FormatID:      run.FormatID,
		DocumentID:    run.DocumentID,
		ExtractedText: run.ExtractedText,
	}, nil
}
