// Package extract turns invoice text into structured invoices using the
// format catalog's built-in field rules overlaid with learned rules.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/quality"
)

// RuleSource supplies the active learned rules for a format, keyed by field.
type RuleSource interface {
	RulesFor(ctx context.Context, formatCode string) (map[string]model.RuleSummary, error)
}

// Warning codes attached to extraction results.
const (
	WarnMultiVehicle = "multi_vehicle"
	WarnNoPickup     = "pickup_not_found"
	WarnRulesLookup  = "learned_rules_unavailable"
)

const (
	fieldPickupAddress = "pickup_address"
	addressBlockLines  = 5
	layoutHalfWidth    = 40
)

var vinToken = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)

// Result is the outcome of extracting one document.
type Result struct {
	Invoice         *model.Invoice `json:"invoice"`
	Source          model.Source   `json:"source"`
	Score           float64        `json:"score"`
	TextLength      int            `json:"text_length"`
	NeedsOCR        bool           `json:"needs_ocr"`
	MatchedPatterns []string       `json:"matched_patterns"`
	Warnings        []string       `json:"warnings,omitempty"`

	// PickupContext is the label the pickup block was found under and
	// PickupPosition the page zone ("top_left" ...) it sits in.
	PickupContext  string `json:"pickup_context,omitempty"`
	PickupPosition string `json:"pickup_position,omitempty"`
}

// FormatExtractor extracts invoices of one format.
type FormatExtractor struct {
	profile     *formats.Profile
	text        *TextCache
	rules       RuleSource
	minOverride float64
}

// NewFormatExtractor builds an extractor. rules may be nil.
func NewFormatExtractor(profile *formats.Profile, text *TextCache, rules RuleSource, minOverride float64) *FormatExtractor {
	return &FormatExtractor{profile: profile, text: text, rules: rules, minOverride: minOverride}
}

// Source identifies the extractor's format.
func (e *FormatExtractor) Source() model.Source {
	return e.profile.Source()
}

// Profile returns the format profile.
func (e *FormatExtractor) Profile() *formats.Profile {
	return e.profile
}

// ExtractText returns the cached, normalized text of source.
func (e *FormatExtractor) ExtractText(ctx context.Context, source string) (string, error) {
	if e.text == nil {
		return "", eris.New("extract: no text source configured")
	}
	return e.text.Text(ctx, source)
}

// Score scores text against the format's signatures.
func (e *FormatExtractor) Score(text string) (float64, []string) {
	return e.profile.Score(text)
}

// Extract reads source and returns its invoice, or nil when no field could
// be extracted.
func (e *FormatExtractor) Extract(ctx context.Context, source string) (*model.Invoice, error) {
	res, err := e.ExtractWithResult(ctx, source, "")
	if err != nil {
		return nil, err
	}
	if len(res.Invoice.Fields) == 0 {
		return nil, nil
	}
	return res.Invoice, nil
}

// ExtractWithResult extracts from text, reading it from source first when
// text is empty.
func (e *FormatExtractor) ExtractWithResult(ctx context.Context, source, text string) (Result, error) {
	if text == "" && source != "" {
		t, err := e.ExtractText(ctx, source)
		if err != nil {
			return Result{}, eris.Wrapf(err, "extract: read %s", source)
		}
		text = t
	}

	score, matched := e.Score(text)
	res := Result{
		Source:          e.Source(),
		Score:           score,
		TextLength:      len([]rune(text)),
		NeedsOCR:        quality.Analyze(text).Mode == model.ModeOCR,
		MatchedPatterns: matched,
	}
	if res.MatchedPatterns == nil {
		res.MatchedPatterns = []string{}
	}

	learned := map[string]model.RuleSummary{}
	if e.rules != nil {
		rs, err := e.rules.RulesFor(ctx, e.profile.Code)
		if err != nil {
			zap.L().Warn("extract: learned rules unavailable, using built-in rules",
				zap.String("format", e.profile.Code), zap.Error(err))
			res.Warnings = append(res.Warnings, WarnRulesLookup)
		} else if rs != nil {
			learned = rs
		}
	}

	inv := &model.Invoice{Source: e.Source(), Fields: map[string]string{}}
	lines := strings.Split(text, "\n")

	for _, rule := range e.rulesFor(learned) {
		block := 1
		if rule.key == fieldPickupAddress {
			block = addressBlockLines
		}
		m, ok := rule.find(lines, block)
		if !ok {
			continue
		}
		if rule.key == fieldPickupAddress {
			inv.Pickup = parseAddress(m.value)
			for k, v := range addressFields(inv.Pickup) {
				if _, set := inv.Fields[k]; !set {
					inv.Fields[k] = v
				}
			}
			inv.Fields[fieldPickupAddress] = strings.ReplaceAll(m.value, "\n", ", ")
			res.PickupContext = m.label
			res.PickupPosition = zone(m, len(lines))
			continue
		}
		inv.Fields[rule.key] = m.value
	}

	applyFields(inv)
	if inv.Pickup.IsZero() {
		res.Warnings = append(res.Warnings, WarnNoPickup)
	}
	if vins := distinctVINs(text); len(vins) > 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %d VINs found, only the first is extracted", WarnMultiVehicle, len(vins)))
	}
	inv.Warnings = res.Warnings
	res.Invoice = inv
	return res, nil
}

// rulesFor merges built-in and learned rules, built-in order first.
func (e *FormatExtractor) rulesFor(learned map[string]model.RuleSummary) []fieldRule {
	var out []fieldRule
	seen := map[string]bool{}
	for i := range e.profile.Fields {
		b := &e.profile.Fields[i]
		var l *model.RuleSummary
		if s, ok := learned[b.Key]; ok {
			l = &s
		}
		out = append(out, mergeRule(b.Key, b, l, e.minOverride))
		seen[b.Key] = true
	}
	// Fields only known from corrections, in stable order.
	var extra []string
	for k := range learned {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	for _, k := range extra {
		s := learned[k]
		out = append(out, mergeRule(k, nil, &s, e.minOverride))
	}
	return out
}

// applyFields copies known field keys onto the typed invoice.
func applyFields(inv *model.Invoice) {
	f := inv.Fields
	inv.VIN = strings.ToUpper(f["vin"])
	inv.Year = f["year"]
	inv.Make = f["make"]
	inv.Model = f["model"]
	inv.LotNumber = f["lot_number"]
	inv.BuyerNumber = f["buyer_number"]
	inv.SaleDate = f["sale_date"]
	inv.TotalAmount = f["total_amount"]
	for key, dst := range map[string]*string{
		"pickup_name":   &inv.Pickup.Name,
		"pickup_street": &inv.Pickup.Street,
		"pickup_city":   &inv.Pickup.City,
		"pickup_state":  &inv.Pickup.State,
		"pickup_zip":    &inv.Pickup.Zip,
		"pickup_phone":  &inv.Pickup.Phone,
	} {
		if v := f[key]; v != "" {
			*dst = v
		}
	}
}

func distinctVINs(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range vinToken.FindAllString(strings.ToUpper(text), -1) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// zone maps a match position onto a coarse page quadrant.
func zone(m match, totalLines int) string {
	v := "top"
	if totalLines > 0 && m.line*2 >= totalLines {
		v = "bottom"
	}
	h := "left"
	if m.column >= layoutHalfWidth {
		h = "right"
	}
	return v + "_" + h
}
