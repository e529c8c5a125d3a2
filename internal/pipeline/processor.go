// Package pipeline turns one ingested document run into a transport order:
// text extraction, format classification, field extraction, the pickup
// location guard and the downstream order write.
package pipeline

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/batch"
	"github.com/sells-group/auction-intake/internal/classify"
	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/extract"
	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/location"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/quality"
	"github.com/sells-group/auction-intake/internal/store"
)

// Warnings added by the processor.
const (
	WarnPickupRejected = "pickup_rejected_as_delivery"
	WarnOCRFallback    = "ocr_unavailable_native_used"
)

// RunStore loads and updates runs.
type RunStore interface {
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	UpdateRun(ctx context.Context, id int64, upd store.RunUpdate) error
}

// Deps are the collaborators of a Processor. OCR and Rules may be nil.
type Deps struct {
	Runs    RunStore
	Catalog *formats.Catalog
	Native  *extract.TextCache
	OCR     *extract.TextCache
	Rules   extract.RuleSource
	Sink    OrderSink
}

// Outcome is the structured result persisted on a run.
type Outcome struct {
	Source             model.Source              `json:"source"`
	FormatID           int                       `json:"format_id,omitempty"`
	Score              float64                   `json:"score"`
	Quality            model.TextQuality         `json:"quality"`
	Mode               model.ExtractionMode      `json:"mode"`
	UsedOCR            bool                      `json:"used_ocr"`
	MergedFields       []string                  `json:"merged_fields,omitempty"`
	AnchorCompleteness float64                   `json:"anchor_completeness"`
	Invoice            *model.Invoice            `json:"invoice,omitempty"`
	PickupLocation     *model.ClassifiedLocation `json:"pickup_location,omitempty"`
	Order              *model.TransportOrder     `json:"order,omitempty"`
	Sink               string                    `json:"sink,omitempty"`
	Action             string                    `json:"action,omitempty"`
	ExternalID         string                    `json:"external_id,omitempty"`
	Warnings           []string                  `json:"warnings,omitempty"`
}

// Processor runs the per-document pipeline. It implements batch.Processor
// and is safe for concurrent use.
type Processor struct {
	runs        RunStore
	catalog     *formats.Catalog
	engine      *classify.Engine
	locations   *location.Classifier
	native      *extract.TextCache
	ocr         *extract.TextCache
	rules       extract.RuleSource
	sink        OrderSink
	validator   *OrderValidator
	delivery    model.Address
	minAnchor   float64
	minOverride float64
	force       bool
}

var _ batch.Processor = (*Processor)(nil)

// New creates a Processor.
func New(cfg *config.Config, deps Deps) (*Processor, error) {
	if deps.Runs == nil || deps.Catalog == nil || deps.Native == nil || deps.Sink == nil {
		return nil, eris.New("pipeline: runs, catalog, native text and sink are required")
	}
	validator, err := NewOrderValidator()
	if err != nil {
		return nil, err
	}

	scorers := make([]classify.Scorer, 0, len(deps.Catalog.Formats))
	for _, p := range deps.Catalog.Formats {
		scorers = append(scorers, p)
	}

	return &Processor{
		runs:        deps.Runs,
		catalog:     deps.Catalog,
		engine:      classify.NewEngine(deps.Native, scorers...),
		locations:   location.NewClassifier(deps.Catalog),
		native:      deps.Native,
		ocr:         deps.OCR,
		rules:       deps.Rules,
		sink:        deps.Sink,
		validator:   validator,
		delivery:    DeliveryAddress(cfg.Delivery),
		minAnchor:   cfg.Pipeline.MinAnchorCompleteness,
		minOverride: cfg.Learning.MinOverrideConfidence,
		force:       cfg.Pipeline.ForceRepost,
	}, nil
}

// Engine returns the classification engine.
func (p *Processor) Engine() *classify.Engine {
	return p.engine
}

// Locations returns the location classifier.
func (p *Processor) Locations() *location.Classifier {
	return p.locations
}

// Process runs the pipeline for one run. Document-level problems are
// reported as an unsuccessful result and recorded on the run; the returned
// error is reserved for failures to load or persist the run itself.
func (p *Processor) Process(ctx context.Context, runID int64) (batch.Result, error) {
	log := zap.L().With(zap.Int64("run_id", runID))

	run, err := p.runs.GetRun(ctx, runID)
	if err != nil {
		return batch.Result{}, eris.Wrapf(err, "pipeline: load run %d", runID)
	}
	log = log.With(zap.String("path", run.SourcePath))

	if run.Status == model.RunStatusPosted && !p.force {
		log.Debug("pipeline: run already posted, skipping")
		return batch.Result{
			Success: true,
			Skipped: true,
			Details: map[string]any{"reason": "already posted"},
		}, nil
	}

	out := &Outcome{Source: model.SourceUnknown}
	upd := store.RunUpdate{FormatID: run.FormatID}

	text, metrics, usedOCR, err := p.primaryText(ctx, run.SourcePath, out)
	out.Quality, out.Mode, out.UsedOCR = metrics.Quality, metrics.Mode, usedOCR
	if err != nil {
		return p.finish(ctx, run, upd, out, model.RunStatusFailed, err)
	}
	upd.ExtractedText = text

	cls := p.engine.Classify(text)
	if !cls.Classified() && metrics.Mode == model.ModeHybrid && !usedOCR && p.ocr != nil {
		if ocrText, ok := p.ocrText(ctx, run.SourcePath); ok {
			if c := p.engine.Classify(ocrText); c.Classified() {
				cls, text, usedOCR = c, ocrText, true
				out.UsedOCR = true
				upd.ExtractedText = text
			}
		}
	}
	out.Source, out.Score = cls.Source, cls.Score
	if !cls.Classified() {
		return p.finish(ctx, run, upd, out, model.RunStatusFailed, eris.New("pipeline: unrecognized invoice format"))
	}

	profile, ok := p.catalog.ByCode(string(cls.Source))
	if !ok {
		return p.finish(ctx, run, upd, out, model.RunStatusFailed, eris.Errorf("pipeline: no profile for format %s", cls.Source))
	}
	out.FormatID = profile.ID
	upd.FormatID = profile.ID

	ext := extract.NewFormatExtractor(profile, p.native, p.rules, p.minOverride)
	res, err := ext.ExtractWithResult(ctx, "", text)
	if err != nil {
		return p.finish(ctx, run, upd, out, model.RunStatusFailed, err)
	}

	if metrics.Mode == model.ModeHybrid && !usedOCR && p.ocr != nil && res.Invoice.AnchorCompleteness() < p.minAnchor {
		if ocrText, ok := p.ocrText(ctx, run.SourcePath); ok {
			ocrRes, err := ext.ExtractWithResult(ctx, "", ocrText)
			if err == nil {
				out.MergedFields = mergeResults(&res, ocrRes)
				out.UsedOCR = true
				upd.ExtractedText = text + "\n\n" + ocrText
				log.Info("pipeline: merged ocr fields",
					zap.Strings("fields", out.MergedFields),
					zap.Float64("anchor_completeness", res.Invoice.AnchorCompleteness()))
			}
		}
	}

	inv := res.Invoice
	out.Invoice = inv
	out.Warnings = append(out.Warnings, res.Warnings...)
	p.guardPickup(inv, res, profile, out)
	out.AnchorCompleteness = inv.AnchorCompleteness()

	order := BuildOrder(run.ID, inv, p.delivery)
	out.Order = order
	if err := p.validator.Validate(order); err != nil {
		return p.finish(ctx, run, upd, out, model.RunStatusExtracted, err)
	}

	sr, err := p.sink.Upsert(ctx, order)
	out.Sink = p.sink.Name()
	if err != nil {
		return p.finish(ctx, run, upd, out, model.RunStatusExtracted, err)
	}
	out.Action = sr.Action()
	out.ExternalID = sr.ExternalID

	return p.finish(ctx, run, upd, out, model.RunStatusPosted, nil)
}

// primaryText reads the native text layer and switches to OCR when the
// quality advisor recommends it.
func (p *Processor) primaryText(ctx context.Context, path string, out *Outcome) (string, model.TextQualityMetrics, bool, error) {
	native, err := p.native.Text(ctx, path)
	if err != nil {
		if p.ocr == nil {
			return "", quality.Analyze(""), false, eris.Wrapf(err, "pipeline: read %s", path)
		}
		zap.L().Warn("pipeline: native text failed, trying ocr", zap.String("path", path), zap.Error(err))
		native = ""
	}

	metrics := quality.Analyze(native)
	if metrics.Mode != model.ModeOCR {
		return native, metrics, false, nil
	}
	if p.ocr == nil {
		out.Warnings = append(out.Warnings, WarnOCRFallback)
		return native, metrics, false, nil
	}

	text, err := p.ocr.Text(ctx, path)
	if err != nil {
		if strings.TrimSpace(native) == "" {
			return "", metrics, false, eris.Wrapf(err, "pipeline: ocr %s", path)
		}
		zap.L().Warn("pipeline: ocr failed, using native text", zap.String("path", path), zap.Error(err))
		out.Warnings = append(out.Warnings, WarnOCRFallback)
		return native, metrics, false, nil
	}
	return text, metrics, true, nil
}

func (p *Processor) ocrText(ctx context.Context, path string) (string, bool) {
	text, err := p.ocr.Text(ctx, path)
	if err != nil {
		zap.L().Warn("pipeline: ocr pass failed", zap.String("path", path), zap.Error(err))
		return "", false
	}
	return text, true
}

// guardPickup drops a pickup block the location classifier does not accept
// as a pickup. Delivery addresses are never taken from documents.
func (p *Processor) guardPickup(inv *model.Invoice, res extract.Result, profile *formats.Profile, out *Outcome) {
	if inv.Pickup.IsZero() {
		return
	}
	loc := p.locations.Classify(inv.Pickup.String(), res.PickupContext, profile.Code, res.PickupPosition)
	out.PickupLocation = &loc
	if location.ShouldExtractFromDocument(loc.LocationType) {
		return
	}

	zap.L().Warn("pipeline: pickup block classified as delivery, discarding",
		zap.String("address", loc.AddressText),
		zap.Strings("keywords", loc.MatchedKeywords))
	inv.Pickup = model.Address{}
	for k := range inv.Fields {
		if strings.HasPrefix(k, "pickup_") {
			delete(inv.Fields, k)
		}
	}
	out.Warnings = append(out.Warnings, WarnPickupRejected)
	inv.Warnings = append(inv.Warnings, WarnPickupRejected)
}

// mergeResults fills fields missing from dst with values from src and
// returns the merged keys in sorted order.
func mergeResults(dst *extract.Result, src extract.Result) []string {
	if src.Invoice == nil {
		return nil
	}
	d, s := dst.Invoice, src.Invoice
	var merged []string
	for k, v := range s.Fields {
		if _, ok := d.Fields[k]; !ok && v != "" {
			d.Fields[k] = v
			merged = append(merged, k)
		}
	}
	slices.Sort(merged)

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&d.VIN, s.VIN)
	fill(&d.Year, s.Year)
	fill(&d.Make, s.Make)
	fill(&d.Model, s.Model)
	fill(&d.LotNumber, s.LotNumber)
	fill(&d.BuyerNumber, s.BuyerNumber)
	fill(&d.SaleDate, s.SaleDate)
	fill(&d.TotalAmount, s.TotalAmount)

	if d.Pickup.IsZero() && !s.Pickup.IsZero() {
		d.Pickup = s.Pickup
		dst.PickupContext = src.PickupContext
		dst.PickupPosition = src.PickupPosition
	} else {
		fill(&d.Pickup.Name, s.Pickup.Name)
		fill(&d.Pickup.Street, s.Pickup.Street)
		fill(&d.Pickup.City, s.Pickup.City)
		fill(&d.Pickup.State, s.Pickup.State)
		fill(&d.Pickup.Zip, s.Pickup.Zip)
		fill(&d.Pickup.Phone, s.Pickup.Phone)
	}
	return merged
}

// finish records the outcome on the run and converts it to a batch result.
func (p *Processor) finish(ctx context.Context, run *model.Run, upd store.RunUpdate, out *Outcome, status model.RunStatus, cause error) (batch.Result, error) {
	upd.Status = status
	if cause != nil {
		upd.Error = cause.Error()
	}
	result, err := json.Marshal(out)
	if err != nil {
		return batch.Result{}, eris.Wrapf(err, "pipeline: marshal outcome for run %d", run.ID)
	}
	upd.Result = result

	if err := p.runs.UpdateRun(ctx, run.ID, upd); err != nil {
		return batch.Result{}, eris.Wrapf(err, "pipeline: persist run %d", run.ID)
	}

	details := map[string]any{
		"source":              string(out.Source),
		"mode":                string(out.Mode),
		"anchor_completeness": out.AnchorCompleteness,
	}
	if out.Order != nil {
		details["vin"] = out.Order.VIN
	}
	if out.ExternalID != "" {
		details["external_id"] = out.ExternalID
	}
	if len(out.Warnings) > 0 {
		details["warnings"] = out.Warnings
	}

	if cause != nil {
		zap.L().Warn("pipeline: run not posted",
			zap.Int64("run_id", run.ID), zap.String("status", string(status)), zap.Error(cause))
		return batch.Result{Success: false, Error: cause.Error(), Details: details}, nil
	}
	zap.L().Info("pipeline: run posted",
		zap.Int64("run_id", run.ID), zap.String("action", out.Action), zap.String("vin", out.Order.VIN))
	return batch.Result{Success: true, Action: out.Action, Details: details}, nil
}
