package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/extract"
	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/store"
)

const vin = "1HGCM82633A004352"

const copartInvoice = `COPART SALES RECEIPT
Member # 55123
Sale Date: 03/14/2024
Lot # 44123399
VIN: 1HGCM82633A004352
Year: 2019
Make: HONDA
Model: ACCORD
Total Due: $1,250.00

PHYSICAL ADDRESS OF LOT
COPART DALLAS
1200 Mayes Dr
Grand Prairie, TX 75050
(972) 555-0100`

// copartPartial is a thin text layer the advisor grades poor but keeps in
// hybrid mode (it still carries a VIN).
const copartPartial = `COPART SALES RECEIPT
Member # 55123
Lot # 44123399
VIN: 1HGCM82633A004352
Year: 2019`

const copartDeliveryBlock = `COPART SALES RECEIPT
Member # 55123
Sale Date: 03/14/2024
Lot # 44123399
VIN: 1HGCM82633A004352
Year: 2019
Make: HONDA
Model: ACCORD
Total Due: $1,250.00

PHYSICAL ADDRESS OF LOT
ACME DELIVERY CENTER
1200 Mayes Dr
Grand Prairie, TX 75050
(972) 555-0100`

const repairOrder = `REPAIR ORDER
Customer: John Smith
Vehicle: 2015 Ford F-150
Work performed: Replaced front brake pads and rotors, rotated tires, checked fluids and topped off coolant.
Technician notes: customer reports squeal on braking, resolved after service.
Invoice date: 04/02/2024
Amount: $640.00`

type mapSource map[string]string

func (m mapSource) ExtractText(_ context.Context, path string) (string, error) {
	text, ok := m[path]
	if !ok {
		return "", errors.New("no text layer")
	}
	return text, nil
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Upsert(ctx context.Context, order *model.TransportOrder) (SinkResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(SinkResult), args.Error(1)
}

type stubRules map[string]model.RuleSummary

func (s stubRules) RulesFor(context.Context, string) (map[string]model.RuleSummary, error) {
	return s, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{MinAnchorCompleteness: 0.6},
		Learning: config.LearningConfig{MinOverrideConfidence: 0.5},
		Delivery: config.DeliveryConfig{
			Name: "Central Yard", Street: "1 Depot Rd", City: "Austin", State: "tx", Zip: "78701",
		},
	}
}

type harness struct {
	store *store.SQLiteStore
	proc  *Processor
}

func newHarness(t *testing.T, cfg *config.Config, native, ocrText mapSource, sink OrderSink, rules extract.RuleSource) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	catalog, err := formats.Default()
	require.NoError(t, err)

	if sink == nil {
		sink = NewStoreSink(st)
	}
	deps := Deps{
		Runs:    st,
		Catalog: catalog,
		Native:  extract.NewTextCache(native, 0),
		Rules:   rules,
		Sink:    sink,
	}
	if ocrText != nil {
		deps.OCR = extract.NewTextCache(ocrText, 0)
	}
	proc, err := New(cfg, deps)
	require.NoError(t, err)
	return &harness{store: st, proc: proc}
}

func (h *harness) newRun(t *testing.T, path string) int64 {
	t.Helper()
	ctx := context.Background()
	doc, err := h.store.CreateDocument(ctx, path, 1)
	require.NoError(t, err)
	run, err := h.store.CreateRun(ctx, doc.ID)
	require.NoError(t, err)
	return run.ID
}

func (h *harness) outcome(t *testing.T, runID int64) (*model.Run, Outcome) {
	t.Helper()
	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	var out Outcome
	require.NoError(t, json.Unmarshal(run.Result, &out))
	return run, out
}

func TestProcessPostsNativeInvoice(t *testing.T) {
	h := newHarness(t, testConfig(), mapSource{"/docs/a.pdf": copartInvoice}, nil, nil, nil)
	runID := h.newRun(t, "/docs/a.pdf")
	ctx := context.Background()

	res, err := h.proc.Process(ctx, runID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ActionPosted, res.Action)
	assert.Equal(t, vin, res.Details["vin"])

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.RunStatusPosted, run.Status)
	assert.Equal(t, 1, run.FormatID)
	assert.Empty(t, run.Error)
	assert.Equal(t, copartInvoice, run.ExtractedText)

	assert.Equal(t, model.SourceCopart, out.Source)
	assert.Equal(t, model.ModeNative, out.Mode)
	assert.False(t, out.UsedOCR)
	assert.InDelta(t, 1.0, out.AnchorCompleteness, 0.0001)
	require.NotNil(t, out.PickupLocation)
	assert.Equal(t, model.LocationPickup, out.PickupLocation.LocationType)

	require.NotNil(t, out.Order)
	assert.Equal(t, runID, out.Order.RunID)
	assert.Equal(t, "Grand Prairie", out.Order.Pickup.City)
	assert.Equal(t, model.Address{Name: "Central Yard", Street: "1 Depot Rd", City: "Austin", State: "TX", Zip: "78701"}, out.Order.Delivery)
	assert.Equal(t, "store", out.Sink)
}

func TestProcessSkipsPostedUnlessForced(t *testing.T) {
	native := mapSource{"/docs/a.pdf": copartInvoice}
	h := newHarness(t, testConfig(), native, nil, nil, nil)
	runID := h.newRun(t, "/docs/a.pdf")
	ctx := context.Background()

	_, err := h.proc.Process(ctx, runID)
	require.NoError(t, err)

	res, err := h.proc.Process(ctx, runID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, res.Success)

	cfg := testConfig()
	cfg.Pipeline.ForceRepost = true
	forced, err := New(cfg, Deps{
		Runs:    h.store,
		Catalog: h.proc.catalog,
		Native:  extract.NewTextCache(native, 0),
		Sink:    NewStoreSink(h.store),
	})
	require.NoError(t, err)

	res, err = forced.Process(ctx, runID)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, ActionUpdated, res.Action, "same VIN updates the existing order")
}

func TestProcessHybridMergesOCRFields(t *testing.T) {
	h := newHarness(t, testConfig(),
		mapSource{"/docs/h.pdf": copartPartial},
		mapSource{"/docs/h.pdf": copartInvoice},
		nil, nil)
	runID := h.newRun(t, "/docs/h.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.ModeHybrid, out.Mode)
	assert.True(t, out.UsedOCR)
	assert.Contains(t, out.MergedFields, "pickup_city")
	assert.Contains(t, out.MergedFields, "make")
	assert.NotContains(t, out.MergedFields, "vin")
	assert.Equal(t, "Grand Prairie", out.Order.Pickup.City)
	assert.Equal(t, "HONDA", out.Order.Make)
	assert.Contains(t, run.ExtractedText, copartPartial)
	assert.Contains(t, run.ExtractedText, "PHYSICAL ADDRESS OF LOT")
}

func TestProcessHybridWithoutOCRKeepsNative(t *testing.T) {
	h := newHarness(t, testConfig(), mapSource{"/docs/h.pdf": copartPartial}, nil, nil, nil)
	runID := h.newRun(t, "/docs/h.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "transport order invalid")

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.RunStatusExtracted, run.Status)
	assert.False(t, out.UsedOCR)
	assert.Equal(t, vin, out.Invoice.VIN)
}

func TestProcessOCRMode(t *testing.T) {
	h := newHarness(t, testConfig(),
		mapSource{"/docs/scan.pdf": ""},
		mapSource{"/docs/scan.pdf": copartInvoice},
		nil, nil)
	runID := h.newRun(t, "/docs/scan.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.ModeOCR, out.Mode)
	assert.Equal(t, model.QualityUnusable, out.Quality)
	assert.True(t, out.UsedOCR)
	assert.Equal(t, copartInvoice, run.ExtractedText)
}

func TestProcessOCRFailureWithEmptyNativeFails(t *testing.T) {
	h := newHarness(t, testConfig(),
		mapSource{"/docs/scan.pdf": ""},
		mapSource{},
		nil, nil)
	runID := h.newRun(t, "/docs/scan.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "pipeline: ocr /docs/scan.pdf")

	run, _ := h.outcome(t, runID)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestProcessNativeReadError(t *testing.T) {
	h := newHarness(t, testConfig(), mapSource{}, nil, nil, nil)
	runID := h.newRun(t, "/docs/missing.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "pipeline: read /docs/missing.pdf")
}

func TestProcessUnrecognizedFormat(t *testing.T) {
	h := newHarness(t, testConfig(), mapSource{"/docs/r.pdf": repairOrder}, nil, nil, nil)
	runID := h.newRun(t, "/docs/r.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unrecognized invoice format")
	assert.Equal(t, "UNKNOWN", res.Details["source"])

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, model.SourceUnknown, out.Source)
	assert.Nil(t, out.Order)
}

func TestProcessRejectsDeliveryLookingPickup(t *testing.T) {
	sink := &mockSink{}
	h := newHarness(t, testConfig(), mapSource{"/docs/d.pdf": copartDeliveryBlock}, nil, sink, nil)
	runID := h.newRun(t, "/docs/d.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Details["warnings"], WarnPickupRejected)

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.RunStatusExtracted, run.Status)
	require.NotNil(t, out.PickupLocation)
	assert.Equal(t, model.LocationDelivery, out.PickupLocation.LocationType)
	assert.True(t, out.Invoice.Pickup.IsZero())
	for k := range out.Invoice.Fields {
		assert.NotContains(t, k, "pickup_")
	}
	sink.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestProcessSinkFailure(t *testing.T) {
	sink := &mockSink{}
	sink.On("Upsert", mock.Anything, mock.MatchedBy(func(o *model.TransportOrder) bool {
		return o.VIN == vin
	})).Return(SinkResult{}, errors.New("crm unavailable")).Once()

	h := newHarness(t, testConfig(), mapSource{"/docs/a.pdf": copartInvoice}, nil, sink, nil)
	runID := h.newRun(t, "/docs/a.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "crm unavailable")

	run, out := h.outcome(t, runID)
	assert.Equal(t, model.RunStatusExtracted, run.Status)
	assert.Equal(t, "mock", out.Sink)
	sink.AssertExpectations(t)
}

func TestProcessReportsSinkAction(t *testing.T) {
	sink := &mockSink{}
	sink.On("Upsert", mock.Anything, mock.Anything).Return(SinkResult{ExternalID: "a0X1"}, nil).Once()

	h := newHarness(t, testConfig(), mapSource{"/docs/a.pdf": copartInvoice}, nil, sink, nil)
	runID := h.newRun(t, "/docs/a.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, "a0X1", res.Details["external_id"])
}

func TestProcessUsesLearnedRules(t *testing.T) {
	text := `COPART SALES RECEIPT
Member # 55123
Lot # 44123399
VIN: 1HGCM82633A004352
Year: 2019
Make: HONDA
Model: ACCORD
Sale Date: 03/14/2024

YARD PICKUP
COPART HOUSTON
1655 Rankin Rd
Houston, TX 77073`
	rules := stubRules{"pickup_address": {
		RuleType:      model.RuleTypeLabelBelow,
		LabelPatterns: []string{"YARD PICKUP"},
		Confidence:    0.9,
	}}
	h := newHarness(t, testConfig(), mapSource{"/docs/l.pdf": text}, nil, nil, rules)
	runID := h.newRun(t, "/docs/l.pdf")

	res, err := h.proc.Process(context.Background(), runID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	_, out := h.outcome(t, runID)
	assert.Equal(t, "Houston", out.Order.Pickup.City)
	assert.Equal(t, "COPART HOUSTON", out.Order.Pickup.Name)
}

func TestProcessMissingRun(t *testing.T) {
	h := newHarness(t, testConfig(), mapSource{}, nil, nil, nil)
	_, err := h.proc.Process(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.ErrorContains(t, err, "required")
}

func TestMergeResults(t *testing.T) {
	dst := extract.Result{Invoice: &model.Invoice{
		VIN:    vin,
		Fields: map[string]string{"vin": vin},
	}}
	src := extract.Result{
		Invoice: &model.Invoice{
			VIN:    "IGNOREDVIN",
			Make:   "FORD",
			Pickup: model.Address{City: "Tulsa", State: "OK"},
			Fields: map[string]string{"vin": "IGNOREDVIN", "make": "FORD", "pickup_city": "Tulsa", "empty": ""},
		},
		PickupContext:  "LOT LOCATION",
		PickupPosition: "top_left",
	}

	merged := mergeResults(&dst, src)
	assert.Equal(t, []string{"make", "pickup_city"}, merged)
	assert.Equal(t, vin, dst.Invoice.VIN)
	assert.Equal(t, "FORD", dst.Invoice.Make)
	assert.Equal(t, "Tulsa", dst.Invoice.Pickup.City)
	assert.Equal(t, "LOT LOCATION", dst.PickupContext)
	assert.Equal(t, "top_left", dst.PickupPosition)

	assert.Nil(t, mergeResults(&dst, extract.Result{}))
}
