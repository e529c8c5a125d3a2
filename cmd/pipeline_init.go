package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/batch"
	"github.com/sells-group/auction-intake/internal/extract"
	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/learning"
	"github.com/sells-group/auction-intake/internal/ocr"
	"github.com/sells-group/auction-intake/internal/pipeline"
	"github.com/sells-group/auction-intake/internal/store"
)

// ocrDisabled turns off the OCR fallback entirely.
const ocrDisabled = "none"

// intakeEnv holds everything the serve and batch commands need.
type intakeEnv struct {
	Store     store.Store
	Catalog   *formats.Catalog
	Processor *pipeline.Processor
	Learning  *learning.Service
	Queue     *batch.Queue
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initIntake validates config for mode, opens the store and wires the
// processor, learning service and batch queue. Callers should defer
// env.Close().
func initIntake(ctx context.Context, mode string) (*intakeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	catalog, err := formats.Load(cfg.Formats.ProfilesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load format catalog")
	}

	native, ocrCache, err := initTextSources()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	sink, err := initSink(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	proc, err := pipeline.New(cfg, pipeline.Deps{
		Runs:    st,
		Catalog: catalog,
		Native:  native,
		OCR:     ocrCache,
		Rules:   learning.NewRuleBook(st, catalog),
		Sink:    sink,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "build pipeline")
	}

	zap.L().Info("intake pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("sink", sink.Name()),
		zap.Int("formats", len(catalog.Formats)),
		zap.Bool("ocr", ocrCache != nil),
	)

	return &intakeEnv{
		Store:     st,
		Catalog:   catalog,
		Processor: proc,
		Learning:  learning.NewService(st, learning.NewStoreRunLookup(st), cfg.Learning),
		Queue:     batch.NewQueue(cfg.Batch.MaxConcurrentJobs),
	}, nil
}

// initTextSources builds the native text cache and, unless disabled, the OCR
// cache.
func initTextSources() (native, ocrCache *extract.TextCache, err error) {
	nativeSrc, err := ocr.NewNative(cfg.Text)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init native text provider")
	}
	native = extract.NewTextCache(nativeSrc, 0)

	if cfg.Text.OCRProvider == ocrDisabled {
		zap.L().Info("ocr fallback disabled")
		return native, nil, nil
	}
	ocrSrc, err := ocr.NewOCR(cfg.Text)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init ocr provider")
	}
	return native, extract.NewTextCache(ocrSrc, 0), nil
}

// initSink picks the transport order destination.
func initSink(st store.Store) (pipeline.OrderSink, error) {
	switch cfg.Pipeline.Sink {
	case "store", "":
		return pipeline.NewStoreSink(st), nil
	case "salesforce":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return pipeline.NewSalesforceSink(client, cfg.Salesforce, st), nil
	case "log":
		return pipeline.LogSink{}, nil
	default:
		return nil, eris.Errorf("unsupported order sink: %s", cfg.Pipeline.Sink)
	}
}

// openLearning opens the store and the learning service for the learn,
// stats, corrections and export commands.
func openLearning(ctx context.Context) (store.Store, *learning.Service, *formats.Catalog, error) {
	if err := cfg.Validate("learn"); err != nil {
		return nil, nil, nil, err
	}
	catalog, err := formats.Load(cfg.Formats.ProfilesPath)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "load format catalog")
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return st, learning.NewService(st, learning.NewStoreRunLookup(st), cfg.Learning), catalog, nil
}
