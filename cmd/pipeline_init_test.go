//go:build !integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/pipeline"
	"github.com/sells-group/auction-intake/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "intake.db"),
		},
		Text:     config.TextConfig{NativeProvider: "native", OCRProvider: ocrDisabled},
		Pipeline: config.PipelineConfig{MinAnchorCompleteness: 0.6, Sink: "log"},
		Batch:    config.BatchConfig{MaxConcurrentJobs: 2, RetentionMinutes: 60, PollMillis: 10},
		Delivery: config.DeliveryConfig{Name: "ACME STORAGE", City: "Austin", State: "TX"},
	}
}

func TestIntakeEnv_Close_Nil(t *testing.T) {
	env := &intakeEnv{}
	assert.NotPanics(t, env.Close)
}

func TestInitIntake(t *testing.T) {
	cfg = testConfig(t)

	env, err := initIntake(context.Background(), "serve")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Processor)
	assert.NotNil(t, env.Learning)
	assert.NotNil(t, env.Queue)
	assert.Len(t, env.Catalog.Formats, 3)

	rec := httptest.NewRecorder()
	buildHandler(env).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitIntake_ValidatesConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Delivery = config.DeliveryConfig{}

	env, err := initIntake(context.Background(), "batch")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery.city")
}

func TestInitIntake_BadProfilesPath(t *testing.T) {
	cfg = testConfig(t)
	cfg.Formats.ProfilesPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := initIntake(context.Background(), "batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load format catalog")
}

func TestInitTextSources(t *testing.T) {
	cfg = testConfig(t)
	native, ocrCache, err := initTextSources()
	require.NoError(t, err)
	assert.NotNil(t, native)
	assert.Nil(t, ocrCache)

	cfg.Text.OCRProvider = "tesseract"
	_, ocrCache, err = initTextSources()
	require.NoError(t, err)
	assert.NotNil(t, ocrCache)

	cfg.Text.OCRProvider = "abbyy"
	_, _, err = initTextSources()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init ocr provider")

	cfg.Text.NativeProvider = "acrobat"
	_, _, err = initTextSources()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init native text provider")
}

func TestInitSink(t *testing.T) {
	cfg = testConfig(t)
	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	tests := []struct {
		sink    string
		name    string
		wantErr string
	}{
		{sink: "", name: "store"},
		{sink: "store", name: "store"},
		{sink: "log", name: "log"},
		{sink: "salesforce", wantErr: "INTAKE_SALESFORCE_CLIENT_ID"},
		{sink: "fax", wantErr: "unsupported order sink"},
	}
	for _, tt := range tests {
		t.Run(tt.sink, func(t *testing.T) {
			cfg.Pipeline.Sink = tt.sink
			sink, err := initSink(st)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, sink.Name())
		})
	}

	var _ pipeline.OrderSink = pipeline.LogSink{}
}

func TestOpenLearning(t *testing.T) {
	cfg = testConfig(t)
	st, svc, catalog, err := openLearning(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	assert.NotNil(t, svc)
	p, err := resolveFormat(catalog, "iaa")
	require.NoError(t, err)
	assert.Equal(t, 2, p.ID)
}
