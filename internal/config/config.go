package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Text       TextConfig       `yaml:"text" mapstructure:"text"`
	Formats    FormatsConfig    `yaml:"formats" mapstructure:"formats"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Learning   LearningConfig   `yaml:"learning" mapstructure:"learning"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Delivery   DeliveryConfig   `yaml:"delivery" mapstructure:"delivery"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// TextConfig selects and tunes the native-text and OCR providers.
type TextConfig struct {
	NativeProvider string        `yaml:"native_provider" mapstructure:"native_provider"`
	OCRProvider    string        `yaml:"ocr_provider" mapstructure:"ocr_provider"`
	PdfToTextPath  string        `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	Tesseract      OCRConfig     `yaml:"tesseract" mapstructure:"tesseract"`
	Mistral        MistralConfig `yaml:"mistral" mapstructure:"mistral"`
}

// OCRConfig configures the local pdftoppm + tesseract OCR path.
type OCRConfig struct {
	PdfToPPMPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Lang          string `yaml:"lang" mapstructure:"lang"`
	DPI           int    `yaml:"dpi" mapstructure:"dpi"`
}

// MistralConfig configures the hosted OCR API.
type MistralConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	Endpoint     string  `yaml:"endpoint" mapstructure:"endpoint"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// FormatsConfig points at an optional format profile catalog overriding the
// embedded default.
type FormatsConfig struct {
	ProfilesPath string `yaml:"profiles_path" mapstructure:"profiles_path"`
}

// PipelineConfig configures per-document processing.
type PipelineConfig struct {
	MinAnchorCompleteness float64 `yaml:"min_anchor_completeness" mapstructure:"min_anchor_completeness"`
	ForceRepost           bool    `yaml:"force_repost" mapstructure:"force_repost"`
	Sink                  string  `yaml:"sink" mapstructure:"sink"`
}

// LearningConfig configures the correction learning pass.
type LearningConfig struct {
	BatchSize             int     `yaml:"batch_size" mapstructure:"batch_size"`
	ContextWindow         int     `yaml:"context_window" mapstructure:"context_window"`
	MinOverrideConfidence float64 `yaml:"min_override_confidence" mapstructure:"min_override_confidence"`
}

// BatchConfig configures the batch job queue.
type BatchConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	RetentionMinutes  int `yaml:"retention_minutes" mapstructure:"retention_minutes"`
	PollMillis        int `yaml:"poll_millis" mapstructure:"poll_millis"`
}

// DeliveryConfig is the fixed destination for every transport order.
// Delivery is never read from a document.
type DeliveryConfig struct {
	Name   string `yaml:"name" mapstructure:"name"`
	Street string `yaml:"street" mapstructure:"street"`
	City   string `yaml:"city" mapstructure:"city"`
	State  string `yaml:"state" mapstructure:"state"`
	Zip    string `yaml:"zip" mapstructure:"zip"`
	Phone  string `yaml:"phone" mapstructure:"phone"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the order sink.
type SalesforceConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	Username     string  `yaml:"username" mapstructure:"username"`
	KeyPath      string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string  `yaml:"login_url" mapstructure:"login_url"`
	ObjectName   string  `yaml:"object_name" mapstructure:"object_name"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// MonitoringConfig configures the run health checker. Alerts are only sent
// when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	PendingBacklogThreshold int     `yaml:"pending_backlog_threshold" mapstructure:"pending_backlog_threshold"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intake.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("text.native_provider", "native")
	v.SetDefault("text.ocr_provider", "tesseract")
	v.SetDefault("text.pdftotext_path", "pdftotext")
	v.SetDefault("text.tesseract.pdftoppm_path", "pdftoppm")
	v.SetDefault("text.tesseract.tesseract_path", "tesseract")
	v.SetDefault("text.tesseract.lang", "eng")
	v.SetDefault("text.tesseract.dpi", 300)
	v.SetDefault("text.mistral.model", "mistral-ocr-latest")
	v.SetDefault("text.mistral.endpoint", "https://api.mistral.ai/v1/ocr")
	v.SetDefault("text.mistral.rate_limit_rps", 2.0)
	v.SetDefault("pipeline.min_anchor_completeness", 0.6)
	v.SetDefault("pipeline.sink", "store")
	v.SetDefault("learning.batch_size", 100)
	v.SetDefault("learning.context_window", 200)
	v.SetDefault("learning.min_override_confidence", 0.5)
	v.SetDefault("batch.max_concurrent_jobs", 3)
	v.SetDefault("batch.retention_minutes", 60)
	v.SetDefault("batch.poll_millis", 500)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.object_name", "Transport_Order__c")
	v.SetDefault("salesforce.rate_limit_rps", 5.0)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.pending_backlog_threshold", 200)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given command mode are
// present. Modes: "serve", "batch", "ingest", "learn".
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres (INTAKE_STORE_DATABASE_URL)")
	}

	switch mode {
	case "serve", "batch":
		if c.Batch.MaxConcurrentJobs <= 0 {
			return eris.New("config: batch.max_concurrent_jobs must be positive")
		}
		if c.Delivery.City == "" || c.Delivery.State == "" {
			return eris.New("config: delivery.city and delivery.state are required to build transport orders")
		}
		if c.Pipeline.Sink == "salesforce" && c.Salesforce.ClientID == "" {
			return eris.New("config: salesforce.client_id is required for the salesforce sink (INTAKE_SALESFORCE_CLIENT_ID)")
		}
		if c.Text.OCRProvider == "mistral" && c.Text.Mistral.Key == "" {
			return eris.New("config: text.mistral.key is required for the mistral ocr provider (INTAKE_TEXT_MISTRAL_KEY)")
		}
	case "learn", "ingest", "":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
