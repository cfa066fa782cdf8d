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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Oracle   OracleConfig   `yaml:"oracle" mapstructure:"oracle"`
	Quota    QuotaConfig    `yaml:"quota" mapstructure:"quota"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. The pool settings only apply
// to the postgres driver.
type StoreConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	PoolMaxConns int32  `yaml:"pool_max_conns" mapstructure:"pool_max_conns"`
	PoolMinConns int32  `yaml:"pool_min_conns" mapstructure:"pool_min_conns"`
}

// OracleConfig holds text-completion service settings.
type OracleConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	AnalyzerModel     string `yaml:"analyzer_model" mapstructure:"analyzer_model"`
	ExtractorModel    string `yaml:"extractor_model" mapstructure:"extractor_model"`
	FillerModel       string `yaml:"filler_model" mapstructure:"filler_model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries        int    `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs       int    `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	FailureThreshold  int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// QuotaConfig configures per-user usage limits.
type QuotaConfig struct {
	DailyLimit int `yaml:"daily_limit" mapstructure:"daily_limit"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	MaxFileSizeMB int      `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	AcceptedTypes []string `yaml:"accepted_types" mapstructure:"accepted_types"`
}

// PipelineConfig configures stage behavior.
type PipelineConfig struct {
	MaxVerificationAttempts int     `yaml:"max_verification_attempts" mapstructure:"max_verification_attempts"`
	MinFieldConfidence      float64 `yaml:"min_field_confidence" mapstructure:"min_field_confidence"`
	QualityScoreThreshold   float64 `yaml:"quality_score_threshold" mapstructure:"quality_score_threshold"`
}

// BatchConfig configures batch processing. Documents within one batch run
// sequentially; the limit bounds how many background batches run at once.
type BatchConfig struct {
	MaxConcurrentBatches int `yaml:"max_concurrent_batches" mapstructure:"max_concurrent_batches"`
}

// OutputConfig configures where filled documents are written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures background health checks and webhook
// alerting. An empty webhook URL disables alert delivery; checks still run
// and feed the metrics endpoint.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	PendingThreshold     int     `yaml:"pending_threshold" mapstructure:"pending_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORMFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "formfill.db")
	v.SetDefault("store.pool_max_conns", 10)
	v.SetDefault("store.pool_min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("oracle.analyzer_model", "claude-haiku-4-5-20251001")
	v.SetDefault("oracle.extractor_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.filler_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.base_delay_ms", 800)
	v.SetDefault("oracle.requests_per_minute", 0)
	v.SetDefault("oracle.failure_threshold", 5)
	v.SetDefault("quota.daily_limit", 50)
	v.SetDefault("ingest.max_file_size_mb", 25)
	v.SetDefault("ingest.accepted_types", []string{"pdf", "txt", "md", "png", "jpg"})
	v.SetDefault("pipeline.max_verification_attempts", 3)
	v.SetDefault("pipeline.min_field_confidence", 0.5)
	v.SetDefault("pipeline.quality_score_threshold", 0.6)
	v.SetDefault("batch.max_concurrent_batches", 4)
	v.SetDefault("output.dir", "filled")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.pending_threshold", 100)

	// Read config file (optional)
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
