// Package config loads and validates the pipeline's configuration from
// environment variables and/or a .env file using Viper, following the
// teacher's required-field-validation and logged-default conventions.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnqueuePolicy is the behavior of the job queue when it is at capacity.
type EnqueuePolicy string

const (
	EnqueueBlock           EnqueuePolicy = "block"
	EnqueueReject          EnqueuePolicy = "reject"
	EnqueueBlockWithTimeout EnqueuePolicy = "block_with_timeout"
)

// DevelopmentEnvironment mirrors the teacher's environment-name constant.
const DevelopmentEnvironment = "development"

// Config holds every recognized pipeline option (spec.md §6, exhaustive).
// mapstructure tags drive Viper's env-var/.env unmarshaling, exactly the
// teacher's internal/config/config.go convention.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`

	Workers             int           `mapstructure:"WORKERS"`
	QueueCapacity       int           `mapstructure:"QUEUE_CAPACITY"`
	EnqueuePolicy       EnqueuePolicy `mapstructure:"ENQUEUE_POLICY"`
	EnqueueBlockTimeout time.Duration `mapstructure:"ENQUEUE_BLOCK_TIMEOUT"`
	RateLimitPerMinute  int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	ModelRuntimeURL  string            `mapstructure:"MODEL_RUNTIME_URL"`
	DefaultModelTier string            `mapstructure:"DEFAULT_MODEL_TIER"`
	TierModels       map[string]string `mapstructure:"TIER_MODELS"`
	RequestTimeoutMS int               `mapstructure:"REQUEST_TIMEOUT_MS"`
	MaxRetries       int               `mapstructure:"MAX_RETRIES"`
	RetryBaseDelayMS int               `mapstructure:"RETRY_BASE_DELAY_MS"`
	RetryMaxDelayMS  int               `mapstructure:"RETRY_MAX_DELAY_MS"`

	CacheMaxEntries       int `mapstructure:"CACHE_MAX_ENTRIES"`
	CacheMaxBytes         int `mapstructure:"CACHE_MAX_BYTES"`
	CacheDefaultTTLSeconds int `mapstructure:"CACHE_DEFAULT_TTL_SECONDS"`

	HealthProbeIntervalMS  int `mapstructure:"HEALTH_PROBE_INTERVAL_MS"`
	HealthFailureThreshold int `mapstructure:"HEALTH_FAILURE_THRESHOLD"`

	MaxDocumentBytes                   int64 `mapstructure:"MAX_DOCUMENT_BYTES"`
	OCRFallbackThresholdCharsPerPage   int   `mapstructure:"OCR_FALLBACK_THRESHOLD_CHARS_PER_PAGE"`

	PromptTemplateVersion string `mapstructure:"PROMPT_TEMPLATE_VERSION"`
	MetricsWindowSamples  int    `mapstructure:"METRICS_WINDOW_SAMPLES"`

	// GeminiAPIKey is retained from the teacher's OCR integration: Google
	// Cloud Vision authenticates the same way regardless of domain.
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
}

// knownKeys is the exhaustive set of recognized mapstructure keys, used to
// reject unrecognized configuration at startup (spec.md §6: "Unknown
// options MUST be rejected at startup with a clear diagnostic") — an
// extension beyond the teacher's required-field-only validation.
var knownKeys = map[string]bool{
	"environment": true, "log_level": true, "log_format": true,
	"workers": true, "queue_capacity": true, "enqueue_policy": true,
	"enqueue_block_timeout": true, "rate_limit_per_minute": true,
	"model_runtime_url": true, "default_model_tier": true, "tier_models": true,
	"request_timeout_ms": true, "max_retries": true,
	"retry_base_delay_ms": true, "retry_max_delay_ms": true,
	"cache_max_entries": true, "cache_max_bytes": true, "cache_default_ttl_seconds": true,
	"health_probe_interval_ms": true, "health_failure_threshold": true,
	"max_document_bytes": true, "ocr_fallback_threshold_chars_per_page": true,
	"prompt_template_version": true, "metrics_window_samples": true,
	"gemini_api_key": true,
}

// LoadConfig reads configuration from environment variables and/or a .env
// file, validates required fields, applies defaults with logging, and
// rejects unrecognized keys.
func LoadConfig(ctx context.Context, path string) (cfg Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No .env file found, relying on environment variables.")
		} else {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err = rejectUnknownKeys(viper.AllSettings()); err != nil {
		return Config{}, err
	}

	if err = viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err = validateRequired(cfg); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)

	select {
	case <-ctx.Done():
		return Config{}, ctx.Err()
	default:
	}

	return cfg, nil
}

func rejectUnknownKeys(settings map[string]interface{}) error {
	var unknown []string
	for k := range settings {
		if !knownKeys[strings.ToLower(k)] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unrecognized configuration option(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func validateRequired(cfg Config) error {
	if cfg.ModelRuntimeURL == "" {
		return fmt.Errorf("environment variable MODEL_RUNTIME_URL is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("environment variable WORKERS must be a positive integer")
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("environment variable QUEUE_CAPACITY must be a positive integer")
	}
	switch cfg.EnqueuePolicy {
	case EnqueueBlock, EnqueueReject, EnqueueBlockWithTimeout, "":
	default:
		return fmt.Errorf("environment variable ENQUEUE_POLICY must be one of block|reject|block_with_timeout")
	}
	switch cfg.DefaultModelTier {
	case "small", "balanced", "large", "":
	default:
		return fmt.Errorf("environment variable DEFAULT_MODEL_TIER must be one of small|balanced|large")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		log.Println("LOG_LEVEL not set, defaulting to 'info'")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		log.Println("LOG_FORMAT not set, defaulting to 'text'")
	}
	if cfg.EnqueuePolicy == "" {
		cfg.EnqueuePolicy = EnqueueBlock
		log.Println("ENQUEUE_POLICY not set, defaulting to 'block'")
	}
	if cfg.EnqueueBlockTimeout == 0 {
		cfg.EnqueueBlockTimeout = 5 * time.Second
		log.Println("ENQUEUE_BLOCK_TIMEOUT not set, defaulting to 5s")
	}
	if cfg.DefaultModelTier == "" {
		cfg.DefaultModelTier = "balanced"
		log.Println("DEFAULT_MODEL_TIER not set, defaulting to 'balanced'")
	}
	if cfg.TierModels == nil {
		cfg.TierModels = map[string]string{
			"small":    "llama3.2:1b",
			"balanced": "llama3.1:8b",
			"large":    "llama3.1:70b",
		}
		log.Println("TIER_MODELS not set, defaulting to built-in Ollama model names")
	}
	if cfg.RequestTimeoutMS == 0 {
		cfg.RequestTimeoutMS = 30000
		log.Println("REQUEST_TIMEOUT_MS not set, defaulting to 30000")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
		log.Println("MAX_RETRIES not set, defaulting to 3")
	}
	if cfg.RetryBaseDelayMS == 0 {
		cfg.RetryBaseDelayMS = 200
		log.Println("RETRY_BASE_DELAY_MS not set, defaulting to 200")
	}
	if cfg.RetryMaxDelayMS == 0 {
		cfg.RetryMaxDelayMS = 5000
		log.Println("RETRY_MAX_DELAY_MS not set, defaulting to 5000")
	}
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = 1000
		log.Println("CACHE_MAX_ENTRIES not set, defaulting to 1000")
	}
	if cfg.CacheMaxBytes == 0 {
		cfg.CacheMaxBytes = 64 * 1024 * 1024
		log.Println("CACHE_MAX_BYTES not set, defaulting to 64MB")
	}
	if cfg.CacheDefaultTTLSeconds == 0 {
		cfg.CacheDefaultTTLSeconds = 3600
		log.Println("CACHE_DEFAULT_TTL_SECONDS not set, defaulting to 3600")
	}
	if cfg.HealthProbeIntervalMS == 0 {
		cfg.HealthProbeIntervalMS = 15000
		log.Println("HEALTH_PROBE_INTERVAL_MS not set, defaulting to 15000")
	}
	if cfg.HealthFailureThreshold == 0 {
		cfg.HealthFailureThreshold = 3
		log.Println("HEALTH_FAILURE_THRESHOLD not set, defaulting to 3")
	}
	if cfg.MaxDocumentBytes == 0 {
		cfg.MaxDocumentBytes = 50 * 1024 * 1024
		log.Println("MAX_DOCUMENT_BYTES not set, defaulting to 50MB")
	}
	if cfg.OCRFallbackThresholdCharsPerPage == 0 {
		cfg.OCRFallbackThresholdCharsPerPage = 40
		log.Println("OCR_FALLBACK_THRESHOLD_CHARS_PER_PAGE not set, defaulting to 40")
	}
	if cfg.PromptTemplateVersion == "" {
		cfg.PromptTemplateVersion = "1.0.0"
		log.Println("PROMPT_TEMPLATE_VERSION not set, defaulting to '1.0.0'")
	}
	if cfg.MetricsWindowSamples == 0 {
		cfg.MetricsWindowSamples = 500
		log.Println("METRICS_WINDOW_SAMPLES not set, defaulting to 500")
	}
	if os.Getenv("ENVIRONMENT") == "" && cfg.Environment == "" {
		cfg.Environment = DevelopmentEnvironment
	}
}
