// Package config assembles the service configuration from the environment,
// optionally seeded from a dotenv file. Every setting has a working default;
// a bare binary runs with a local SQLite database and no model planner.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/sheetforge/sheetforge/pkg/telemetry"
)

// Config is the full service configuration.
type Config struct {
	// DatabasePath is the SQLite database file for jobs, plan patterns, and
	// the enrichment cache.
	DatabasePath string `validate:"required"`

	// OutputDir is where per-job artifacts (main sheet, error sheet, report)
	// are written.
	OutputDir string `validate:"required"`

	// InboxDir, when set, is watched for dropped CSV sheets.
	InboxDir string

	// SchemaName is the target schema for submitted sheets.
	SchemaName string `validate:"required"`

	// ListenAddr is the job control API address.
	ListenAddr string `validate:"required"`

	// Workers is the per-step row concurrency; zero means one per CPU.
	Workers int `validate:"gte=0"`

	// MaxRetries is the per-error-class retry budget.
	MaxRetries int `validate:"gte=1"`

	// GeminiAPIKey enables the model planner. Empty disables it; the
	// heuristic planner still runs.
	GeminiAPIKey string

	// GeminiModel names the model used for planning.
	GeminiModel string

	// GeminiBaseURL overrides the API endpoint, mainly for tests.
	GeminiBaseURL string

	// PincodeBaseURL overrides the postal lookup endpoint.
	PincodeBaseURL string

	// PincodeRateRPS caps outbound postal lookups per second.
	PincodeRateRPS float64 `validate:"gte=0"`

	// Telemetry is the logging, metrics, and tracing configuration.
	Telemetry *telemetry.Config
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		DatabasePath:   "sheetforge.db",
		OutputDir:      "out",
		SchemaName:     "generic_customer",
		ListenAddr:     ":8080",
		MaxRetries:     3,
		GeminiModel:    "gemini-2.0-flash",
		PincodeRateRPS: 5,
		Telemetry:      telemetry.DefaultConfig(),
	}
}

// Load reads the configuration. When dotenvPath is non-empty the file must
// exist; otherwise a .env in the working directory is applied if present.
// Real environment variables always win over the dotenv file.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", dotenvPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	cfg.DatabasePath = envStr("SHEETFORGE_DB_PATH", cfg.DatabasePath)
	cfg.OutputDir = envStr("SHEETFORGE_OUTPUT_DIR", cfg.OutputDir)
	cfg.InboxDir = envStr("SHEETFORGE_INBOX_DIR", cfg.InboxDir)
	cfg.SchemaName = envStr("SHEETFORGE_SCHEMA", cfg.SchemaName)
	cfg.ListenAddr = envStr("SHEETFORGE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.Workers = envInt("SHEETFORGE_WORKERS", cfg.Workers)
	cfg.MaxRetries = envInt("SHEETFORGE_MAX_RETRIES", cfg.MaxRetries)

	cfg.GeminiAPIKey = envStr("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = envStr("SHEETFORGE_GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiBaseURL = envStr("SHEETFORGE_GEMINI_BASE_URL", cfg.GeminiBaseURL)

	cfg.PincodeBaseURL = envStr("SHEETFORGE_PINCODE_BASE_URL", cfg.PincodeBaseURL)
	cfg.PincodeRateRPS = envFloat("SHEETFORGE_PINCODE_RATE_RPS", cfg.PincodeRateRPS)

	if envStr("SHEETFORGE_ENV", "") == "production" {
		cfg.Telemetry = telemetry.ProductionConfig()
	}
	t := cfg.Telemetry
	t.ServiceVersion = envStr("SHEETFORGE_VERSION", t.ServiceVersion)
	t.Logging.Level = envStr("SHEETFORGE_LOG_LEVEL", t.Logging.Level)
	t.Logging.Format = envStr("SHEETFORGE_LOG_FORMAT", t.Logging.Format)
	t.Logging.Output = envStr("SHEETFORGE_LOG_OUTPUT", t.Logging.Output)
	t.Metrics.Enabled = envBool("SHEETFORGE_METRICS_ENABLED", t.Metrics.Enabled)
	t.Metrics.ListenAddress = envStr("SHEETFORGE_METRICS_ADDR", t.Metrics.ListenAddress)
	t.Tracing.Enabled = envBool("SHEETFORGE_TRACING_ENABLED", t.Tracing.Enabled)
	t.Tracing.Exporter = envStr("SHEETFORGE_TRACING_EXPORTER", t.Tracing.Exporter)
	t.Tracing.Endpoint = envStr("SHEETFORGE_TRACING_ENDPOINT", t.Tracing.Endpoint)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration, including the telemetry section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
