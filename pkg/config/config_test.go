package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("SHEETFORGE_DB_PATH", "/var/lib/sheetforge/jobs.db")
	t.Setenv("SHEETFORGE_MAX_RETRIES", "5")
	t.Setenv("SHEETFORGE_LOG_LEVEL", "debug")
	t.Setenv("SHEETFORGE_METRICS_ENABLED", "false")
	t.Setenv("SHEETFORGE_PINCODE_RATE_RPS", "2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != "/var/lib/sheetforge/jobs.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
	if cfg.PincodeRateRPS != 2.5 {
		t.Errorf("PincodeRateRPS = %v", cfg.PincodeRateRPS)
	}
}

func TestLoadDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.env")
	content := "SHEETFORGE_SCHEMA=invoices\nSHEETFORGE_LISTEN_ADDR=:9999\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing dotenv: %v", err)
	}
	// godotenv never overrides variables already present, even empty ones,
	// so clear them outright. t.Setenv registers the restore.
	for _, key := range []string{"SHEETFORGE_SCHEMA", "SHEETFORGE_LISTEN_ADDR"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SchemaName != "invoices" {
		t.Errorf("SchemaName = %q", cfg.SchemaName)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoadMissingDotenvFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatal("expected error for a missing dotenv file")
	}
}

func TestValidateRejectsBadRetries(t *testing.T) {
	cfg := Default()
	cfg.MaxRetries = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure for MaxRetries = 0")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure for an unknown log level")
	}
}
