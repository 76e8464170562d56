package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestProductionConfigIsValid(t *testing.T) {
	cfg := ProductionConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("production config invalid: %v", err)
	}
	if cfg.Logging.Format != "json" || !cfg.Tracing.Enabled {
		t.Errorf("production profile not applied: %+v", cfg)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"empty service name": func(c *Config) { c.ServiceName = "" },
		"bad log level":      func(c *Config) { c.Logging.Level = "loud" },
		"bad log format":     func(c *Config) { c.Logging.Format = "xml" },
		"bad exporter": func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "carrier-pigeon"
		},
		"bad sampling rate":  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
		"no metrics address": func(c *Config) { c.Metrics.ListenAddress = "" },
	}
	for label, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", label)
		}
	}
}

func TestMetricsHandlerExposesSeries(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordJobStarted("generic_customer")
	m.RecordStageTransition("planning", "validating_plan", 50*time.Millisecond)
	m.RecordRetry("LOW_CONFIDENCE")
	m.SetAwaitingHuman(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, series := range []string{
		"sheetforge_jobs_started_total",
		"sheetforge_stage_transitions_total",
		"sheetforge_retries_total",
		"sheetforge_jobs_awaiting_human 2",
	} {
		if !strings.Contains(body, series) {
			t.Errorf("metrics output missing %q", series)
		}
	}
}

func TestDisabledMetricsAreInert(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = false
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Must not panic.
	m.RecordJobStarted("generic_customer")
	m.RecordJobCompleted("completed", time.Second)
	m.RecordCellIssue("transform")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled metrics handler status = %d, want 404", rec.Code)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordJobStarted("x")
	m.RecordJobCompleted("completed", time.Second)
	m.RecordStageTransition("a", "b", 0)
	m.RecordRows("clean", 3)
	m.RecordCellIssue("enrichment")
	m.RecordEnrichmentLookup("pincode", "hit", 0)
	m.RecordPlanProduced("heuristic")
	m.RecordPlanValidated("accepted")
	m.RecordRetry("BAD_PARAMS")
	m.SetAwaitingHuman(0)
}

func TestLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.NewComponentLogger("engine").WithJobID("job-1").Info("step complete")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if entry["component"] != "engine" || entry["job_id"] != "job-1" {
		t.Errorf("fields missing: %v", entry)
	}
	if entry["message"] != "step complete" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLoggerLevelFiltersOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiet.log")
	log, err := NewLogger(LoggingConfig{Level: "error", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Debug("suppressed")
	log.Info("suppressed too")

	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Errorf("below-level messages were written: %s", data)
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	log := NopLogger()
	log.Info("nothing")
	log.WithError(os.ErrNotExist).Error("nothing either")
}
