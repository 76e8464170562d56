package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the transformation pipeline.
type Metrics struct {
	config MetricsConfig

	// Job metrics
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	// Stage metrics
	stageTransitions *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec

	// Cell metrics
	rowsProcessed *prometheus.CounterVec
	cellIssues    *prometheus.CounterVec

	// Enrichment metrics
	enrichmentLookups  *prometheus.CounterVec
	enrichmentDuration *prometheus.HistogramVec

	// Planning metrics
	plansProduced  *prometheus.CounterVec
	plansValidated *prometheus.CounterVec
	retries        *prometheus.CounterVec

	// System metrics
	activeJobs    prometheus.Gauge
	awaitingHuman prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		jobsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of transformation jobs started",
			},
			[]string{"schema"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs by terminal stage",
			},
			[]string{"stage"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock duration of jobs in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		stageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Total number of orchestrator stage transitions",
			},
			[]string{"from", "to"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		rowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Total rows processed by outcome (clean, soft, hard)",
			},
			[]string{"outcome"},
		),
		cellIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cell_issues_total",
				Help:      "Total per-cell issues recorded during execution",
			},
			[]string{"kind"},
		),

		enrichmentLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_lookups_total",
				Help:      "Total enrichment lookups by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		enrichmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enrichment_lookup_duration_seconds",
				Help:      "Duration of enrichment lookups in seconds",
				Buckets:   buckets,
			},
			[]string{"provider"},
		),

		plansProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_produced_total",
				Help:      "Total plans produced by planner source",
			},
			[]string{"source"},
		),
		plansValidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_validated_total",
				Help:      "Total plan validations by outcome",
			},
			[]string{"outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total retries by error class",
			},
			[]string{"class"},
		),

		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Current number of jobs being processed",
			},
		),
		awaitingHuman: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_awaiting_human",
				Help:      "Current number of jobs suspended on a human question",
			},
		),
	}

	registry.MustRegister(
		m.jobsStarted,
		m.jobsCompleted,
		m.jobDuration,
		m.stageTransitions,
		m.stageDuration,
		m.rowsProcessed,
		m.cellIssues,
		m.enrichmentLookups,
		m.enrichmentDuration,
		m.plansProduced,
		m.plansValidated,
		m.retries,
		m.activeJobs,
		m.awaitingHuman,
	)

	return m, nil
}

// RecordJobStarted increments the counter for started jobs.
func (m *Metrics) RecordJobStarted(schemaName string) {
	if m == nil || m.jobsStarted == nil {
		return
	}
	m.jobsStarted.WithLabelValues(schemaName).Inc()
	m.activeJobs.Inc()
}

// RecordJobCompleted records a job reaching a terminal stage.
func (m *Metrics) RecordJobCompleted(stage string, duration time.Duration) {
	if m == nil || m.jobsCompleted == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(stage).Inc()
	m.jobDuration.WithLabelValues(stage).Observe(duration.Seconds())
	m.activeJobs.Dec()
}

// RecordStageTransition records one orchestrator transition.
func (m *Metrics) RecordStageTransition(from, to string, spent time.Duration) {
	if m == nil || m.stageTransitions == nil {
		return
	}
	m.stageTransitions.WithLabelValues(from, to).Inc()
	m.stageDuration.WithLabelValues(from).Observe(spent.Seconds())
}

// RecordRows records processed row counts by outcome.
func (m *Metrics) RecordRows(outcome string, count int) {
	if m == nil || m.rowsProcessed == nil {
		return
	}
	m.rowsProcessed.WithLabelValues(outcome).Add(float64(count))
}

// RecordCellIssue records one per-cell issue.
func (m *Metrics) RecordCellIssue(kind string) {
	if m == nil || m.cellIssues == nil {
		return
	}
	m.cellIssues.WithLabelValues(kind).Inc()
}

// RecordEnrichmentLookup records one enrichment lookup.
func (m *Metrics) RecordEnrichmentLookup(provider, outcome string, duration time.Duration) {
	if m == nil || m.enrichmentLookups == nil {
		return
	}
	m.enrichmentLookups.WithLabelValues(provider, outcome).Inc()
	m.enrichmentDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordPlanProduced records a plan emitted by a planner.
func (m *Metrics) RecordPlanProduced(source string) {
	if m == nil || m.plansProduced == nil {
		return
	}
	m.plansProduced.WithLabelValues(source).Inc()
}

// RecordPlanValidated records a validation outcome (accepted, rejected).
func (m *Metrics) RecordPlanValidated(outcome string) {
	if m == nil || m.plansValidated == nil {
		return
	}
	m.plansValidated.WithLabelValues(outcome).Inc()
}

// RecordRetry records a retry attempt for an error class.
func (m *Metrics) RecordRetry(class string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(class).Inc()
}

// SetAwaitingHuman sets the current number of suspended jobs.
func (m *Metrics) SetAwaitingHuman(count float64) {
	if m == nil || m.awaitingHuman == nil {
		return
	}
	m.awaitingHuman.Set(count)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
