package stores

import (
	"context"
	"time"
)

// JobRecord is the durable state of one transformation job. Stage is stored
// as a string so the store stays decoupled from the orchestrator's state
// machine; the orchestrator owns the legal values and transitions.
type JobRecord struct {
	ID              string
	SourcePath      string
	SchemaName      string
	Stage           string
	RetryCounts     string // JSON object: error class -> attempts
	PendingQuestion string
	PendingOptions  string // JSON array of suggested answers
	PlanJSON        string
	ReportJSON      string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobEvent is one audit-trail entry for a job.
type JobEvent struct {
	ID        int64
	JobID     string
	Stage     string
	Code      string
	Message   string
	CreatedAt time.Time
}

// PatternRecord is one remembered plan keyed by the source sheet's structural
// signature. Uses and Successes feed the library's confidence ramp.
type PatternRecord struct {
	Signature  string
	SchemaName string
	PlanJSON   string
	Uses       int
	Successes  int
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// Store is the persistence interface for jobs, plan patterns, and the
// enrichment cache.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Close releases the database.
	Close() error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *JobRecord) error

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, id string) (*JobRecord, error)

	// UpdateJob persists the mutable fields of a job record.
	UpdateJob(ctx context.Context, job *JobRecord) error

	// ListJobs returns jobs in most-recent-first order, all of them when
	// stage is empty, otherwise only those in the given stage.
	ListJobs(ctx context.Context, stage string, limit int) ([]*JobRecord, error)

	// AppendEvent adds an audit-trail entry.
	AppendEvent(ctx context.Context, event *JobEvent) error

	// ListEvents returns a job's audit trail in insertion order.
	ListEvents(ctx context.Context, jobID string) ([]*JobEvent, error)

	// UpsertPattern stores or replaces a plan pattern.
	UpsertPattern(ctx context.Context, p *PatternRecord) error

	// GetPattern retrieves a pattern by signature and schema, nil when absent.
	GetPattern(ctx context.Context, signature, schemaName string) (*PatternRecord, error)

	// RecordPatternUse bumps a pattern's use count, and its success count
	// when the run succeeded.
	RecordPatternUse(ctx context.Context, signature, schemaName string, success bool) error

	// CacheGet retrieves cached enrichment values for a provider and key.
	CacheGet(ctx context.Context, provider, key string) ([]string, bool, error)

	// CachePut stores enrichment values for a provider and key.
	CachePut(ctx context.Context, provider, key string, values []string) error
}
