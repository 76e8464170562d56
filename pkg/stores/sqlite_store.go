package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrJobNotFound is returned by GetJob for an unknown id.
var ErrJobNotFound = errors.New("job not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *JobRecord) error {
	query := `
		INSERT INTO jobs (id, source_path, schema_name, stage, retry_counts, pending_question, pending_options, plan_json, report_json, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.RetryCounts == "" {
		job.RetryCounts = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.SourcePath,
		job.SchemaName,
		job.Stage,
		job.RetryCounts,
		job.PendingQuestion,
		job.PendingOptions,
		job.PlanJSON,
		job.ReportJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	query := `
		SELECT id, source_path, schema_name, stage, retry_counts, pending_question, pending_options, plan_json, report_json, error, created_at, updated_at
		FROM jobs
		WHERE id = ?
	`

	job := &JobRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.SourcePath,
		&job.SchemaName,
		&job.Stage,
		&job.RetryCounts,
		&job.PendingQuestion,
		&job.PendingOptions,
		&job.PlanJSON,
		&job.ReportJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// UpdateJob persists the mutable fields of a job record.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *JobRecord) error {
	query := `
		UPDATE jobs
		SET stage = ?, retry_counts = ?, pending_question = ?, pending_options = ?, plan_json = ?, report_json = ?, error = ?, updated_at = ?
		WHERE id = ?
	`

	job.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		job.Stage,
		job.RetryCounts,
		job.PendingQuestion,
		job.PendingOptions,
		job.PlanJSON,
		job.ReportJSON,
		job.Error,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}

	return nil
}

// ListJobs returns jobs most recent first.
func (s *SQLiteStore) ListJobs(ctx context.Context, stage string, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, source_path, schema_name, stage, retry_counts, pending_question, pending_options, plan_json, report_json, error, created_at, updated_at
		FROM jobs
	`
	args := []any{}
	if stage != "" {
		query += " WHERE stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job := &JobRecord{}
		if err := rows.Scan(
			&job.ID,
			&job.SourcePath,
			&job.SchemaName,
			&job.Stage,
			&job.RetryCounts,
			&job.PendingQuestion,
			&job.PendingOptions,
			&job.PlanJSON,
			&job.ReportJSON,
			&job.Error,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AppendEvent adds an audit-trail entry.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, stage, code, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query, event.JobID, event.Stage, event.Code, event.Message, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a job's audit trail in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string) ([]*JobEvent, error) {
	query := `
		SELECT id, job_id, stage, code, message, created_at
		FROM job_events
		WHERE job_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*JobEvent
	for rows.Next() {
		e := &JobEvent{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.Stage, &e.Code, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertPattern stores or replaces a plan pattern.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p *PatternRecord) error {
	query := `
		INSERT INTO plan_patterns (signature, schema_name, plan_json, uses, successes, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature, schema_name) DO UPDATE SET
			plan_json = excluded.plan_json,
			uses = excluded.uses,
			successes = excluded.successes,
			last_used_at = excluded.last_used_at
	`
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastUsedAt.IsZero() {
		p.LastUsedAt = now
	}
	_, err := s.db.ExecContext(ctx, query, p.Signature, p.SchemaName, p.PlanJSON, p.Uses, p.Successes, p.LastUsedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return nil
}

// GetPattern retrieves a pattern by signature and schema, nil when absent.
func (s *SQLiteStore) GetPattern(ctx context.Context, signature, schemaName string) (*PatternRecord, error) {
	query := `
		SELECT signature, schema_name, plan_json, uses, successes, last_used_at, created_at
		FROM plan_patterns
		WHERE signature = ? AND schema_name = ?
	`
	p := &PatternRecord{}
	err := s.db.QueryRowContext(ctx, query, signature, schemaName).Scan(
		&p.Signature,
		&p.SchemaName,
		&p.PlanJSON,
		&p.Uses,
		&p.Successes,
		&p.LastUsedAt,
		&p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

// RecordPatternUse bumps a pattern's counters.
func (s *SQLiteStore) RecordPatternUse(ctx context.Context, signature, schemaName string, success bool) error {
	query := `
		UPDATE plan_patterns
		SET uses = uses + 1, successes = successes + ?, last_used_at = ?
		WHERE signature = ? AND schema_name = ?
	`
	inc := 0
	if success {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx, query, inc, time.Now().UTC(), signature, schemaName)
	if err != nil {
		return fmt.Errorf("failed to record pattern use: %w", err)
	}
	return nil
}

// CacheGet retrieves cached enrichment values.
func (s *SQLiteStore) CacheGet(ctx context.Context, provider, key string) ([]string, bool, error) {
	query := `SELECT values_json FROM enrichment_cache WHERE provider = ? AND key = ?`

	var raw string
	err := s.db.QueryRowContext(ctx, query, provider, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read enrichment cache: %w", err)
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, false, fmt.Errorf("corrupt enrichment cache entry: %w", err)
	}
	return values, true, nil
}

// CachePut stores enrichment values.
func (s *SQLiteStore) CachePut(ctx context.Context, provider, key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment values: %w", err)
	}
	query := `
		INSERT INTO enrichment_cache (provider, key, values_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider, key) DO UPDATE SET values_json = excluded.values_json
	`
	if _, err := s.db.ExecContext(ctx, query, provider, key, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write enrichment cache: %w", err)
	}
	return nil
}
