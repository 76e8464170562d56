// Package orchestrator drives jobs through the transformation state machine.
// Every transition is persisted before the next stage runs, so a job can be
// resumed from the store after a restart, an operator answer, or a crash.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sheetforge/sheetforge/pkg/engine"
	"github.com/sheetforge/sheetforge/pkg/library"
	"github.com/sheetforge/sheetforge/pkg/output"
	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/planner"
	"github.com/sheetforge/sheetforge/pkg/quality"
	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/stores"
	"github.com/sheetforge/sheetforge/pkg/table"
	"github.com/sheetforge/sheetforge/pkg/telemetry"
)

// DefaultMaxRetries is the per-error-class retry budget. Each class counts
// its own attempts: three planner failures do not consume the budget of a
// later quality failure.
const DefaultMaxRetries = 3

// Event codes written to the job audit trail.
const (
	eventTransition  = "TRANSITION"
	eventHumanAnswer = "HUMAN_ANSWER"
	eventCancelled   = "CANCELLED"
)

// PlanExecutor interprets a validated plan over a dataset. *engine.Executor
// is the production implementation.
type PlanExecutor interface {
	Execute(ctx context.Context, p *plan.Plan, sch *schema.Schema, ds *table.Dataset) (*table.Dataset, []table.CellIssue, error)
}

// Orchestrator owns the job state machine.
type Orchestrator struct {
	store      stores.Store
	planner    planner.Planner
	validator  *engine.Validator
	executor   PlanExecutor
	quality    *quality.Validator
	library    *library.Library
	writer     *output.Writer
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
	maxRetries int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMaxRetries overrides the per-class retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithLibrary sets the plan library. Without one, every job is planned from
// scratch and nothing is remembered.
func WithLibrary(lib *library.Library) Option {
	return func(o *Orchestrator) { o.library = lib }
}

// New builds an orchestrator over its collaborators.
func New(store stores.Store, pl planner.Planner, val *engine.Validator, exec PlanExecutor, qv *quality.Validator, writer *output.Writer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		planner:    pl,
		validator:  val,
		executor:   exec,
		quality:    qv,
		writer:     writer,
		log:        telemetry.NopLogger(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// jobRun is the in-memory state of one driving pass. Everything in it can be
// rebuilt from the job record plus the source file, so nothing here needs to
// survive a restart.
type jobRun struct {
	rec          *stores.JobRecord
	sch          *schema.Schema
	ds           *table.Dataset
	analysis     *planner.Analysis
	signature    string
	p            *plan.Plan
	fromLibrary  bool
	feedback     []string
	out          *table.Dataset
	issues       []table.CellIssue
	rep          *quality.Report
	stageEntered time.Time
}

// Submit registers a new job for a source sheet. The job starts in the
// ingesting stage; Run drives it from there.
func (o *Orchestrator) Submit(ctx context.Context, sourcePath, schemaName string) (*stores.JobRecord, error) {
	if schemaName == "" {
		schemaName = schema.GenericCustomer.Name
	}
	rec := &stores.JobRecord{
		ID:          uuid.NewString(),
		SourcePath:  sourcePath,
		SchemaName:  schemaName,
		Stage:       string(StageIngesting),
		RetryCounts: "{}",
	}
	if err := o.store.CreateJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}
	o.appendEvent(ctx, rec.ID, StageIngesting, eventTransition, fmt.Sprintf("job accepted for %s", sourcePath))
	o.log.WithJobID(rec.ID).Infof("job submitted for %s (schema %s)", sourcePath, schemaName)
	return rec, nil
}

// Run drives a job until it completes, fails permanently, or suspends for a
// human. The returned record reflects the final persisted state. An error is
// only returned for infrastructure problems (store failures, unknown job);
// pipeline failures end up in the record instead.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*stores.JobRecord, error) {
	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if Stage(rec.Stage).IsTerminal() {
		return rec, nil
	}
	if Stage(rec.Stage) == StageAwaitingHuman {
		return rec, fmt.Errorf("job %s is awaiting a human answer", jobID)
	}

	r := &jobRun{rec: rec, stageEntered: time.Now()}
	if err := o.restore(ctx, r); err != nil {
		return nil, err
	}
	o.metrics.RecordJobStarted(rec.SchemaName)
	log := o.log.WithJobID(rec.ID)

	for {
		stage := Stage(r.rec.Stage)
		if stage.IsTerminal() || stage == StageAwaitingHuman {
			o.metrics.RecordJobCompleted(string(stage), time.Since(rec.CreatedAt))
			o.refreshAwaitingGauge(ctx)
			return r.rec, nil
		}

		next, err := o.step(ctx, r, stage)
		if err != nil {
			log.WithStage(string(stage)).WithError(err).Warn("stage failed")
			next = o.remediate(ctx, r, err)
		}
		if err := o.transition(ctx, r, next); err != nil {
			return nil, err
		}
	}
}

// step runs one stage and names the next one.
func (o *Orchestrator) step(ctx context.Context, r *jobRun, stage Stage) (Stage, error) {
	if err := ctx.Err(); err != nil {
		return "", engine.NewJobError(engine.CodeInternal, "run interrupted", err)
	}
	switch stage {
	case StageIngesting:
		return o.ingest(r)
	case StageAnalyzing:
		return o.analyze(r)
	case StagePlanning:
		return o.plan(ctx, r)
	case StageValidatingPlan:
		return o.validatePlan(r)
	case StageExecuting:
		return o.execute(ctx, r)
	case StageValidatingOutput:
		return o.validateOutput(ctx, r)
	default:
		return "", engine.NewJobError(engine.CodeInternal, fmt.Sprintf("job in unknown stage %q", stage), nil)
	}
}

// restore rebuilds runtime state for a job resumed past ingestion: the
// dataset and analysis are re-derived from the source file, the plan from
// the record, and operator answers from the audit trail.
func (o *Orchestrator) restore(ctx context.Context, r *jobRun) error {
	if Stage(r.rec.Stage) == StageIngesting {
		return nil
	}
	if _, err := o.ingest(r); err != nil {
		return fmt.Errorf("restoring job %s: %w", r.rec.ID, err)
	}
	if _, err := o.analyze(r); err != nil {
		return fmt.Errorf("restoring job %s: %w", r.rec.ID, err)
	}
	if r.rec.PlanJSON != "" {
		p, err := plan.Unmarshal([]byte(r.rec.PlanJSON))
		if err != nil {
			return fmt.Errorf("restoring job %s: stored plan is corrupt: %w", r.rec.ID, err)
		}
		r.p = p
	}
	events, err := o.store.ListEvents(ctx, r.rec.ID)
	if err != nil {
		return fmt.Errorf("restoring job %s: %w", r.rec.ID, err)
	}
	for _, ev := range events {
		if ev.Code == eventHumanAnswer {
			r.feedback = append(r.feedback, ev.Message)
		}
	}
	return nil
}

func (o *Orchestrator) ingest(r *jobRun) (Stage, error) {
	sch := schema.Get(r.rec.SchemaName)
	if sch == nil {
		return "", engine.NewJobError(engine.CodeInternal,
			fmt.Sprintf("unknown target schema %q", r.rec.SchemaName), nil)
	}
	ds, err := table.ReadCSVFile(r.rec.SourcePath)
	if err != nil {
		return "", engine.NewJobError(engine.CodeParseFailure,
			fmt.Sprintf("reading %s", r.rec.SourcePath), err)
	}
	r.sch = sch
	r.ds = ds
	o.log.WithJobID(r.rec.ID).Infof("ingested %d rows, %d columns", ds.Len(), len(ds.Columns))
	return StageAnalyzing, nil
}

func (o *Orchestrator) analyze(r *jobRun) (Stage, error) {
	r.analysis = planner.Analyze(r.ds)
	r.signature = library.Signature(r.ds.Columns)
	return StagePlanning, nil
}

func (o *Orchestrator) plan(ctx context.Context, r *jobRun) (Stage, error) {
	// A remembered plan is only replayed on the first attempt. Once the job
	// has feedback, something about this sheet defeated the pattern and the
	// planner must see that feedback.
	if o.library != nil && len(r.feedback) == 0 {
		match, err := o.library.Lookup(ctx, r.signature, r.rec.SchemaName)
		if err != nil {
			return "", engine.NewJobError(engine.CodeInternal, "plan library lookup", err)
		}
		if match != nil {
			r.p = match.Plan
			r.fromLibrary = true
			o.metrics.RecordPlanProduced("library")
			o.log.WithJobID(r.rec.ID).Infof("replaying remembered plan %s (confidence %.2f)", match.Plan.ID, match.Confidence)
			return o.persistPlan(r)
		}
	}

	p, err := o.planner.Propose(ctx, r.analysis, r.sch, r.feedback)
	if err != nil {
		return "", engine.NewJobError(engine.CodePlannerFailed, "no planner produced a plan", err)
	}
	r.p = p
	r.fromLibrary = false
	o.metrics.RecordPlanProduced(p.CreatedBy)
	return o.persistPlan(r)
}

func (o *Orchestrator) persistPlan(r *jobRun) (Stage, error) {
	data, err := r.p.Marshal()
	if err != nil {
		return "", engine.NewJobError(engine.CodeInternal, "encoding plan", err)
	}
	r.rec.PlanJSON = string(data)
	return StageValidatingPlan, nil
}

func (o *Orchestrator) validatePlan(r *jobRun) (Stage, error) {
	res := o.validator.Validate(r.p, r.sch, r.analysis.ColumnNames())
	if !res.OK {
		o.metrics.RecordPlanValidated("rejected")
		for _, issue := range res.Issues {
			r.feedback = append(r.feedback, issue.Error())
		}
		return "", res.Err()
	}
	o.metrics.RecordPlanValidated("accepted")
	r.p.Confidence = res.Confidence
	return StageExecuting, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *jobRun) (Stage, error) {
	out, issues, err := o.executor.Execute(ctx, r.p, r.sch, r.ds)
	if err != nil {
		return "", err
	}
	r.out = out
	r.issues = issues
	for _, is := range issues {
		o.metrics.RecordCellIssue(string(is.Kind))
	}
	return StageValidatingOutput, nil
}

func (o *Orchestrator) validateOutput(ctx context.Context, r *jobRun) (Stage, error) {
	rep := o.quality.Assess(r.out, r.sch, r.issues)
	r.rep = rep
	if data, err := json.Marshal(rep); err == nil {
		r.rec.ReportJSON = string(data)
	}
	o.metrics.RecordRows("clean", rep.CleanRows)
	o.metrics.RecordRows("soft", rep.SoftRows)
	o.metrics.RecordRows("hard", rep.HardRows)

	if rep.Status == quality.StatusFailure {
		r.feedback = append(r.feedback,
			fmt.Sprintf("output quality failed: %d of %d rows rejected (score %.1f)", rep.HardRows, rep.TotalRows, rep.QualityScore))
		return "", engine.NewJobError(engine.CodeQualityFailure,
			fmt.Sprintf("%d of %d rows failed hard", rep.HardRows, rep.TotalRows), nil)
	}

	if o.writer != nil {
		arts, err := o.writer.Write(r.rec.ID, r.rec.SchemaName, r.p.ID, r.p.CreatedBy, r.out, rep)
		if err != nil {
			return "", engine.NewJobError(engine.CodeInternal, "writing artifacts", err)
		}
		o.log.WithJobID(r.rec.ID).Infof("artifacts written to %s", arts.Dir)
	}
	o.rememberPlan(ctx, r)
	o.log.WithJobID(r.rec.ID).Infof("job finished: %s, quality %.1f", rep.Status, rep.QualityScore)
	return StageCompleted, nil
}

// rememberPlan feeds the run outcome back into the plan library. Library
// failures here are logged, never fatal: the job already succeeded.
func (o *Orchestrator) rememberPlan(ctx context.Context, r *jobRun) {
	if o.library == nil {
		return
	}
	var err error
	if r.fromLibrary {
		err = o.library.RecordOutcome(ctx, r.signature, r.rec.SchemaName, true)
	} else {
		err = o.library.Remember(ctx, r.signature, r.p)
	}
	if err != nil {
		o.log.WithJobID(r.rec.ID).WithError(err).Warn("plan library update failed")
	}
}

// remediate decides the fate of a failed stage: back to planning while the
// error class has retry budget left, suspended for a human once it runs out,
// or failed permanently when replanning cannot possibly help.
func (o *Orchestrator) remediate(ctx context.Context, r *jobRun, err error) Stage {
	class := engine.CodeOf(err)
	r.rec.Error = err.Error()
	o.appendEvent(ctx, r.rec.ID, Stage(r.rec.Stage), class, err.Error())

	// A replayed plan that fails loses its standing before anything else.
	if r.fromLibrary && o.library != nil {
		if rerr := o.library.RecordOutcome(ctx, r.signature, r.rec.SchemaName, false); rerr != nil {
			o.log.WithJobID(r.rec.ID).WithError(rerr).Warn("plan library update failed")
		}
		r.fromLibrary = false
	}

	switch class {
	case engine.CodeParseFailure, engine.CodeInternal:
		// The source file is unreadable or the pipeline itself broke. No
		// plan, however good, fixes that.
		return StageFailedPermanently
	}

	counts := retryCounts(r.rec.RetryCounts)
	counts[class]++
	if data, merr := json.Marshal(counts); merr == nil {
		r.rec.RetryCounts = string(data)
	}

	if counts[class] > o.maxRetries {
		r.rec.PendingQuestion = fmt.Sprintf(
			"Automatic planning failed %d times with %s. Last error: %s. Answer with guidance for the planner, or cancel the job.",
			counts[class]-1, class, err.Error())
		r.rec.PendingOptions = pendingOptions()
		o.log.WithJobID(r.rec.ID).Warnf("retry budget for %s exhausted, suspending for human input", class)
		return StageAwaitingHuman
	}

	o.metrics.RecordRetry(class)
	o.log.WithJobID(r.rec.ID).Infof("replanning (attempt %d/%d for %s)", counts[class], o.maxRetries, class)
	return StagePlanning
}

// transition persists the stage change and records it in the audit trail.
// The persisted stage is re-read first: a Cancel issued while the job was
// running wins the race, and the run stops at whatever terminal stage the
// store already holds instead of overwriting it.
func (o *Orchestrator) transition(ctx context.Context, r *jobRun, next Stage) error {
	stored, err := o.store.GetJob(ctx, r.rec.ID)
	if err != nil {
		return fmt.Errorf("persisting transition to %s: %w", next, err)
	}
	if Stage(stored.Stage).IsTerminal() {
		r.rec = stored
		return nil
	}

	from := Stage(r.rec.Stage)
	o.metrics.RecordStageTransition(string(from), string(next), time.Since(r.stageEntered))
	r.stageEntered = time.Now()
	r.rec.Stage = string(next)
	if next == StageCompleted {
		r.rec.Error = ""
	}
	if err := o.store.UpdateJob(ctx, r.rec); err != nil {
		return fmt.Errorf("persisting transition %s -> %s: %w", from, next, err)
	}
	o.appendEvent(ctx, r.rec.ID, next, eventTransition, fmt.Sprintf("%s -> %s", from, next))
	return nil
}

// Resume answers a suspended job's pending question and drives it again.
// The answer is recorded durably and handed to the planner as feedback, and
// the exhausted class gets a fresh retry budget.
func (o *Orchestrator) Resume(ctx context.Context, jobID, answer string) (*stores.JobRecord, error) {
	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if Stage(rec.Stage) != StageAwaitingHuman {
		return nil, fmt.Errorf("job %s is %s, not awaiting a human answer", jobID, rec.Stage)
	}
	o.appendEvent(ctx, jobID, StageAwaitingHuman, eventHumanAnswer, answer)
	rec.PendingQuestion = ""
	rec.PendingOptions = ""
	rec.RetryCounts = "{}"
	rec.Stage = string(StagePlanning)
	if err := o.store.UpdateJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("resuming job %s: %w", jobID, err)
	}
	o.appendEvent(ctx, jobID, StagePlanning, eventTransition, "resumed with operator guidance")
	o.refreshAwaitingGauge(ctx)
	return o.Run(ctx, jobID)
}

// Cancel moves a non-terminal job to failed_permanently.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, reason string) (*stores.JobRecord, error) {
	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if Stage(rec.Stage).IsTerminal() {
		return nil, fmt.Errorf("job %s already %s", jobID, rec.Stage)
	}
	if reason == "" {
		reason = "cancelled by operator"
	}
	rec.Stage = string(StageFailedPermanently)
	rec.Error = reason
	rec.PendingQuestion = ""
	rec.PendingOptions = ""
	if err := o.store.UpdateJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("cancelling job %s: %w", jobID, err)
	}
	o.appendEvent(ctx, jobID, StageFailedPermanently, eventCancelled, reason)
	o.refreshAwaitingGauge(ctx)
	return rec, nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, jobID string, stage Stage, code, message string) {
	ev := &stores.JobEvent{JobID: jobID, Stage: string(stage), Code: code, Message: message}
	if err := o.store.AppendEvent(ctx, ev); err != nil {
		o.log.WithJobID(jobID).WithError(err).Warn("audit event dropped")
	}
}

// refreshAwaitingGauge recounts suspended jobs. Counting from the store
// keeps the gauge honest across restarts.
func (o *Orchestrator) refreshAwaitingGauge(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	jobs, err := o.store.ListJobs(ctx, string(StageAwaitingHuman), 0)
	if err != nil {
		return
	}
	o.metrics.SetAwaitingHuman(float64(len(jobs)))
}

// pendingOptions is the canned answer menu attached to every suspension, as
// a JSON array. Free-form answers are always accepted too.
func pendingOptions() string {
	data, _ := json.Marshal([]string{
		"Explain a column's meaning or format (e.g. \"dates are day-first\")",
		"Name the source column for a target the planner could not fill",
		"Cancel the job",
	})
	return string(data)
}

func retryCounts(raw string) map[string]int {
	counts := map[string]int{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &counts)
	}
	return counts
}
