package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheetforge/sheetforge/pkg/engine"
	"github.com/sheetforge/sheetforge/pkg/library"
	"github.com/sheetforge/sheetforge/pkg/output"
	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/planner"
	"github.com/sheetforge/sheetforge/pkg/quality"
	"github.com/sheetforge/sheetforge/pkg/registry"
	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/stores"
	"github.com/sheetforge/sheetforge/pkg/table"
)

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const customerCSV = `Full Name,Email ID,Pin,Joining Date,Remarks
Dulce Abril,dulce@example.com,560001,15/10/2017,vip
Mara Hashimoto,mara@example.com,110017,21/05/2015,
Philip Gent,philip@example.com,400001,01/05/2014,call back
`

// fakeGeo answers every pincode lookup with the same triple.
type fakeGeo struct{}

func (fakeGeo) Fields() []string { return []string{"city", "state", "country"} }

func (fakeGeo) Lookup(context.Context, string, plan.EnrichmentStrategy) ([]string, error) {
	return []string{"Bengaluru", "Karnataka", "India"}, nil
}

func newTestOrchestrator(t *testing.T, store *stores.SQLiteStore, pl planner.Planner, exec PlanExecutor, opts ...Option) *Orchestrator {
	t.Helper()
	reg := registry.New()
	if exec == nil {
		exec = engine.NewExecutor(reg, engine.WithEnricher("pincode", fakeGeo{}))
	}
	return New(store, pl, engine.NewValidator(reg), exec, quality.NewValidator(), output.NewWriter(t.TempDir()), opts...)
}

func TestRunCompletesHappyPath(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, planner.NewHeuristic(), nil, WithLibrary(library.New(store)))
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "customers.csv", customerCSV), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Stage(rec.Stage) != StageCompleted {
		t.Fatalf("stage = %s, want completed (error %q)", rec.Stage, rec.Error)
	}
	if rec.ReportJSON == "" {
		t.Error("no quality report persisted")
	}
	var rep quality.Report
	if err := json.Unmarshal([]byte(rec.ReportJSON), &rep); err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.Status != quality.StatusSuccess || rep.TotalRows != 3 {
		t.Errorf("report = %+v", rep)
	}

	events, err := store.ListEvents(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var sawCompleted bool
	for _, ev := range events {
		if ev.Stage == string(StageCompleted) {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("audit trail has no completed transition")
	}
}

func TestRunRemembersAndReplaysPlans(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, planner.NewHeuristic(), nil, WithLibrary(library.New(store)))
	ctx := context.Background()

	first, err := o.Submit(ctx, writeCSV(t, "batch1.csv", customerCSV), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec, err := o.Run(ctx, first.ID); err != nil || Stage(rec.Stage) != StageCompleted {
		t.Fatalf("first run: stage=%s err=%v", rec.Stage, err)
	}

	second, err := o.Submit(ctx, writeCSV(t, "batch2.csv", strings.Replace(customerCSV, "dulce@", "sato@", 1)), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Run(ctx, second.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if Stage(rec.Stage) != StageCompleted {
		t.Fatalf("second run stage = %s (error %q)", rec.Stage, rec.Error)
	}

	p, err := plan.Unmarshal([]byte(rec.PlanJSON))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if p.CreatedBy != "library" {
		t.Errorf("second run planned by %q, want library replay", p.CreatedBy)
	}

	pattern, err := store.GetPattern(ctx, library.Signature([]string{"Full Name", "Email ID", "Pin", "Joining Date", "Remarks"}), "generic_customer")
	if err != nil || pattern == nil {
		t.Fatalf("pattern: %v, %+v", err, pattern)
	}
	if pattern.Uses != 2 || pattern.Successes != 2 {
		t.Errorf("pattern counters = %d/%d, want 2/2", pattern.Successes, pattern.Uses)
	}
}

// stubPlanner replays a fixed sequence of plans, holding the last one, and
// records the feedback it was shown.
type stubPlanner struct {
	plans     []*plan.Plan
	i         int
	feedbacks [][]string
}

func (s *stubPlanner) Propose(_ context.Context, _ *planner.Analysis, _ *schema.Schema, feedback []string) (*plan.Plan, error) {
	s.feedbacks = append(s.feedbacks, append([]string{}, feedback...))
	p := s.plans[s.i]
	if s.i < len(s.plans)-1 {
		s.i++
	}
	return p, nil
}

func directNamePlan(confidence float64) *plan.Plan {
	p := plan.New("generic_customer", "stub")
	p.Confidence = confidence
	p.Mappings = []plan.ColumnMapping{{Source: "name", Target: "first_name", Action: plan.ActionDirect}}
	return p
}

// countingExecutor fails the test of any scenario that should never execute.
type countingExecutor struct {
	calls atomic.Int64
}

func (c *countingExecutor) Execute(_ context.Context, _ *plan.Plan, _ *schema.Schema, ds *table.Dataset) (*table.Dataset, []table.CellIssue, error) {
	c.calls.Add(1)
	return ds, nil, nil
}

func TestLowConfidencePlanNeverExecutes(t *testing.T) {
	store := newTestStore(t)
	exec := &countingExecutor{}
	pl := &stubPlanner{plans: []*plan.Plan{directNamePlan(0.30)}}
	o := newTestOrchestrator(t, store, pl, exec, WithMaxRetries(1))
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "names.csv", "name\nDulce Abril\n"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Stage(rec.Stage) != StageAwaitingHuman {
		t.Fatalf("stage = %s, want awaiting_human", rec.Stage)
	}
	if exec.calls.Load() != 0 {
		t.Errorf("executor ran %d times on a rejected plan", exec.calls.Load())
	}
	if !strings.Contains(rec.PendingQuestion, engine.CodeLowConfidence) {
		t.Errorf("pending question %q does not name the error class", rec.PendingQuestion)
	}
	var opts []string
	if err := json.Unmarshal([]byte(rec.PendingOptions), &opts); err != nil || len(opts) == 0 {
		t.Errorf("pending options = %q, want a JSON array of answer choices", rec.PendingOptions)
	}
}

func TestRetryBudgetsAreIndependentPerClass(t *testing.T) {
	store := newTestStore(t)

	bogus := plan.New("generic_customer", "stub")
	bogus.Confidence = 0.9
	bogus.Mappings = []plan.ColumnMapping{{Source: "name", Action: plan.ActionTransform, TransformID: "t1"}}
	bogus.Transformations = []plan.TransformationStep{{
		ID: "t1", Function: "NOT_A_FUNCTION", InputColumns: []string{"name"}, OutputColumns: []string{"first_name"},
	}}

	pl := &stubPlanner{plans: []*plan.Plan{bogus, bogus, directNamePlan(0.30), directNamePlan(0.92)}}
	o := newTestOrchestrator(t, store, pl, nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "names.csv", "name\nDulce Abril\n"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Stage(rec.Stage) != StageCompleted {
		t.Fatalf("stage = %s, want completed (error %q)", rec.Stage, rec.Error)
	}

	counts := map[string]int{}
	if err := json.Unmarshal([]byte(rec.RetryCounts), &counts); err != nil {
		t.Fatalf("retry counts: %v", err)
	}
	if counts[engine.CodeUnknownFunction] != 2 {
		t.Errorf("%s budget = %d, want 2", engine.CodeUnknownFunction, counts[engine.CodeUnknownFunction])
	}
	if counts[engine.CodeLowConfidence] != 1 {
		t.Errorf("%s budget = %d, want 1", engine.CodeLowConfidence, counts[engine.CodeLowConfidence])
	}

	// Rejected plans must have shown up as planner feedback.
	last := pl.feedbacks[len(pl.feedbacks)-1]
	if len(last) == 0 {
		t.Error("final proposal saw no feedback from earlier rejections")
	}
}

// answerPlanner keeps proposing an unusable plan until the operator's answer
// appears in the feedback.
type answerPlanner struct {
	answer string
	seen   [][]string
}

func (a *answerPlanner) Propose(_ context.Context, _ *planner.Analysis, _ *schema.Schema, feedback []string) (*plan.Plan, error) {
	a.seen = append(a.seen, append([]string{}, feedback...))
	for _, f := range feedback {
		if strings.Contains(f, a.answer) {
			return directNamePlan(0.92), nil
		}
	}
	return directNamePlan(0.30), nil
}

func TestSuspendAndResume(t *testing.T) {
	store := newTestStore(t)
	pl := &answerPlanner{answer: "dates are day-first"}
	o := newTestOrchestrator(t, store, pl, nil, WithMaxRetries(2))
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "names.csv", "name\nDulce Abril\n"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Stage(rec.Stage) != StageAwaitingHuman || rec.PendingQuestion == "" {
		t.Fatalf("stage = %s, question = %q", rec.Stage, rec.PendingQuestion)
	}

	// A second Run must refuse to touch a suspended job.
	if _, err := o.Run(ctx, job.ID); err == nil {
		t.Error("Run on a suspended job should fail")
	}

	rec, err = o.Resume(ctx, job.ID, "dates are day-first")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if Stage(rec.Stage) != StageCompleted {
		t.Fatalf("stage after resume = %s (error %q)", rec.Stage, rec.Error)
	}
	if rec.PendingQuestion != "" || rec.PendingOptions != "" {
		t.Error("pending question survived the resume")
	}

	last := pl.seen[len(pl.seen)-1]
	var sawAnswer bool
	for _, f := range last {
		if strings.Contains(f, "dates are day-first") {
			sawAnswer = true
		}
	}
	if !sawAnswer {
		t.Error("operator answer never reached the planner")
	}
}

func TestResumeRejectsActiveJob(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, planner.NewHeuristic(), nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "names.csv", "name\nDulce Abril\n"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := o.Resume(ctx, job.ID, "whatever"); err == nil {
		t.Error("Resume on a non-suspended job should fail")
	}
}

func TestCancelIsTerminal(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, planner.NewHeuristic(), nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "names.csv", "name\nDulce Abril\n"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Cancel(ctx, job.ID, "superseded by a re-upload")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if Stage(rec.Stage) != StageFailedPermanently || rec.Error == "" {
		t.Errorf("cancelled job: %+v", rec)
	}
	if _, err := o.Cancel(ctx, job.ID, ""); err == nil {
		t.Error("cancelling a terminal job should fail")
	}
	if _, err := o.Resume(ctx, job.ID, "x"); err == nil {
		t.Error("resuming a terminal job should fail")
	}
}

// cancellingExecutor cancels its own job while Execute is in flight, then
// hands the dataset back as if nothing happened.
type cancellingExecutor struct {
	orch  *Orchestrator
	jobID string
	inner PlanExecutor
}

func (e *cancellingExecutor) Execute(ctx context.Context, p *plan.Plan, sch *schema.Schema, ds *table.Dataset) (*table.Dataset, []table.CellIssue, error) {
	if _, err := e.orch.Cancel(ctx, e.jobID, "superseded mid-run"); err != nil {
		return nil, nil, err
	}
	return e.inner.Execute(ctx, p, sch, ds)
}

func TestCancelDuringRunIsObserved(t *testing.T) {
	store := newTestStore(t)
	exec := &cancellingExecutor{inner: &countingExecutor{}}
	pl := &stubPlanner{plans: []*plan.Plan{directNamePlan(0.92)}}
	o := newTestOrchestrator(t, store, pl, exec)
	exec.orch = o
	ctx := context.Background()

	job, err := o.Submit(ctx, writeCSV(t, "names.csv", "name\nDulce Abril\n"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	exec.jobID = job.ID

	rec, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Stage(rec.Stage) != StageFailedPermanently {
		t.Fatalf("stage = %s, want failed_permanently; the cancellation was overwritten", rec.Stage)
	}

	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if Stage(stored.Stage) != StageFailedPermanently || stored.Error != "superseded mid-run" {
		t.Errorf("stored job = %s / %q, want failed_permanently with the cancel reason", stored.Stage, stored.Error)
	}
}

func TestRunFailsPermanentlyOnUnreadableSource(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, planner.NewHeuristic(), nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, filepath.Join(t.TempDir(), "missing.csv"), "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if Stage(rec.Stage) != StageFailedPermanently {
		t.Fatalf("stage = %s, want failed_permanently", rec.Stage)
	}
	if rec.Error == "" {
		t.Error("no error recorded for the failed job")
	}
}

func TestWatcherSweepsExistingSheets(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, planner.NewHeuristic(), nil, WithLibrary(library.New(store)))

	inbox := t.TempDir()
	if err := os.WriteFile(filepath.Join(inbox, "drop.csv"), []byte(customerCSV), 0o644); err != nil {
		t.Fatalf("seeding inbox: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(o, inbox, "", nil)
	w.settle = time.Millisecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	deadline := time.After(10 * time.Second)
	for {
		jobs, err := store.ListJobs(ctx, string(StageCompleted), 10)
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("swept sheet never completed")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
