package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/registry"
	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/table"
)

// Enricher serves lookups for one enrichment provider. Implementations own
// their caching, rate limiting, and timeouts; the engine only distinguishes
// a hit from a miss.
type Enricher interface {
	// Fields returns the provider's output fields in a fixed order. A plan's
	// enrichment step binds its output columns to this order positionally.
	Fields() []string

	// Lookup resolves one key to field values in Fields order. A miss is
	// reported as an error; the engine records it against the cell and
	// moves on.
	Lookup(ctx context.Context, key string, strategy plan.EnrichmentStrategy) ([]string, error)
}

// Executor is the deterministic plan interpreter. Given the same plan and
// the same input dataset it produces the same output dataset; the only
// nondeterminism it tolerates is inside explicitly nondeterministic registry
// functions and enrichment providers.
type Executor struct {
	registry  *registry.Registry
	enrichers map[string]Enricher
	workers   int
	log       zerolog.Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithEnricher registers an enrichment provider under its name.
func WithEnricher(name string, e Enricher) ExecutorOption {
	return func(x *Executor) { x.enrichers[name] = e }
}

// WithWorkers sets the per-step row concurrency.
func WithWorkers(n int) ExecutorOption {
	return func(x *Executor) {
		if n > 0 {
			x.workers = n
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(log zerolog.Logger) ExecutorOption {
	return func(x *Executor) { x.log = log }
}

// NewExecutor builds an executor over the function catalog.
func NewExecutor(reg *registry.Registry, opts ...ExecutorOption) *Executor {
	x := &Executor{
		registry:  reg,
		enrichers: make(map[string]Enricher),
		workers:   runtime.NumCPU(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute interprets the plan over the dataset and projects the result onto
// the target schema's columns. Cell-level failures are collected as issues
// and never abort the run; structural failures (a step consuming a column
// that does not exist, an unregistered enrichment provider) abort with a
// job-scoped error.
//
// Row count and order are preserved: output row i derives from input row i.
func (x *Executor) Execute(ctx context.Context, p *plan.Plan, sch *schema.Schema, ds *table.Dataset) (*table.Dataset, []table.CellIssue, error) {
	ws := ds.Clone()
	var issues []table.CellIssue
	var mu sync.Mutex

	record := func(is table.CellIssue) {
		mu.Lock()
		issues = append(issues, is)
		mu.Unlock()
	}

	for _, m := range p.Mappings {
		if m.Action != plan.ActionDirect || m.Target == "" || m.Target == m.Source {
			continue
		}
		if !ws.HasColumn(m.Source) {
			return nil, nil, NewJobError(CodeStepPrecondition,
				fmt.Sprintf("mapping source column %q not in dataset", m.Source), nil).WithColumn(m.Source)
		}
		ws.EnsureColumn(m.Target)
		for i := range ws.Rows {
			ws.Rows[i][m.Target] = ws.Rows[i][m.Source]
		}
	}

	for i := range p.Transformations {
		step := &p.Transformations[i]
		if err := x.runStep(ctx, step, ws, record); err != nil {
			return nil, nil, err
		}
	}

	for i := range p.Enrichments {
		step := &p.Enrichments[i]
		if err := x.runEnrichment(ctx, step, ws, record); err != nil {
			return nil, nil, err
		}
	}

	out := &table.Dataset{Columns: sch.ColumnNames(), Rows: make([]table.Row, len(ws.Rows))}
	for i, row := range ws.Rows {
		projected := make(table.Row, len(out.Columns))
		for _, col := range out.Columns {
			if v, ok := row[col]; ok {
				projected[col] = v
			} else {
				projected[col] = table.Null()
			}
		}
		out.Rows[i] = projected
	}

	sort.SliceStable(issues, func(a, b int) bool { return issues[a].RowIndex < issues[b].RowIndex })
	return out, issues, nil
}

// runStep evaluates one transformation step across all rows. Each step reads
// a snapshot taken before the step started, so a step never observes its own
// writes.
func (x *Executor) runStep(ctx context.Context, step *plan.TransformationStep, ws *table.Dataset, record func(table.CellIssue)) error {
	spec, err := x.registry.Resolve(step.Function)
	if err != nil {
		return NewJobError(CodeStepPrecondition, fmt.Sprintf("step %q", step.ID), err).WithStep(step.ID)
	}
	params, err := spec.ValidateParams(step.Params)
	if err != nil {
		return NewJobError(CodeBadParams, fmt.Sprintf("step %q", step.ID), err).WithStep(step.ID)
	}
	for _, col := range step.InputColumns {
		if !ws.HasColumn(col) {
			return NewJobError(CodeStepPrecondition,
				fmt.Sprintf("step %q consumes absent column %q", step.ID, col), nil).WithStep(step.ID).WithColumn(col)
		}
	}

	snapshot := ws.Clone()
	for _, col := range step.OutputColumns {
		ws.EnsureColumn(col)
	}

	x.log.Debug().Str("step", step.ID).Str("function", spec.ID).Int("rows", len(ws.Rows)).Msg("running step")

	return x.forEachRow(ctx, len(ws.Rows), func(i int) error {
		src := snapshot.Rows[i]
		inputs := make([]table.Value, len(step.InputColumns))
		for j, col := range step.InputColumns {
			inputs[j] = src[col]
		}
		out, err := spec.Apply(registry.Call{Inputs: inputs, Params: params, Row: src})
		if err != nil {
			var cf *registry.CellFailure
			if errors.As(err, &cf) {
				record(table.CellIssue{
					RowIndex: i,
					Column:   step.InputColumns[0],
					Kind:     cf.Kind,
					RawValue: inputs[0].Text(),
					Detail:   cf.Detail,
				})
				for _, col := range step.OutputColumns {
					ws.Rows[i][col] = table.Null()
				}
				return nil
			}
			return NewJobError(CodeOf(err), fmt.Sprintf("step %q row %d", step.ID, i), err).WithStep(step.ID)
		}
		for j, col := range step.OutputColumns {
			ws.Rows[i][col] = out[j]
		}
		return nil
	})
}

// runEnrichment resolves one enrichment step across all rows.
func (x *Executor) runEnrichment(ctx context.Context, step *plan.EnrichmentStep, ws *table.Dataset, record func(table.CellIssue)) error {
	enricher, ok := x.enrichers[step.Provider]
	if !ok {
		return NewJobError(CodeStepPrecondition,
			fmt.Sprintf("enrichment %q: no provider %q registered", step.ID, step.Provider), nil).WithStep(step.ID)
	}
	if !ws.HasColumn(step.KeyColumn) {
		return NewJobError(CodeStepPrecondition,
			fmt.Sprintf("enrichment %q keys on absent column %q", step.ID, step.KeyColumn), nil).WithStep(step.ID).WithColumn(step.KeyColumn)
	}
	strategy := step.Strategy
	if strategy == "" {
		strategy = plan.StrategyCacheFirst
	}
	for _, col := range step.OutputColumns {
		ws.EnsureColumn(col)
	}

	x.log.Debug().Str("step", step.ID).Str("provider", step.Provider).Msg("running enrichment")

	return x.forEachRow(ctx, len(ws.Rows), func(i int) error {
		miss := func(raw, detail string) {
			record(table.CellIssue{
				RowIndex: i,
				Column:   step.KeyColumn,
				Kind:     table.IssueEnrichmentMiss,
				RawValue: raw,
				Detail:   detail,
			})
			for _, col := range step.OutputColumns {
				ws.Rows[i][col] = table.Null()
			}
		}

		key := ws.Rows[i][step.KeyColumn]
		if key.IsNull() {
			miss("", "empty key")
			return nil
		}
		values, err := enricher.Lookup(ctx, key.Text(), strategy)
		if err != nil {
			if ctx.Err() != nil {
				return NewJobError(CodeInternal, "enrichment interrupted", ctx.Err()).WithStep(step.ID)
			}
			miss(key.Text(), err.Error())
			return nil
		}
		for j, col := range step.OutputColumns {
			if j < len(values) {
				ws.Rows[i][col] = table.String(values[j])
			} else {
				ws.Rows[i][col] = table.Null()
			}
		}
		return nil
	})
}

// forEachRow runs fn over row indexes with bounded concurrency, checking for
// cancellation between rows. The first structural error wins; the rest of
// the in-flight rows drain.
func (x *Executor) forEachRow(ctx context.Context, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	workers := x.workers
	if workers > n {
		workers = n
	}

	indexes := make(chan int)
	errs := make(chan error, workers)
	var failed atomic.Bool
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if failed.Load() {
					continue
				}
				if err := fn(i); err != nil {
					failed.Store(true)
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewJobError(CodeInternal, "execution interrupted", err)
	}
	return nil
}
