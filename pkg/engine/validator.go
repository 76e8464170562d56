package engine

import (
	"fmt"

	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/registry"
	"github.com/sheetforge/sheetforge/pkg/schema"
)

// DefaultConfidenceThreshold rejects plans the planner itself is not sure
// about. A rejected plan never reaches the interpreter.
const DefaultConfidenceThreshold = 0.7

// confidencePenalty is subtracted from the plan's confidence for every soft
// validation finding.
const confidencePenalty = 0.05

// ValidationResult is the outcome of static plan validation.
type ValidationResult struct {
	// OK is true when the plan may be executed.
	OK bool

	// Confidence is the adjusted confidence after soft findings.
	Confidence float64

	// Issues lists every finding, hard and soft.
	Issues []*PipelineError
}

// Err returns the rejection error for a failed validation, nil otherwise.
func (r *ValidationResult) Err() error {
	if r.OK {
		return nil
	}
	for _, issue := range r.Issues {
		if issue.Code != CodeAmbiguousDate {
			return issue
		}
	}
	if len(r.Issues) > 0 {
		return r.Issues[0]
	}
	return NewPlanError(CodeInternal, "plan rejected without findings")
}

// Validator statically checks a plan against the function catalog, the
// target schema, and the source columns before any cell is touched.
type Validator struct {
	Registry  *registry.Registry
	Threshold float64
}

// NewValidator builds a validator with the default confidence threshold.
func NewValidator(reg *registry.Registry) *Validator {
	return &Validator{Registry: reg, Threshold: DefaultConfidenceThreshold}
}

// Validate checks the plan. Hard findings (unknown functions, bad params,
// coverage gaps, dependency violations) reject the plan outright; soft
// findings lower its confidence, and a plan below the threshold is rejected
// with a low-confidence error.
func (v *Validator) Validate(p *plan.Plan, sch *schema.Schema, sourceColumns []string) *ValidationResult {
	res := &ValidationResult{Confidence: p.Confidence}
	hard := 0
	reject := func(e *PipelineError) {
		res.Issues = append(res.Issues, e)
		hard++
	}
	soft := func(e *PipelineError) {
		res.Issues = append(res.Issues, e)
		res.Confidence -= confidencePenalty
	}

	source := make(map[string]bool, len(sourceColumns))
	for _, c := range sourceColumns {
		source[c] = true
	}

	// Mapping coverage: every source column appears exactly once, every
	// mapping names a real source column, and no target column has more than
	// one author.
	mapped := make(map[string]bool, len(p.Mappings))
	authored := make(map[string]string, len(p.Mappings))
	for _, m := range p.Mappings {
		if !m.Action.Valid() {
			reject(NewPlanError(CodeBadParams, fmt.Sprintf("mapping %q: unknown action %q", m.Source, m.Action)).WithColumn(m.Source))
			continue
		}
		if !source[m.Source] {
			reject(NewPlanError(CodeCoverageGap, fmt.Sprintf("mapping references absent source column %q", m.Source)).WithColumn(m.Source))
			continue
		}
		if mapped[m.Source] {
			reject(NewPlanError(CodeCoverageGap, fmt.Sprintf("source column %q mapped twice", m.Source)).WithColumn(m.Source))
			continue
		}
		mapped[m.Source] = true
		switch m.Action {
		case plan.ActionDirect:
			if sch.Column(m.Target) == nil {
				reject(NewPlanError(CodeCoverageGap, fmt.Sprintf("mapping %q targets %q, which is not a column of schema %q", m.Source, m.Target, sch.Name)).WithColumn(m.Source))
				continue
			}
			if prev, dup := authored[m.Target]; dup {
				reject(NewPlanError(CodeCoverageGap, fmt.Sprintf("target column %q written by both %q and %q", m.Target, prev, m.Source)).WithColumn(m.Target))
				continue
			}
			authored[m.Target] = m.Source
		case plan.ActionTransform:
			if m.TransformID == "" {
				reject(NewPlanError(CodeBadParams, fmt.Sprintf("mapping %q uses a transform action without a transform_id", m.Source)).WithColumn(m.Source))
				continue
			}
			if _, ok := p.Step(m.TransformID); !ok {
				reject(NewPlanError(CodeDependencyOrder, fmt.Sprintf("mapping %q references unknown step %q", m.Source, m.TransformID)).WithColumn(m.Source))
			}
		}
	}
	for _, c := range sourceColumns {
		if !mapped[c] {
			reject(NewPlanError(CodeCoverageGap, fmt.Sprintf("source column %q has no mapping", c)).WithColumn(c))
		}
	}

	// Steps: function exists, params type-check, arities line up, and every
	// input column is available at the point the step runs.
	available := make(map[string]bool, len(sourceColumns))
	for _, c := range sourceColumns {
		available[c] = true
	}
	for _, m := range p.Mappings {
		if m.Action == plan.ActionDirect && m.Target != "" {
			available[m.Target] = true
		}
	}
	stepIDs := make(map[string]bool, len(p.Transformations))
	for _, step := range p.Transformations {
		if stepIDs[step.ID] {
			reject(NewPlanError(CodeDependencyOrder, fmt.Sprintf("duplicate step id %q", step.ID)).WithStep(step.ID))
			continue
		}
		stepIDs[step.ID] = true

		spec, err := v.Registry.Resolve(step.Function)
		if err != nil {
			reject(NewPlanError(CodeUnknownFunction, fmt.Sprintf("step %q: %v", step.ID, err)).WithStep(step.ID))
			continue
		}
		if _, err := spec.ValidateParams(step.Params); err != nil {
			reject(NewPlanError(CodeBadParams, fmt.Sprintf("step %q: %v", step.ID, err)).WithStep(step.ID))
		}
		if n := len(step.InputColumns); n < spec.InputArity || (!spec.Variadic && n != spec.InputArity) {
			reject(NewPlanError(CodeBadParams, fmt.Sprintf("step %q: %s takes %d input(s), plan binds %d", step.ID, spec.ID, spec.InputArity, n)).WithStep(step.ID))
		}
		if len(step.OutputColumns) != spec.OutputArity {
			reject(NewPlanError(CodeBadParams, fmt.Sprintf("step %q: %s produces %d column(s), plan binds %d", step.ID, spec.ID, spec.OutputArity, len(step.OutputColumns))).WithStep(step.ID))
		}
		for _, col := range step.InputColumns {
			if !available[col] {
				reject(NewPlanError(CodeDependencyOrder, fmt.Sprintf("step %q consumes %q before any step produces it", step.ID, col)).WithStep(step.ID).WithColumn(col))
			}
		}
		for _, col := range step.OutputColumns {
			available[col] = true
		}

		if needsAmbiguityDeclaration(spec.ID) && !hasParam(step.Params, "ambiguity_preference") {
			soft(NewPlanError(CodeAmbiguousDate, fmt.Sprintf("step %q parses dates without a declared day/month preference", step.ID)).WithStep(step.ID))
		}
	}

	for _, e := range p.Enrichments {
		if e.Strategy != "" && !e.Strategy.Valid() {
			reject(NewPlanError(CodeBadParams, fmt.Sprintf("enrichment %q: unknown strategy %q", e.ID, e.Strategy)).WithStep(e.ID))
		}
		if !available[e.KeyColumn] {
			reject(NewPlanError(CodeDependencyOrder, fmt.Sprintf("enrichment %q keys on absent column %q", e.ID, e.KeyColumn)).WithStep(e.ID).WithColumn(e.KeyColumn))
		}
		if len(e.OutputColumns) == 0 {
			reject(NewPlanError(CodeBadParams, fmt.Sprintf("enrichment %q declares no output columns", e.ID)).WithStep(e.ID))
		}
		for _, col := range e.OutputColumns {
			available[col] = true
		}
	}

	// Required target columns must be produced by something.
	for _, col := range sch.RequiredColumns() {
		if !available[col.Name] {
			reject(NewPlanError(CodeCoverageGap, fmt.Sprintf("required target column %q is never produced", col.Name)).WithColumn(col.Name))
		}
	}

	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if hard == 0 && res.Confidence < v.threshold() {
		res.Issues = append(res.Issues, NewPlanError(CodeLowConfidence,
			fmt.Sprintf("plan confidence %.2f below threshold %.2f", res.Confidence, v.threshold())))
		return res
	}
	res.OK = hard == 0
	return res
}

func (v *Validator) threshold() float64 {
	if v.Threshold > 0 {
		return v.Threshold
	}
	return DefaultConfidenceThreshold
}

func needsAmbiguityDeclaration(funcID string) bool {
	return funcID == "SMART_DATE_PARSE" || funcID == "COMPUTE_DATE_DIFF"
}

func hasParam(params map[string]any, name string) bool {
	_, ok := params[name]
	return ok
}
