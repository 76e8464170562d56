// Package engine provides the deterministic plan interpreter at the core of
// the transformation pipeline, together with the classified error type used
// across the pipeline stages.
package engine

import (
	"errors"
	"fmt"
)

// ErrorScope describes how far an error may propagate. Cell-scoped errors
// never escalate past the offending row and column; plan- and job-scoped
// errors always escalate to the orchestrator, which alone decides retry,
// suspend, or fail.
type ErrorScope string

const (
	// ScopePlan marks errors caught before execution by the plan validator.
	ScopePlan ErrorScope = "plan"

	// ScopeCell marks per-cell failures that are recorded, not raised.
	ScopeCell ErrorScope = "cell"

	// ScopeJob marks structural failures that abort the current execution
	// attempt.
	ScopeJob ErrorScope = "job"
)

// Error codes. The code doubles as the retry class: the orchestrator tracks
// an independent retry budget per code.
const (
	CodeUnknownFunction      = "UNKNOWN_FUNCTION"
	CodeBadParams            = "BAD_PARAMS"
	CodeCoverageGap          = "COVERAGE_GAP"
	CodeLowConfidence        = "LOW_CONFIDENCE"
	CodeDependencyOrder      = "DEPENDENCY_ORDER"
	CodeNoMatch              = "NO_MATCH"
	CodeParseFailure         = "PARSE_FAILURE"
	CodeEnrichmentMiss       = "ENRICHMENT_MISS"
	CodeStepPrecondition     = "STEP_PRECONDITION"
	CodeAmbiguousDate        = "AMBIGUOUS_DATE"
	CodeQualityFailure       = "QUALITY_FAILURE"
	CodeRetryBudgetExhausted = "RETRY_BUDGET_EXHAUSTED"
	CodePlannerFailed        = "PLANNER_FAILED"
	CodeInternal             = "INTERNAL_ERROR"
)

// PipelineError is a classified error with pipeline context.
type PipelineError struct {
	// Scope is the propagation scope.
	Scope ErrorScope `json:"scope"`

	// Code identifies the error class for retry budgeting.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Step is the plan step id the error occurred in, if any.
	Step string `json:"step,omitempty"`

	// Column is the column involved, if any.
	Column string `json:"column,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details carries additional context-specific fields.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", e.Scope, e.Code, e.Message)
	if e.Step != "" {
		msg += fmt.Sprintf(" (step=%s)", e.Step)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" (column=%s)", e.Column)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches on scope and code.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Scope == t.Scope && e.Code == t.Code
}

// NewPlanError creates a plan-scoped error caught before execution.
func NewPlanError(code, message string) *PipelineError {
	return &PipelineError{Scope: ScopePlan, Code: code, Message: message}
}

// NewJobError creates a job-scoped structural error.
func NewJobError(code, message string, err error) *PipelineError {
	return &PipelineError{Scope: ScopeJob, Code: code, Message: message, Err: err}
}

// WithStep adds step context.
func (e *PipelineError) WithStep(step string) *PipelineError {
	e.Step = step
	return e
}

// WithColumn adds column context.
func (e *PipelineError) WithColumn(column string) *PipelineError {
	e.Column = column
	return e
}

// WithDetail adds a detail field.
func (e *PipelineError) WithDetail(key string, value any) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ScopeOf returns the propagation scope of an error, defaulting to job scope
// for unclassified errors so that nothing silently escapes the orchestrator.
func ScopeOf(err error) ErrorScope {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Scope
	}
	return ScopeJob
}

// CodeOf returns the error class code, or CodeInternal for unclassified errors.
func CodeOf(err error) string {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsPlanRejection reports whether the error is a plan-scoped rejection that
// the orchestrator may remediate by replanning.
func IsPlanRejection(err error) bool {
	return ScopeOf(err) == ScopePlan
}
