// Package plan defines the transformation plan document: the declarative
// artifact produced by a planner, checked by the validator, and interpreted
// by the execution engine. Plans are plain data; nothing here executes.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// MappingAction describes what happens to a source column.
type MappingAction string

const (
	// ActionDirect copies the source column to the target column unchanged.
	ActionDirect MappingAction = "direct"

	// ActionTransform routes the source column through transformation steps.
	ActionTransform MappingAction = "transform"

	// ActionDrop discards the source column.
	ActionDrop MappingAction = "drop"
)

// Valid reports whether the action is one of the declared constants.
func (a MappingAction) Valid() bool {
	switch a {
	case ActionDirect, ActionTransform, ActionDrop:
		return true
	}
	return false
}

// EnrichmentStrategy controls how an enrichment step consults its sources.
type EnrichmentStrategy string

const (
	// StrategyCacheFirst consults the local cache and falls back to the
	// external API on a miss. This is the default.
	StrategyCacheFirst EnrichmentStrategy = "cache_first_then_api"

	// StrategyAPIOnly always calls the external API.
	StrategyAPIOnly EnrichmentStrategy = "api_only"

	// StrategyCacheOnly never leaves the process; misses stay misses.
	StrategyCacheOnly EnrichmentStrategy = "cache_only"
)

// Valid reports whether the strategy is one of the declared constants.
func (s EnrichmentStrategy) Valid() bool {
	switch s {
	case StrategyCacheFirst, StrategyAPIOnly, StrategyCacheOnly:
		return true
	}
	return false
}

// ColumnMapping binds one source column to the target schema.
type ColumnMapping struct {
	// Source is the source column name as it appears in the input sheet.
	Source string `json:"source"`

	// Target is the target schema column. Empty for dropped columns.
	Target string `json:"target,omitempty"`

	// Action is what to do with the column.
	Action MappingAction `json:"action"`

	// TransformID names the transformation step that consumes this column
	// when Action is transform.
	TransformID string `json:"transform_id,omitempty"`
}

// TransformationStep is one registry function invocation over columns.
type TransformationStep struct {
	// ID identifies the step inside the plan. Steps later in the list may
	// consume columns produced by earlier steps, never the reverse.
	ID string `json:"id"`

	// Function is the registry function id.
	Function string `json:"function"`

	// InputColumns are consumed in declared order.
	InputColumns []string `json:"input_columns"`

	// OutputColumns receive the function outputs in declared order. Their
	// count must equal the function's declared output arity.
	OutputColumns []string `json:"output_columns"`

	// Params are the function parameters.
	Params map[string]any `json:"params,omitempty"`
}

// EnrichmentStep fills columns from an external knowledge source keyed by
// one input column.
type EnrichmentStep struct {
	// ID identifies the step inside the plan.
	ID string `json:"id"`

	// Provider names the enrichment provider, e.g. "pincode".
	Provider string `json:"provider"`

	// KeyColumn is the lookup key column.
	KeyColumn string `json:"key_column"`

	// OutputColumns receive the enrichment fields in provider order.
	OutputColumns []string `json:"output_columns"`

	// Strategy controls cache/API consultation. Defaults to cache-first.
	Strategy EnrichmentStrategy `json:"strategy,omitempty"`
}

// Plan is the full transformation plan for one source sheet against one
// target schema. Execution order is fixed: mappings, then transformations in
// list order, then enrichments.
type Plan struct {
	// ID is the plan identifier.
	ID string `json:"id"`

	// SchemaName is the target schema the plan maps into.
	SchemaName string `json:"schema_name"`

	// CreatedBy records the producing planner ("heuristic", "llm", "library").
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt is the production timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Confidence is the planner's self-assessed confidence in [0,1]. The
	// validator may lower it; it never raises it.
	Confidence float64 `json:"confidence"`

	// Mappings covers every source column exactly once.
	Mappings []ColumnMapping `json:"mappings"`

	// Transformations run in list order after mappings.
	Transformations []TransformationStep `json:"transformations,omitempty"`

	// Enrichments run after all transformations.
	Enrichments []EnrichmentStep `json:"enrichments,omitempty"`

	// Notes carries free-form planner remarks for the audit trail.
	Notes string `json:"notes,omitempty"`
}

// New returns an empty plan for the named schema with a fresh id.
func New(schemaName, createdBy string) *Plan {
	return &Plan{
		ID:         uuid.NewString(),
		SchemaName: schemaName,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC(),
	}
}

// Step returns the transformation step with the given id.
func (p *Plan) Step(id string) (*TransformationStep, bool) {
	for i := range p.Transformations {
		if p.Transformations[i].ID == id {
			return &p.Transformations[i], true
		}
	}
	return nil, false
}

// Marshal renders the plan as indented JSON, the storage and wire format.
func (p *Plan) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Unmarshal parses a stored plan document.
func Unmarshal(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return &p, nil
}

// LoadFile reads a plan document from disk.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return Unmarshal(data)
}

// SaveFile writes the plan document to disk.
func (p *Plan) SaveFile(path string) error {
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan %s: %w", path, err)
	}
	return nil
}
