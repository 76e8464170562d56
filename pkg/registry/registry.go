// Package registry implements the closed catalog of transformation functions
// available to plans. Every function is pure and parameterized: for the same
// input cells and params it produces the same output. The single exception is
// the AI fallback function, which is flagged non-deterministic so downstream
// retry logic treats its failures differently.
//
// Registration is append-only at process start; plans can never reference a
// function that vanishes mid-execution.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/table"
)

// ErrUnknownFunction is returned by Resolve for an unregistered id.
var ErrUnknownFunction = errors.New("unknown function")

// ErrBadParams wraps parameter validation failures.
var ErrBadParams = errors.New("bad params")

// CellFailure is a per-cell contract failure. The engine records it as a
// CellIssue on the offending cell and continues; it never aborts a step.
type CellFailure struct {
	Kind   table.IssueKind
	Detail string
}

func (e *CellFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// FailNoMatch reports a regex extraction with no match for this cell.
func FailNoMatch(detail string) *CellFailure {
	return &CellFailure{Kind: table.IssueNoMatch, Detail: detail}
}

// FailParse reports a value that could not be parsed as the declared type.
func FailParse(detail string) *CellFailure {
	return &CellFailure{Kind: table.IssueParseFailure, Detail: detail}
}

// ParamKind is the declared type of a function parameter.
type ParamKind string

const (
	ParamString    ParamKind = "string"
	ParamInt       ParamKind = "int"
	ParamFloat     ParamKind = "float"
	ParamBool      ParamKind = "bool"
	ParamStringMap ParamKind = "string_map"
)

// ParamSpec declares one named, typed parameter with an optional default.
type ParamSpec struct {
	Name     string    `json:"name"`
	Kind     ParamKind `json:"kind"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`

	// Enum restricts string parameters to a fixed set.
	Enum []string `json:"enum,omitempty"`
}

// Call carries the evaluation context for one function invocation.
type Call struct {
	// Inputs are the input cells in declared order.
	Inputs []table.Value

	// Params are the validated parameters with defaults applied.
	Params map[string]any

	// Row is the full source row, available to functions with declared
	// row-level dependencies such as CONDITIONAL_FILL.
	Row table.Row
}

// Str returns a string parameter.
func (c Call) Str(name string) string {
	s, _ := c.Params[name].(string)
	return s
}

// Int returns an integer parameter.
func (c Call) Int(name string) int {
	switch v := c.Params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns a boolean parameter.
func (c Call) Bool(name string) bool {
	b, _ := c.Params[name].(bool)
	return b
}

// StrMap returns a string-map parameter.
func (c Call) StrMap(name string) map[string]string {
	switch v := c.Params[name].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
		return out
	}
	return nil
}

// Func evaluates one call, producing exactly OutputArity values.
type Func func(Call) ([]table.Value, error)

// FunctionSpec declares a registry function's contract.
type FunctionSpec struct {
	// ID is the registry key, upper-case by convention.
	ID string `json:"id"`

	// Summary is a one-line description.
	Summary string `json:"summary"`

	// InputArity is the number of input columns consumed. Variadic
	// functions declare their minimum here.
	InputArity int `json:"input_arity"`

	// Variadic permits more inputs than InputArity.
	Variadic bool `json:"variadic,omitempty"`

	// OutputArity is the number of output columns produced. A plan step
	// binding a different number of output columns is rejected.
	OutputArity int `json:"output_arity"`

	// Params declares the parameter schema.
	Params []ParamSpec `json:"params,omitempty"`

	// Deterministic is false only for the AI fallback function.
	Deterministic bool `json:"deterministic"`

	fn Func
}

// ValidateParams type-checks params against the declared schema and returns
// a copy with defaults applied. Unknown keys and type mismatches wrap
// ErrBadParams.
func (s *FunctionSpec) ValidateParams(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Params))
	declared := make(map[string]ParamSpec, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = p
		if p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	for name, raw := range params {
		p, ok := declared[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown param %q", ErrBadParams, s.ID, name)
		}
		v, err := coerceParam(p.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: param %q: %v", ErrBadParams, s.ID, name, err)
		}
		if len(p.Enum) > 0 {
			sv, _ := v.(string)
			if !containsString(p.Enum, sv) {
				return nil, fmt.Errorf("%w: %s: param %q: %q not in %v", ErrBadParams, s.ID, name, sv, p.Enum)
			}
		}
		out[name] = v
	}
	for _, p := range s.Params {
		if p.Required {
			if _, ok := out[p.Name]; !ok {
				return nil, fmt.Errorf("%w: %s: missing required param %q", ErrBadParams, s.ID, p.Name)
			}
		}
	}
	return out, nil
}

func coerceParam(kind ParamKind, raw any) (any, error) {
	switch kind {
	case ParamString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case ParamInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		}
	case ParamFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case ParamBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case ParamStringMap:
		switch v := raw.(type) {
		case map[string]string:
			return v, nil
		case map[string]any:
			out := make(map[string]string, len(v))
			for k, val := range v {
				s, ok := val.(string)
				if !ok {
					return nil, fmt.Errorf("value for %q is not a string", k)
				}
				out[k] = s
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", kind, raw)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Apply validates arity and evaluates the function.
func (s *FunctionSpec) Apply(call Call) ([]table.Value, error) {
	if len(call.Inputs) < s.InputArity || (!s.Variadic && len(call.Inputs) != s.InputArity) {
		return nil, fmt.Errorf("%w: %s: expected %d input(s), got %d", ErrBadParams, s.ID, s.InputArity, len(call.Inputs))
	}
	out, err := s.fn(call)
	if err != nil {
		return nil, err
	}
	if len(out) != s.OutputArity {
		return nil, fmt.Errorf("%s: produced %d value(s), declared %d", s.ID, len(out), s.OutputArity)
	}
	return out, nil
}

// Generator produces a value for the AI fallback function. Implementations
// may call an external model and are therefore non-deterministic.
type Generator interface {
	Generate(prompt string) (string, error)
}

// Registry is the resolved catalog of function specs.
type Registry struct {
	funcs map[string]*FunctionSpec
}

// Option customizes registry construction.
type Option func(*Registry)

// WithGenerator wires the AI fallback backend. Without it, AI_GENERATE fails
// per cell with a parse-failure issue instead of blocking the job.
func WithGenerator(g Generator) Option {
	return func(r *Registry) {
		r.register(aiGenerateSpec(g))
	}
}

// New builds a registry with all built-in functions registered.
func New(opts ...Option) *Registry {
	r := &Registry{funcs: make(map[string]*FunctionSpec)}
	for _, s := range builtinSpecs() {
		r.register(s)
	}
	r.register(aiGenerateSpec(nil))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) register(s *FunctionSpec) {
	r.funcs[strings.ToUpper(s.ID)] = s
}

// Resolve returns the spec for a function id, or ErrUnknownFunction.
func (r *Registry) Resolve(id string) (*FunctionSpec, error) {
	s, ok := r.funcs[strings.ToUpper(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, id)
	}
	return s, nil
}

// List returns all specs sorted by id.
func (r *Registry) List() []*FunctionSpec {
	out := make([]*FunctionSpec, 0, len(r.funcs))
	for _, s := range r.funcs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
