// Package schema defines target schemas: the strict column contracts that
// transformed datasets must satisfy. Schemas are declared in YAML documents
// or registered in code at startup.
package schema

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ColumnType is the declared data type of a target column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeDate    ColumnType = "date"
	TypeBool    ColumnType = "boolean"
	TypeEmail   ColumnType = "email"
	TypePhone   ColumnType = "phone"
)

// Column describes one column of a target schema.
type Column struct {
	// Name is the column name in the output.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Type is the declared data type.
	Type ColumnType `yaml:"type" json:"type" validate:"required,oneof=string integer float date boolean email phone"`

	// Required marks the column as mandatory: a null cell is a hard error.
	Required bool `yaml:"required" json:"required"`

	// MaxLength bounds the rendered text length. Values past the bound are
	// soft errors (usable but suspicious).
	MaxLength int `yaml:"max_length,omitempty" json:"max_length,omitempty" validate:"gte=0"`

	// Pattern is an optional validation regexp applied to the rendered text.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// AllowedValues restricts the column to an enumerated set.
	AllowedValues []string `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`

	// CommonSourceNames lists header spellings the planner should treat as
	// candidates for this column.
	CommonSourceNames []string `yaml:"common_source_names,omitempty" json:"common_source_names,omitempty"`

	// Hint is free-form guidance for the planner, e.g. a composition such
	// as "CONCATENATE: first_name, last_name".
	Hint string `yaml:"hint,omitempty" json:"hint,omitempty"`

	compiled *regexp.Regexp
}

// MatchesPattern reports whether the rendered text satisfies the column
// pattern. Columns without a pattern always match.
func (c *Column) MatchesPattern(text string) bool {
	if c.Pattern == "" {
		return true
	}
	if c.compiled == nil {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return true
		}
		c.compiled = re
	}
	return c.compiled.MatchString(text)
}

// Schema is a complete target schema definition.
type Schema struct {
	// Name identifies the schema, e.g. "generic_customer".
	Name string `yaml:"name" json:"name" validate:"required"`

	// Version is the schema document version.
	Version string `yaml:"version" json:"version"`

	// Description is optional prose about the schema.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Columns are the target columns in output order.
	Columns []*Column `yaml:"columns" json:"columns" validate:"required,min=1,dive"`

	// UniqueColumns lists columns whose values must be unique across rows.
	UniqueColumns []string `yaml:"unique_columns,omitempty" json:"unique_columns,omitempty"`
}

// Column returns the named column, matching case-insensitively.
func (s *Schema) Column(name string) *Column {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// RequiredColumns returns all columns marked required.
func (s *Schema) RequiredColumns() []*Column {
	var out []*Column
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c)
		}
	}
	return out
}

// ColumnNames returns the declared column names in order.
func (s *Schema) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

var validate = validator.New()

// Validate checks the schema document for structural problems: missing
// names, bad types, uncompilable patterns, unique columns that do not exist.
func (s *Schema) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid schema document: %w", err)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[key] = true
		if c.Pattern != "" {
			if _, err := regexp.Compile(c.Pattern); err != nil {
				return fmt.Errorf("column %q: bad pattern: %w", c.Name, err)
			}
		}
	}
	for _, u := range s.UniqueColumns {
		if s.Column(u) == nil {
			return fmt.Errorf("unique column %q is not declared", u)
		}
	}
	return nil
}

// Load parses and validates a YAML schema document.
func Load(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if s.Version == "" {
		s.Version = "1.0"
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile loads a YAML schema document from disk.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Load(data)
}

// registry of schemas registered at process start. There is no runtime
// mutation after Register calls in init/startup complete.
var registry = map[string]*Schema{}

// Register makes a schema resolvable by name.
func Register(s *Schema) {
	registry[strings.ToLower(s.Name)] = s
}

// Get resolves a registered schema by name, nil if absent.
func Get(name string) *Schema {
	return registry[strings.ToLower(name)]
}
