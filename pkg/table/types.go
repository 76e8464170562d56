// Package table provides the tabular data model shared by the transformation
// pipeline: typed cell values, ordered datasets, and per-cell issue records.
package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the scalar type held by a Value.
type Kind string

const (
	// KindNull indicates an empty cell.
	KindNull Kind = "null"

	// KindString indicates a text cell.
	KindString Kind = "string"

	// KindInt indicates an integer cell.
	KindInt Kind = "int"

	// KindFloat indicates a floating-point cell.
	KindFloat Kind = "float"

	// KindBool indicates a boolean cell.
	KindBool Kind = "bool"

	// KindDate indicates a date/time cell.
	KindDate Kind = "date"
)

// Value is a typed scalar cell. The zero Value is null.
type Value struct {
	Kind  Kind      `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Time  time.Time `json:"time,omitempty"`
}

// Null returns an empty cell value.
func Null() Value { return Value{Kind: KindNull} }

// String returns a text cell value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int returns an integer cell value.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float returns a floating-point cell value.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Bool returns a boolean cell value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Date returns a date cell value.
func Date(t time.Time) Value { return Value{Kind: KindDate, Time: t} }

// IsNull reports whether the cell is null or holds only whitespace.
func (v Value) IsNull() bool {
	if v.Kind == "" || v.Kind == KindNull {
		return true
	}
	if v.Kind == KindString {
		return strings.TrimSpace(v.Str) == ""
	}
	return false
}

// Text renders the cell as a string, the form used for CSV output and as the
// input to string-oriented registry functions.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Time.Format("2006-01-02")
	default:
		return ""
	}
}

// Equal reports whether two cells hold the same typed value.
func (v Value) Equal(o Value) bool {
	if v.IsNull() && o.IsNull() {
		return true
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindDate:
		return v.Time.Equal(o.Time)
	default:
		return v == o
	}
}

// Detect parses a raw string into the most specific Value kind.
func Detect(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	switch strings.ToLower(s) {
	case "true", "false":
		b, _ := strconv.ParseBool(strings.ToLower(s))
		return Bool(b)
	}
	return String(raw)
}

// Row maps column names to cell values.
type Row map[string]Value

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is an ordered collection of rows with a declared column order.
// The execution engine never mutates a dataset in place across steps; each
// step produces a fresh snapshot via Clone.
type Dataset struct {
	// Columns is the declared column order.
	Columns []string `json:"columns"`

	// Rows holds the data in source order.
	Rows []Row `json:"rows"`
}

// New creates an empty dataset with the given column order.
func New(columns ...string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, r := range d.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// HasColumn reports whether the dataset declares the column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// EnsureColumn appends the column to the declared order if absent.
func (d *Dataset) EnsureColumn(name string) {
	if !d.HasColumn(name) {
		d.Columns = append(d.Columns, name)
	}
}

// DropColumn removes the column from the declared order and from every row.
func (d *Dataset) DropColumn(name string) {
	cols := d.Columns[:0]
	for _, c := range d.Columns {
		if c != name {
			cols = append(cols, c)
		}
	}
	d.Columns = cols
	for _, r := range d.Rows {
		delete(r, name)
	}
}

// Append adds a row, filling undeclared cells with null.
func (d *Dataset) Append(r Row) {
	if r == nil {
		r = Row{}
	}
	d.Rows = append(d.Rows, r)
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// IssueKind classifies a per-cell failure. Cell issues are recorded, never
// raised: they annotate the offending cell and the job continues.
type IssueKind string

const (
	// IssueNoMatch indicates a regex extraction found no match.
	IssueNoMatch IssueKind = "no_match"

	// IssueParseFailure indicates a value could not be parsed as the
	// declared type (date, number, currency).
	IssueParseFailure IssueKind = "parse_failure"

	// IssueEnrichmentMiss indicates both the cache and the external
	// provider had no answer for a trigger value.
	IssueEnrichmentMiss IssueKind = "enrichment_miss"

	// IssueConstraint indicates a target-schema constraint violation,
	// recorded by the quality validator.
	IssueConstraint IssueKind = "constraint"
)

// CellIssue records a cell-scoped failure emitted by a pipeline step.
type CellIssue struct {
	// RowIndex is the zero-based row position in the dataset.
	RowIndex int `json:"row_index"`

	// Column is the column the issue applies to.
	Column string `json:"column"`

	// Kind classifies the failure.
	Kind IssueKind `json:"kind"`

	// RawValue is the offending input, rendered as text.
	RawValue string `json:"raw_value"`

	// Detail is an optional human-readable explanation.
	Detail string `json:"detail,omitempty"`
}

func (c CellIssue) String() string {
	return fmt.Sprintf("row %d col %q: %s (%q)", c.RowIndex, c.Column, c.Kind, c.RawValue)
}
