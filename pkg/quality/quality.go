// Package quality assesses a transformed dataset against its target schema.
// It classifies findings as hard (the row cannot ship) or soft (the row
// ships with a caveat) and aggregates them into a quality report that the
// orchestrator uses to decide the fate of the job.
package quality

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/table"
)

// Severity classifies a finding.
type Severity string

const (
	// Hard findings exclude the row from the main output.
	Hard Severity = "hard"

	// Soft findings keep the row in the main output, annotated.
	Soft Severity = "soft"
)

// Finding codes.
const (
	CodeMissingRequired  = "MISSING_REQUIRED"
	CodePatternMismatch  = "PATTERN_MISMATCH"
	CodeTypeMismatch     = "TYPE_MISMATCH"
	CodeDuplicateValue   = "DUPLICATE_VALUE"
	CodeTooLong          = "TOO_LONG"
	CodeNotAllowed       = "VALUE_NOT_ALLOWED"
	CodeTransformFailure = "TRANSFORM_FAILURE"
	CodeEnrichmentMiss   = "ENRICHMENT_MISS"
)

// Status summarizes the whole run.
type Status string

const (
	// StatusSuccess means every row shipped clean or soft.
	StatusSuccess Status = "success"

	// StatusPartialSuccess means some rows failed hard, but not enough to
	// sink the run.
	StatusPartialSuccess Status = "partial_success"

	// StatusFailure means the hard-failure fraction crossed the threshold.
	StatusFailure Status = "failure"
)

// DefaultFailureThreshold is the hard-row fraction at which a run stops
// counting as partial success and becomes a failure.
const DefaultFailureThreshold = 0.5

// Finding is one validation finding against one cell.
type Finding struct {
	// RowIndex is the zero-based row.
	RowIndex int `json:"row_index"`

	// Column is the target column.
	Column string `json:"column"`

	// Severity classifies the finding.
	Severity Severity `json:"severity"`

	// Code is the machine-readable finding class.
	Code string `json:"code"`

	// Message is the human-readable explanation.
	Message string `json:"message"`

	// Value is the offending rendered value.
	Value string `json:"value,omitempty"`
}

// Report is the aggregated quality assessment for one dataset.
type Report struct {
	// Status is the overall verdict.
	Status Status `json:"status"`

	// TotalRows is the dataset row count.
	TotalRows int `json:"total_rows"`

	// CleanRows shipped with no findings at all.
	CleanRows int `json:"clean_rows"`

	// SoftRows shipped with at least one soft finding and no hard ones.
	SoftRows int `json:"soft_rows"`

	// HardRows were excluded from the main output.
	HardRows int `json:"hard_rows"`

	// QualityScore is in [0,100]: clean rows count fully, soft rows half,
	// hard rows not at all.
	QualityScore float64 `json:"quality_score"`

	// Findings lists every finding in row order.
	Findings []Finding `json:"findings,omitempty"`

	rowSeverity []Severity
}

// RowSeverity returns the worst severity for a row, or "" for a clean row.
func (r *Report) RowSeverity(i int) Severity {
	if i < 0 || i >= len(r.rowSeverity) {
		return ""
	}
	return r.rowSeverity[i]
}

// RowFindings returns all findings for one row.
func (r *Report) RowFindings(i int) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.RowIndex == i {
			out = append(out, f)
		}
	}
	return out
}

// Validator assesses datasets against a target schema.
type Validator struct {
	// FailureThreshold is the hard-row fraction above which the run fails.
	FailureThreshold float64
}

// NewValidator builds a validator with the default failure threshold.
func NewValidator() *Validator {
	return &Validator{FailureThreshold: DefaultFailureThreshold}
}

// Assess validates every row of the dataset against the schema and folds in
// the cell issues recorded during execution. Execution issues on a required
// column are hard; on optional columns they are soft.
func (v *Validator) Assess(ds *table.Dataset, sch *schema.Schema, execIssues []table.CellIssue) *Report {
	rep := &Report{
		TotalRows:   ds.Len(),
		rowSeverity: make([]Severity, ds.Len()),
	}
	add := func(f Finding) {
		rep.Findings = append(rep.Findings, f)
		if f.RowIndex < 0 || f.RowIndex >= len(rep.rowSeverity) {
			return
		}
		if f.Severity == Hard || rep.rowSeverity[f.RowIndex] == "" {
			rep.rowSeverity[f.RowIndex] = f.Severity
		}
	}

	for _, is := range execIssues {
		sev := Soft
		col := sch.Column(is.Column)
		if col != nil && col.Required {
			sev = Hard
		}
		code := CodeTransformFailure
		if is.Kind == table.IssueEnrichmentMiss {
			code = CodeEnrichmentMiss
		}
		add(Finding{
			RowIndex: is.RowIndex,
			Column:   is.Column,
			Severity: sev,
			Code:     code,
			Message:  is.Detail,
			Value:    is.RawValue,
		})
	}

	for i, row := range ds.Rows {
		for _, col := range sch.Columns {
			val, ok := row[col.Name]
			if !ok || val.IsNull() {
				if col.Required {
					add(Finding{RowIndex: i, Column: col.Name, Severity: Hard, Code: CodeMissingRequired,
						Message: fmt.Sprintf("required column %q is empty", col.Name)})
				}
				continue
			}
			text := val.Text()
			if !typeMatches(col.Type, val) {
				add(Finding{RowIndex: i, Column: col.Name, Severity: Hard, Code: CodeTypeMismatch,
					Message: fmt.Sprintf("%q is not a valid %s", text, col.Type), Value: text})
				continue
			}
			if !col.MatchesPattern(text) {
				sev := Soft
				if col.Required {
					sev = Hard
				}
				add(Finding{RowIndex: i, Column: col.Name, Severity: sev, Code: CodePatternMismatch,
					Message: fmt.Sprintf("%q does not match pattern %s", text, col.Pattern), Value: text})
			}
			if col.MaxLength > 0 && len(text) > col.MaxLength {
				add(Finding{RowIndex: i, Column: col.Name, Severity: Soft, Code: CodeTooLong,
					Message: fmt.Sprintf("value exceeds max length %d", col.MaxLength), Value: text})
			}
			if len(col.AllowedValues) > 0 && !allowed(col.AllowedValues, text) {
				add(Finding{RowIndex: i, Column: col.Name, Severity: Soft, Code: CodeNotAllowed,
					Message: fmt.Sprintf("%q is not an allowed value", text), Value: text})
			}
		}
	}

	// Uniqueness: the first occurrence keeps the value, later duplicates
	// fail hard.
	for _, colName := range sch.UniqueColumns {
		seen := make(map[string]int, ds.Len())
		for i, row := range ds.Rows {
			val, ok := row[colName]
			if !ok || val.IsNull() {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(val.Text()))
			if first, dup := seen[key]; dup {
				add(Finding{RowIndex: i, Column: colName, Severity: Hard, Code: CodeDuplicateValue,
					Message: fmt.Sprintf("duplicate of row %d", first), Value: val.Text()})
				continue
			}
			seen[key] = i
		}
	}

	for _, sev := range rep.rowSeverity {
		switch sev {
		case Hard:
			rep.HardRows++
		case Soft:
			rep.SoftRows++
		default:
			rep.CleanRows++
		}
	}
	if rep.TotalRows > 0 {
		rep.QualityScore = 100 * (float64(rep.CleanRows) + 0.5*float64(rep.SoftRows)) / float64(rep.TotalRows)
	}

	threshold := v.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	switch {
	case rep.TotalRows == 0:
		rep.Status = StatusFailure
	case rep.HardRows == 0:
		rep.Status = StatusSuccess
	case float64(rep.HardRows)/float64(rep.TotalRows) > threshold:
		rep.Status = StatusFailure
	case rep.CleanRows == 0:
		// Hard failures within budget, but nothing shipped fully clean:
		// partial success needs at least one clean row to anchor it.
		rep.Status = StatusFailure
	default:
		rep.Status = StatusPartialSuccess
	}
	return rep
}

func typeMatches(t schema.ColumnType, v table.Value) bool {
	text := strings.TrimSpace(v.Text())
	switch t {
	case schema.TypeInteger:
		if v.Kind == table.KindInt {
			return true
		}
		_, err := strconv.ParseInt(text, 10, 64)
		return err == nil
	case schema.TypeFloat:
		if v.Kind == table.KindFloat || v.Kind == table.KindInt {
			return true
		}
		_, err := strconv.ParseFloat(text, 64)
		return err == nil
	case schema.TypeBool:
		if v.Kind == table.KindBool {
			return true
		}
		_, err := strconv.ParseBool(strings.ToLower(text))
		return err == nil
	case schema.TypeDate:
		return v.Kind == table.KindDate
	default:
		// string, email, phone: any text is type-correct; patterns carry
		// the real constraint.
		return true
	}
}

func allowed(values []string, text string) bool {
	for _, v := range values {
		if strings.EqualFold(v, text) {
			return true
		}
	}
	return false
}
