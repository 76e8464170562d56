package quality

import (
	"testing"

	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/table"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.Load([]byte(`
name: contacts
columns:
  - name: first_name
    type: string
    required: true
    max_length: 10
  - name: email
    type: email
    pattern: '^[a-z0-9._]+@[a-z0-9.]+$'
  - name: age
    type: integer
  - name: tier
    type: string
    allowed_values: [gold, silver, bronze]
unique_columns: [email]
`))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return sch
}

func row(first, email string, age table.Value, tier string) table.Row {
	return table.Row{
		"first_name": table.String(first),
		"email":      table.String(email),
		"age":        age,
		"tier":       table.String(tier),
	}
}

func TestAssessCleanDataset(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("Dulce", "dulce@example.com", table.Int(40), "gold"))
	ds.Append(row("Mara", "mara@example.com", table.Int(25), "silver"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.Status != StatusSuccess {
		t.Fatalf("status = %s, want success; findings %v", rep.Status, rep.Findings)
	}
	if rep.CleanRows != 2 || rep.QualityScore != 100 {
		t.Errorf("clean=%d score=%v", rep.CleanRows, rep.QualityScore)
	}
}

func TestAssessMissingRequiredIsHard(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("", "dulce@example.com", table.Int(40), "gold"))
	ds.Append(row("Mara", "mara@example.com", table.Int(25), "silver"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.HardRows != 1 || rep.CleanRows != 1 {
		t.Fatalf("hard=%d clean=%d, want 1/1", rep.HardRows, rep.CleanRows)
	}
	if rep.Status != StatusPartialSuccess {
		t.Errorf("status = %s, want partial_success", rep.Status)
	}
	if rep.RowSeverity(0) != Hard {
		t.Errorf("row 0 severity = %q, want hard", rep.RowSeverity(0))
	}
	if rep.QualityScore != 50 {
		t.Errorf("score = %v, want 50", rep.QualityScore)
	}
}

func TestAssessSoftFindingsKeepTheRow(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("Dulce", "dulce@example.com", table.Int(40), "platinum"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.Status != StatusSuccess {
		t.Fatalf("status = %s, soft findings must not fail the run", rep.Status)
	}
	if rep.SoftRows != 1 {
		t.Fatalf("soft=%d, want 1", rep.SoftRows)
	}
	if rep.QualityScore != 50 {
		t.Errorf("score = %v, want 50", rep.QualityScore)
	}
	fs := rep.RowFindings(0)
	if len(fs) != 1 || fs[0].Code != CodeNotAllowed {
		t.Errorf("findings = %v", fs)
	}
}

func TestAssessTypeMismatchIsHard(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("Dulce", "dulce@example.com", table.String("forty"), "gold"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.HardRows != 1 {
		t.Fatalf("non-integer age should fail hard: %v", rep.Findings)
	}
	if rep.Findings[0].Code != CodeTypeMismatch {
		t.Errorf("code = %s", rep.Findings[0].Code)
	}
}

func TestAssessDuplicateUniqueColumn(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("Dulce", "dulce@example.com", table.Int(40), "gold"))
	ds.Append(row("Mara", "Dulce@Example.com", table.Int(25), "silver"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.RowSeverity(0) == Hard {
		t.Error("first occurrence should not fail")
	}
	if rep.RowSeverity(1) != Hard {
		t.Error("case-insensitive duplicate should fail hard")
	}
}

func TestAssessFoldsExecutionIssues(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("Dulce", "dulce@example.com", table.Int(40), "gold"))
	ds.Append(row("Mara", "mara@example.com", table.Int(25), "silver"))

	issues := []table.CellIssue{
		{RowIndex: 0, Column: "first_name", Kind: table.IssueParseFailure, RawValue: "???", Detail: "unparseable"},
		{RowIndex: 1, Column: "email", Kind: table.IssueEnrichmentMiss, RawValue: "x", Detail: "no record"},
	}
	rep := NewValidator().Assess(ds, testSchema(t), issues)

	// Required column failure is hard, optional column failure is soft.
	if rep.RowSeverity(0) != Hard {
		t.Errorf("row 0 = %q, want hard", rep.RowSeverity(0))
	}
	if rep.RowSeverity(1) != Soft {
		t.Errorf("row 1 = %q, want soft", rep.RowSeverity(1))
	}
}

func TestAssessFailureThreshold(t *testing.T) {
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("", "a@example.com", table.Int(1), "gold"))
	ds.Append(row("", "b@example.com", table.Int(2), "gold"))
	ds.Append(row("Mara", "c@example.com", table.Int(3), "gold"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.Status != StatusFailure {
		t.Errorf("2/3 hard rows: status = %s, want failure", rep.Status)
	}
}

func TestAssessPartialSuccessNeedsACleanRow(t *testing.T) {
	// One hard row, one soft row: the hard fraction is under the threshold,
	// but with no fully clean row the run must not count as partial success.
	ds := &table.Dataset{Columns: []string{"first_name", "email", "age", "tier"}}
	ds.Append(row("", "a@example.com", table.Int(1), "gold"))
	ds.Append(row("Mara", "b@example.com", table.Int(2), "platinum"))

	rep := NewValidator().Assess(ds, testSchema(t), nil)
	if rep.HardRows != 1 || rep.SoftRows != 1 || rep.CleanRows != 0 {
		t.Fatalf("rows = %d hard / %d soft / %d clean, want 1/1/0", rep.HardRows, rep.SoftRows, rep.CleanRows)
	}
	if rep.Status != StatusFailure {
		t.Errorf("status = %s, want failure (no fully clean row)", rep.Status)
	}
}

func TestAssessEmptyDatasetFails(t *testing.T) {
	rep := NewValidator().Assess(&table.Dataset{}, testSchema(t), nil)
	if rep.Status != StatusFailure {
		t.Errorf("empty dataset: status = %s, want failure", rep.Status)
	}
}
