package output

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/sheetforge/sheetforge/pkg/quality"
	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/table"
)

func TestWriteSplitsRowsBySeverity(t *testing.T) {
	sch, err := schema.Load([]byte(`
name: contacts
columns:
  - name: first_name
    type: string
    required: true
  - name: email
    type: email
`))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	ds := &table.Dataset{Columns: []string{"first_name", "email"}}
	ds.Append(table.Row{"first_name": table.String("Dulce"), "email": table.String("dulce@example.com")})
	ds.Append(table.Row{"first_name": table.String(""), "email": table.String("x@example.com")})
	ds.Append(table.Row{"first_name": table.String("Mara"), "email": table.String("mara@example.com")})

	rep := quality.NewValidator().Assess(ds, sch, nil)
	if rep.HardRows != 1 {
		t.Fatalf("fixture expects one hard row, got %d", rep.HardRows)
	}

	w := NewWriter(t.TempDir())
	arts, err := w.Write("job-1", "contacts", "plan-1", "heuristic", ds, rep)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	main, err := table.ReadCSVFile(arts.MainSheet)
	if err != nil {
		t.Fatalf("reading main sheet: %v", err)
	}
	if main.Len() != 2 {
		t.Errorf("main rows = %d, want 2", main.Len())
	}
	for _, row := range main.Rows {
		if row["first_name"].IsNull() {
			t.Error("hard row leaked into the main sheet")
		}
	}

	errs, err := table.ReadCSVFile(arts.ErrorSheet)
	if err != nil {
		t.Fatalf("reading error sheet: %v", err)
	}
	if errs.Len() != 1 {
		t.Fatalf("error rows = %d, want 1", errs.Len())
	}
	if !errs.HasColumn("_error_codes") {
		t.Error("error sheet missing findings metadata")
	}
	if got := errs.Rows[0]["_error_codes"].Text(); got != quality.CodeMissingRequired {
		t.Errorf("_error_codes = %q", got)
	}

	raw, err := os.ReadFile(arts.Report)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("parsing report: %v", err)
	}
	if report.MainRows != 2 || report.ErrorRows != 1 {
		t.Errorf("report counts %d/%d, want 2/1", report.MainRows, report.ErrorRows)
	}
	if report.Quality == nil || report.Quality.Status != quality.StatusPartialSuccess {
		t.Errorf("report quality: %+v", report.Quality)
	}
	if report.PlanSource != "heuristic" {
		t.Errorf("plan source = %q", report.PlanSource)
	}
}
