// Package output renders a validated run into its delivery artifacts: the
// main sheet of shippable rows, the error sheet of rejected rows with their
// findings, and a machine-readable run report.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheetforge/sheetforge/pkg/quality"
	"github.com/sheetforge/sheetforge/pkg/table"
)

// File names of the artifacts written per job.
const (
	MainSheetName  = "main.csv"
	ErrorSheetName = "errors.csv"
	ReportName     = "report.json"
)

// Metadata columns appended to the error sheet.
var errorMetaColumns = []string{"_row", "_error_codes", "_error_details"}

// Report is the serialized run report.
type Report struct {
	JobID       string          `json:"job_id"`
	SchemaName  string          `json:"schema_name"`
	GeneratedAt time.Time       `json:"generated_at"`
	Quality     *quality.Report `json:"quality"`
	MainRows    int             `json:"main_rows"`
	ErrorRows   int             `json:"error_rows"`
	PlanID      string          `json:"plan_id,omitempty"`
	PlanSource  string          `json:"plan_source,omitempty"`
}

// Writer writes job artifacts under a base directory, one subdirectory per
// job.
type Writer struct {
	BaseDir string
}

// NewWriter builds a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{BaseDir: dir}
}

// Artifacts are the paths written for one job.
type Artifacts struct {
	Dir        string
	MainSheet  string
	ErrorSheet string
	Report     string
}

// Write splits the dataset by row severity and writes all three artifacts.
// Clean and soft rows go to the main sheet; hard rows go to the error sheet
// together with their findings.
func (w *Writer) Write(jobID, schemaName, planID, planSource string, ds *table.Dataset, rep *quality.Report) (*Artifacts, error) {
	dir := filepath.Join(w.BaseDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	main := &table.Dataset{Columns: ds.Columns}
	errs := &table.Dataset{Columns: append(append([]string{}, ds.Columns...), errorMetaColumns...)}

	for i, row := range ds.Rows {
		if rep.RowSeverity(i) == quality.Hard {
			annotated := row.Clone()
			codes, details := summarizeFindings(rep.RowFindings(i))
			annotated["_row"] = table.Int(int64(i))
			annotated["_error_codes"] = table.String(codes)
			annotated["_error_details"] = table.String(details)
			errs.Append(annotated)
			continue
		}
		main.Append(row)
	}

	a := &Artifacts{
		Dir:        dir,
		MainSheet:  filepath.Join(dir, MainSheetName),
		ErrorSheet: filepath.Join(dir, ErrorSheetName),
		Report:     filepath.Join(dir, ReportName),
	}
	if err := table.WriteCSVFile(a.MainSheet, main); err != nil {
		return nil, fmt.Errorf("writing main sheet: %w", err)
	}
	if err := table.WriteCSVFile(a.ErrorSheet, errs); err != nil {
		return nil, fmt.Errorf("writing error sheet: %w", err)
	}

	report := Report{
		JobID:       jobID,
		SchemaName:  schemaName,
		GeneratedAt: time.Now().UTC(),
		Quality:     rep,
		MainRows:    main.Len(),
		ErrorRows:   errs.Len(),
		PlanID:      planID,
		PlanSource:  planSource,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(a.Report, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing report: %w", err)
	}
	return a, nil
}

func summarizeFindings(findings []quality.Finding) (codes, details string) {
	var cs, ds []string
	for _, f := range findings {
		if f.Severity != quality.Hard {
			continue
		}
		cs = append(cs, f.Code)
		ds = append(ds, fmt.Sprintf("%s: %s", f.Column, f.Message))
	}
	return strings.Join(cs, ";"), strings.Join(ds, "; ")
}
