package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sheetforge/sheetforge/pkg/orchestrator"
	"github.com/sheetforge/sheetforge/pkg/quality"
	"github.com/sheetforge/sheetforge/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var schemaName string

	cmd := &cobra.Command{
		Use:   "run <sheet.csv>",
		Short: "Transform one sheet and wait for the result",
		Long: `Submit a sheet, drive the job to its end synchronously, and print the
outcome. Artifacts (main sheet, error sheet, report) land under the
configured output directory, in a subdirectory named after the job.`,
		Example: `  # Transform a sheet against the default schema
  sheetforge run customers.csv

  # Transform against a named schema
  sheetforge run vendors.csv --schema generic_customer`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if schemaName == "" {
				schemaName = rt.cfg.SchemaName
			}

			job, err := rt.orch.Submit(ctx, source, schemaName)
			if err != nil {
				return err
			}
			rec, err := rt.orch.Run(ctx, job.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(rec)
			}
			printOutcome(rec, rt.cfg.OutputDir)

			if orchestrator.Stage(rec.Stage) == orchestrator.StageFailedPermanently {
				return fmt.Errorf("job %s failed: %s", rec.ID, rec.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaName, "schema", "", "target schema (defaults to the configured schema)")
	return cmd
}

func printOutcome(rec *stores.JobRecord, outputDir string) {
	fmt.Printf("job:    %s\n", rec.ID)
	fmt.Printf("stage:  %s\n", rec.Stage)

	switch orchestrator.Stage(rec.Stage) {
	case orchestrator.StageCompleted:
		var rep quality.Report
		if err := json.Unmarshal([]byte(rec.ReportJSON), &rep); err == nil {
			fmt.Printf("result: %s (quality %.1f)\n", rep.Status, rep.QualityScore)
			fmt.Printf("rows:   %d clean, %d with caveats, %d rejected\n", rep.CleanRows, rep.SoftRows, rep.HardRows)
		}
		fmt.Printf("output: %s\n", filepath.Join(outputDir, rec.ID))
	case orchestrator.StageAwaitingHuman:
		fmt.Printf("\nThe job needs input:\n  %s\n", rec.PendingQuestion)
		var opts []string
		if err := json.Unmarshal([]byte(rec.PendingOptions), &opts); err == nil {
			for _, opt := range opts {
				fmt.Printf("  - %s\n", opt)
			}
		}
		fmt.Printf("\nAnswer with: sheetforge answer %s \"<your answer>\"\n", rec.ID)
	case orchestrator.StageFailedPermanently:
		fmt.Printf("error:  %s\n", rec.Error)
	}
}
