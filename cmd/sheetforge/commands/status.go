package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var (
		stage      string
		limit      int
		showEvents bool
	)

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show job status",
		Long:  `Without an argument, list recent jobs. With a job id, show that job's record and optionally its audit trail.`,
		Example: `  # List recent jobs
  sheetforge status

  # List suspended jobs only
  sheetforge status --stage awaiting_human

  # Inspect one job with its audit trail
  sheetforge status 4f7c2b1a --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 0 {
				jobs, err := rt.store.ListJobs(ctx, stage, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return json.NewEncoder(os.Stdout).Encode(jobs)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTAGE\tSCHEMA\tSOURCE\tUPDATED")
				for _, job := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						job.ID, job.Stage, job.SchemaName, job.SourcePath, job.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			}

			rec, err := rt.store.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(rec)
			}
			printOutcome(rec, rt.cfg.OutputDir)
			if rec.PendingQuestion != "" {
				fmt.Printf("question: %s\n", rec.PendingQuestion)
			}

			if showEvents {
				events, err := rt.store.ListEvents(ctx, rec.ID)
				if err != nil {
					return err
				}
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSTAGE\tCODE\tMESSAGE")
				for _, ev := range events {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						ev.CreatedAt.Format("15:04:05"), ev.Stage, ev.Code, ev.Message)
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "only list jobs in this stage")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to list")
	cmd.Flags().BoolVar(&showEvents, "events", false, "include the job's audit trail")
	return cmd
}
