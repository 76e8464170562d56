package commands

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newAnswerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <job-id> <answer...>",
		Short: "Answer a suspended job's question and resume it",
		Long: `Answer the pending question of a job that exhausted its retry budget.
The answer is handed to the planner as feedback and the job is driven
again from planning.`,
		Example: `  sheetforge answer 4f7c2b1a "dates in this sheet are day-first"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.orch.Resume(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(rec)
			}
			printOutcome(rec, rt.cfg.OutputDir)
			return nil
		},
	}
}
