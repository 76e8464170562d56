package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:     "cancel <job-id>",
		Short:   "Cancel a job",
		Long:    `Move a non-terminal job to failed_permanently. Cancelled jobs cannot be resumed.`,
		Example: `  sheetforge cancel 4f7c2b1a --reason "superseded by a corrected upload"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.orch.Cancel(ctx, args[0], reason)
			if err != nil {
				return err
			}
			fmt.Printf("job %s cancelled: %s\n", rec.ID, rec.Error)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the job")
	return cmd
}
