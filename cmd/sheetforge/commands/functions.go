package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sheetforge/sheetforge/pkg/registry"
)

func newFunctionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the transformation function catalog",
		Long: `List every function a plan may use. Plans referencing anything outside
this catalog are rejected before execution.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			specs := registry.New().List()
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(specs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FUNCTION\tIN\tOUT\tSUMMARY")
			for _, spec := range specs {
				in := fmt.Sprintf("%d", spec.InputArity)
				if spec.Variadic {
					in += "+"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", spec.ID, in, spec.OutputArity, spec.Summary)
			}
			return w.Flush()
		},
	}
}
