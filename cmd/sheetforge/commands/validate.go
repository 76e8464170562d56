package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetforge/sheetforge/pkg/engine"
	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/registry"
	"github.com/sheetforge/sheetforge/pkg/schema"
	"github.com/sheetforge/sheetforge/pkg/table"
)

func newValidateCommand() *cobra.Command {
	var schemaName string

	cmd := &cobra.Command{
		Use:   "validate <plan.json> <sheet.csv>",
		Short: "Statically validate a plan against a sheet",
		Long: `Check a plan document against the function catalog, the target schema,
and the sheet's columns, exactly as the pipeline would before executing
it. Nothing is transformed.`,
		Example: `  sheetforge validate plan.json customers.csv --schema generic_customer`,
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			ds, err := table.ReadCSVFile(args[1])
			if err != nil {
				return err
			}
			if schemaName == "" {
				schemaName = p.SchemaName
			}
			sch := schema.Get(schemaName)
			if sch == nil {
				return fmt.Errorf("unknown schema %q", schemaName)
			}

			res := engine.NewValidator(registry.New()).Validate(p, sch, ds.Columns)
			for _, issue := range res.Issues {
				fmt.Printf("- %s\n", issue.Error())
			}
			if !res.OK {
				return fmt.Errorf("plan rejected")
			}
			fmt.Printf("plan accepted (confidence %.2f)\n", res.Confidence)
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaName, "schema", "", "target schema (defaults to the plan's schema)")
	return cmd
}
