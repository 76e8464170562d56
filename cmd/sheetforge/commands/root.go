package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile    string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sheetforge",
		Short: "SheetForge - plan-driven spreadsheet transformation",
		Long: `SheetForge turns messy spreadsheets into clean, schema-conformant output.

A planner maps the source columns onto the target schema as an explicit,
auditable plan built from a closed catalog of transformation functions. The
plan is statically validated, executed deterministically with per-cell error
isolation, and the result is quality-checked before anything ships. Plans
that worked are remembered, so the next sheet from the same system skips
planning entirely.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", "", "dotenv file with service configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newAnswerCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newFunctionsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
