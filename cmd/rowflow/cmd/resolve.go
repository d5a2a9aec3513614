package cmd

import (
	"fmt"
	"io"

	"github.com/dshills/rowflow/pipeline"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <table.yaml> <row>",
	Short: "Show what the references of a row point to",
	Long: `Resolve the input, output and auxiliary references of a row against the
current table, skipping disabled rows the way a run does.

Examples:
  rowflow resolve resize.yaml 3`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	row, err := parseRow(args[1])
	if err != nil {
		return err
	}
	def, err := pipeline.LoadDefinition(args[0])
	if err != nil {
		return err
	}
	if row >= len(def.Steps) {
		return fmt.Errorf("row %d out of range (table has %d rows)", row+1, len(def.Steps))
	}

	enabled := make([]bool, len(def.Steps))
	for i, sd := range def.Steps {
		enabled[i] = sd.Enabled == nil || *sd.Enabled
	}

	sd := def.Steps[row]
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Row %d (%s)\n", row+1, processorLabel(sd.Processor))
	printResolved(out, "input", sd.Input, row, enabled, def)
	printResolved(out, "output", sd.Output, row, enabled, def)
	for _, aux := range sd.Aux {
		printResolved(out, "aux "+aux.Name, aux.Ref, row, enabled, def)
	}
	return nil
}

func printResolved(out io.Writer, label, ref string, row int, enabled []bool, def *pipeline.Definition) {
	if ref == "" {
		fmt.Fprintf(out, "  %-12s (none)\n", label)
		return
	}
	target, err := pipeline.Resolve(ref, row, enabled)
	switch {
	case err != nil:
		fmt.Fprintf(out, "  %-12s %-12s error: %v\n", label, ref, err)
	case target.IsNamed():
		fmt.Fprintf(out, "  %-12s %-12s resource %s\n", label, ref, target.Name)
	default:
		fmt.Fprintf(out, "  %-12s %-12s row %d (%s)\n", label, ref, target.Row+1, processorLabel(def.Steps[target.Row].Processor))
	}
}

func processorLabel(id string) string {
	if id == "" {
		return "empty"
	}
	return id
}
