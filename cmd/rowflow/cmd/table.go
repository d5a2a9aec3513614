package cmd

import (
	"fmt"
	"strconv"

	"github.com/dshills/rowflow/pipeline"
	"github.com/dshills/rowflow/pipeline/builtin"
	"github.com/spf13/cobra"
)

// Table command flags
var (
	tableOut       string
	tableProcessor string
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Show and edit tables",
	Long: `Show and edit table definitions.

Inserting, deleting and moving rows rewrites the references of the other
rows so they keep pointing at the same steps. A reference to a deleted row
falls back to the nearest enabled row above it, or is cleared.`,
}

var tableShowCmd = &cobra.Command{
	Use:   "show <table.yaml>",
	Short: "List the rows of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableShow,
}

var tableInsertCmd = &cobra.Command{
	Use:   "insert <table.yaml> <after>",
	Short: "Insert an empty row after a row (0 prepends)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTableInsert,
}

var tableDeleteCmd = &cobra.Command{
	Use:   "delete <table.yaml> <row>",
	Short: "Delete a row",
	Args:  cobra.ExactArgs(2),
	RunE:  runTableDelete,
}

var tableMoveCmd = &cobra.Command{
	Use:   "move <table.yaml> <from> <to>",
	Short: "Move a row",
	Args:  cobra.ExactArgs(3),
	RunE:  runTableMove,
}

func init() {
	rootCmd.AddCommand(tableCmd)
	tableCmd.AddCommand(tableShowCmd, tableInsertCmd, tableDeleteCmd, tableMoveCmd)

	for _, c := range []*cobra.Command{tableInsertCmd, tableDeleteCmd, tableMoveCmd} {
		c.Flags().StringVarP(&tableOut, "out", "o", "", "Write the edited table here instead of in place")
	}
	tableInsertCmd.Flags().StringVarP(&tableProcessor, "processor", "p", "", "Processor of the new row")
}

// editTable loads the table at path, applies edit and saves the result.
func editTable(path string, edit func(*pipeline.Pipeline) error) error {
	def, err := pipeline.LoadDefinition(path)
	if err != nil {
		return err
	}
	p, err := pipeline.NewFromDefinition(def, builtin.NewRegistry())
	if err != nil {
		return err
	}
	defer p.Close()

	if err := edit(p); err != nil {
		return err
	}

	edited := p.Definition()
	edited.Name = def.Name
	out := tableOut
	if out == "" {
		out = path
	}
	return edited.Save(out)
}

func runTableShow(cmd *cobra.Command, args []string) error {
	def, err := pipeline.LoadDefinition(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if def.Name != "" {
		fmt.Fprintf(out, "%s\n", def.Name)
	}
	for i, sd := range def.Steps {
		state := ""
		if sd.Enabled != nil && !*sd.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(out, "%3d  %-10s in=%-14q out=%-14q%s\n", i+1, processorLabel(sd.Processor), sd.Input, sd.Output, state)
	}
	return nil
}

func runTableInsert(cmd *cobra.Command, args []string) error {
	after, err := strconv.Atoi(args[1])
	if err != nil || after < 0 {
		return fmt.Errorf("invalid row %q", args[1])
	}
	return editTable(args[0], func(p *pipeline.Pipeline) error {
		if _, err := p.InsertRow(after - 1); err != nil {
			return err
		}
		if tableProcessor == "" {
			return nil
		}
		return p.UpdateStep(after, func(cfg *pipeline.StepConfig) {
			cfg.Processor = tableProcessor
		})
	})
}

func runTableDelete(cmd *cobra.Command, args []string) error {
	row, err := parseRow(args[1])
	if err != nil {
		return err
	}
	return editTable(args[0], func(p *pipeline.Pipeline) error {
		return p.DeleteRow(row)
	})
}

func runTableMove(cmd *cobra.Command, args []string) error {
	from, err := parseRow(args[1])
	if err != nil {
		return err
	}
	to, err := parseRow(args[2])
	if err != nil {
		return err
	}
	return editTable(args[0], func(p *pipeline.Pipeline) error {
		return p.MoveRow(from, to)
	})
}
