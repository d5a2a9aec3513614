package cmd

import (
	"errors"
	"fmt"

	"github.com/dshills/rowflow/pipeline"
	"github.com/spf13/cobra"
)

var provenanceRun bool

var provenanceCmd = &cobra.Command{
	Use:   "provenance <table.yaml> <row>",
	Short: "Print the recorded chain of steps up to a row",
	Long: `Print, as JSON, the last recorded run of every row from the first row
down to the given one.

Records come from the configured store, so a sqlite or mysql store shows
the result of earlier runs. With --run the table is run once first.

Examples:
  rowflow provenance resize.yaml 3
  rowflow provenance resize.yaml 3 --run`,
	Args: cobra.ExactArgs(2),
	RunE: runProvenance,
}

func init() {
	rootCmd.AddCommand(provenanceCmd)

	provenanceCmd.Flags().BoolVar(&provenanceRun, "run", false, "Run the table once before printing")
}

func runProvenance(cmd *cobra.Command, args []string) error {
	row, err := parseRow(args[1])
	if err != nil {
		return err
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	p, err := e.openPipeline(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	if provenanceRun {
		runner := pipeline.NewBatchRunner(p, nil)
		if code, err := runner.Run(cmd.Context(), true, true); code != pipeline.NoError {
			return &ExitError{Code: exitStatus(code), Err: err}
		}
	}

	chain, err := p.SerializedChainUpTo(cmd.Context(), row)
	if errors.Is(err, pipeline.ErrNotComputed) {
		return fmt.Errorf("row %d has no recorded run; use --run or a persistent store", row+1)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), chain)
	return nil
}
