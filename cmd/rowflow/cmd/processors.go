package cmd

import (
	"fmt"
	"strings"

	"github.com/dshills/rowflow/pipeline"
	"github.com/dshills/rowflow/pipeline/builtin"
	"github.com/spf13/cobra"
)

var processorsCmd = &cobra.Command{
	Use:   "processors",
	Short: "List the available processors",
	Args:  cobra.NoArgs,
	RunE:  runProcessors,
}

func init() {
	rootCmd.AddCommand(processorsCmd)
}

func runProcessors(cmd *cobra.Command, args []string) error {
	reg := builtin.NewRegistry()
	out := cmd.OutOrStdout()
	for _, id := range reg.IDs() {
		proc, err := reg.New(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-10s %-7s %s\n", id, proc.Version(), flagNames(proc.Flags()))
	}
	return nil
}

func flagNames(f pipeline.Flags) string {
	var names []string
	for _, fl := range []struct {
		flag pipeline.Flags
		name string
	}{
		{pipeline.FlagNoInput, "no-input"},
		{pipeline.FlagNoOutput, "no-output"},
		{pipeline.FlagStuffAllInputs, "all-inputs"},
		{pipeline.FlagPause, "pause"},
	} {
		if f.Has(fl.flag) {
			names = append(names, fl.name)
		}
	}
	return strings.Join(names, ",")
}
