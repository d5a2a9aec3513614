package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "rowflow",
	Short: "rowflow - run tables of processing steps",
	Long: `rowflow runs tables of processing steps.

Each row of a table names a processor and the references it reads from and
writes to. A reference is a relative row ("-1"), an absolute row ("$2") or
a resource name ("img{1}.json"). Running a row cascades to the rows below
it; a batch run re-runs the table while advancing the {N} marks in names.

Rows are numbered from 1 on the command line, matching $N references.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rowflow.toml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("rowflow {{.Version}}\n")
}

// parseRow converts a 1-based row argument to a row index.
func parseRow(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid row %q: rows are numbered from 1", arg)
	}
	return n - 1, nil
}
