package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/rowflow/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Run command flags
var (
	runSingle      bool
	runEmit        string
	runMetricsAddr string
	runRoot        string
)

var runCmd = &cobra.Command{
	Use:   "run <table.yaml>",
	Short: "Run a table as a batch",
	Long: `Run every row of a table, then advance the {N} marks in resource names
and processor parameters and run again, until an input is exhausted.

Exit status is 0 when the batch finishes, 1 on a step or reference error,
and 130 when interrupted.

Examples:
  rowflow run resize.yaml                 # Batch over img{1}.json, img{2}.json, ...
  rowflow run resize.yaml --single        # One pass, no advancing
  rowflow run resize.yaml --emit text     # Print step events
  rowflow run resize.yaml --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSingle, "single", false, "Run the table once without resetting or advancing")
	runCmd.Flags().StringVar(&runEmit, "emit", "null", "Event output: null, text, json, slog or otel")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	runCmd.Flags().StringVar(&runRoot, "root", "", "Directory resource names are read from (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if runRoot != "" {
		e.cfg.Resources.Root = runRoot
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter, shutdown, err := newEmitter(runEmit, cmd.OutOrStdout(), e.logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			e.logger.Warn("emitter shutdown failed", "error", err)
		}
	}()
	opts := []pipeline.Option{pipeline.WithEmitter(emitter)}

	addr := e.cfg.Metrics.Addr
	if runMetricsAddr != "" {
		addr = runMetricsAddr
	}
	if addr != "" {
		registry := prometheus.NewRegistry()
		opts = append(opts, pipeline.WithMetrics(pipeline.NewPrometheusMetrics(registry)))
		srv := serveMetrics(addr, registry, e.logger)
		defer func() { _ = srv.Close() }()
	}

	p, err := e.openPipeline(args[0], opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	runner := pipeline.NewBatchRunner(p, nil)
	stopCancel := context.AfterFunc(ctx, runner.Cancel)
	defer stopCancel()

	start := time.Now()
	code, runErr := runner.Run(ctx, true, runSingle)
	e.logger.Info("batch finished",
		"pipeline_id", p.ID(),
		"exit_code", code.String(),
		"iterations", runner.Iterations(),
		"duration", time.Since(start))

	fmt.Fprintf(cmd.OutOrStdout(), "%s after %d iteration(s)\n", code, runner.Iterations())
	if code != pipeline.NoError {
		return &ExitError{Code: exitStatus(code), Err: runErr}
	}
	return nil
}

// serveMetrics exposes registry on addr until the returned server is closed.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
