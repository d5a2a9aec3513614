package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/dshills/rowflow/internal/config"
	"github.com/dshills/rowflow/internal/logging"
	"github.com/dshills/rowflow/pipeline"
	"github.com/dshills/rowflow/pipeline/builtin"
	"github.com/dshills/rowflow/pipeline/resource"
	"github.com/dshills/rowflow/pipeline/store"
)

// env holds what every command builds from configuration.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

// loadEnv loads the configuration, applies the global flag overrides and
// sets up logging.
func loadEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = config.LogLevel(logLevel)
	}
	if logFormat != "" {
		cfg.Logging.Format = config.LogFormat(logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	e := &env{cfg: cfg, logger: logger}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}
	return e, nil
}

// Close releases everything the env opened, newest first.
func (e *env) Close() error {
	var errs []error
	for _, c := range slices.Backward(e.closers) {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *env) openStore() (store.ProvenanceStore, error) {
	var (
		st  store.ProvenanceStore
		err error
	)
	switch e.cfg.Store.Driver {
	case config.StoreSQLite:
		st, err = store.NewSQLiteStore(e.cfg.Store.DSN)
	case config.StoreMySQL:
		st, err = store.NewMySQLStore(e.cfg.Store.DSN)
	default:
		st = store.NewMemStore()
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", e.cfg.Store.Driver, err)
	}
	e.closers = append(e.closers, st)
	return st, nil
}

// resources returns the resolver for names no row produces: files under
// the resource root, then URLs when HTTP is enabled.
func (e *env) resources() resource.Resolver {
	chain := resource.Chain{resource.NewFileLoader(e.cfg.Resources.Root)}
	if e.cfg.Resources.HTTP {
		client := &http.Client{Timeout: e.cfg.Resources.HTTPTimeout}
		chain = append(chain, resource.NewHTTPLoader(client).WithHeader("User-Agent", "rowflow/"+Version))
	}
	return chain
}

// options maps the scheduler section onto pipeline options.
func (e *env) options() []pipeline.Option {
	s := e.cfg.Scheduler
	return []pipeline.Option{
		pipeline.WithLogger(e.logger),
		pipeline.WithWorkers(s.Workers),
		pipeline.WithAutoAdvance(s.AutoAdvance),
		pipeline.WithStopOnError(s.StopOnError),
		pipeline.WithCancelOnChange(s.CancelOnChange),
		pipeline.WithHeadless(s.Headless),
		pipeline.WithResources(e.resources()),
	}
}

// openPipeline loads the table at path with the builtin processors and the
// configured provenance store. extra options are applied last.
func (e *env) openPipeline(path string, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	def, err := pipeline.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	st, err := e.openStore()
	if err != nil {
		return nil, err
	}
	opts := append(e.options(), pipeline.WithProvenance(st))
	opts = append(opts, extra...)
	p, err := pipeline.NewFromDefinition(def, builtin.NewRegistry(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	e.logger.Debug("table loaded", "path", path, "pipeline_id", p.ID(), "rows", p.Len())
	return p, nil
}

// exitStatus maps a batch outcome to a process exit code.
func exitStatus(code pipeline.ExitCode) int {
	switch code {
	case pipeline.NoError:
		return 0
	case pipeline.Interrupted:
		return 130
	default:
		return 1
	}
}
