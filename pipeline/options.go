package pipeline

import (
	"errors"
	"log/slog"

	"github.com/dshills/rowflow/pipeline/emit"
	"github.com/dshills/rowflow/pipeline/resource"
	"github.com/dshills/rowflow/pipeline/store"
)

// Options configures a Pipeline. The zero value is not the default; use
// DefaultOptions, or pass functional options to New.
type Options struct {
	// ID identifies the pipeline in events and provenance records. Generated
	// when empty.
	ID string

	// AutoAdvance runs the next row after a step completes.
	AutoAdvance bool

	// StopOnError halts a cascade after a processor failure. Reference
	// errors always halt it.
	StopOnError bool

	// CancelOnChange makes Trigger stop every run below the changed row
	// before re-running it.
	CancelOnChange bool

	// Headless ignores pause steps.
	Headless bool

	// Workers bounds the number of concurrently running triggers and batch
	// drivers.
	Workers int

	Logger     *slog.Logger
	Emitter    emit.Emitter
	Provenance store.ProvenanceStore
	Metrics    *PrometheusMetrics

	// Resources resolves names that are not produced by a step of the table.
	Resources resource.Resolver
}

// DefaultOptions returns auto-advancing, stop-on-error, cancel-on-change
// options with four workers, a discarding logger and in-memory provenance.
func DefaultOptions() Options {
	return Options{
		AutoAdvance:    true,
		StopOnError:    true,
		CancelOnChange: true,
		Workers:        4,
	}
}

// Option is a functional option for configuring a Pipeline.
//
// Example:
//
//	p, err := pipeline.New(reg,
//	    pipeline.WithStopOnError(false),
//	    pipeline.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	)
type Option func(*pipelineConfig) error

type pipelineConfig struct {
	opts Options
}

// WithOptions replaces every setting with opts. Later options still apply.
func WithOptions(opts Options) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithID sets the pipeline id.
func WithID(id string) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.ID = id
		return nil
	}
}

// WithAutoAdvance toggles cascading to the next row.
func WithAutoAdvance(enabled bool) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.AutoAdvance = enabled
		return nil
	}
}

// WithStopOnError toggles halting the cascade after a processor failure.
//
// Default: true.
func WithStopOnError(enabled bool) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.StopOnError = enabled
		return nil
	}
}

// WithCancelOnChange toggles cancelling downstream runs on Trigger.
func WithCancelOnChange(enabled bool) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.CancelOnChange = enabled
		return nil
	}
}

// WithHeadless ignores pause steps.
func WithHeadless(enabled bool) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.Headless = enabled
		return nil
	}
}

// WithWorkers sets the worker pool size.
//
// Returns an error if n < 1.
func WithWorkers(n int) Option {
	return func(cfg *pipelineConfig) error {
		if n < 1 {
			return errors.New("workers must be >= 1")
		}
		cfg.opts.Workers = n
		return nil
	}
}

// WithLogger sets the logger used for diagnostics. Nil keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.Logger = logger
		return nil
	}
}

// WithEmitter sets the emitter receiving pipeline events.
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.Emitter = emitter
		return nil
	}
}

// WithProvenance sets the store receiving run records.
func WithProvenance(st store.ProvenanceStore) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.Provenance = st
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithResources sets the resolver for names not produced by a step.
func WithResources(r resource.Resolver) Option {
	return func(cfg *pipelineConfig) error {
		cfg.opts.Resources = r
		return nil
	}
}
