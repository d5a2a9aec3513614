// Package config loads the rowflow TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// SchedulerConfig maps onto pipeline.Options.
type SchedulerConfig struct {
	Workers        int  `toml:"workers"`
	AutoAdvance    bool `toml:"auto_advance"`
	StopOnError    bool `toml:"stop_on_error"`
	CancelOnChange bool `toml:"cancel_on_change"`
	Headless       bool `toml:"headless"`
}

// StoreConfig selects the provenance store.
type StoreConfig struct {
	Driver string `toml:"driver"`

	// DSN is a file path for sqlite and a go-sql-driver DSN for mysql.
	DSN string `toml:"dsn"`
}

// MetricsConfig holds the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// ResourcesConfig configures named resource lookup.
type ResourcesConfig struct {
	// Root is the directory relative resource names are read from.
	Root string `toml:"root"`

	// HTTP enables resolving http(s) URLs used as names.
	HTTP        bool          `toml:"http"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

// Config is the main configuration struct for rowflow.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Store     StoreConfig     `toml:"store"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Resources ResourcesConfig `toml:"resources"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Scheduler: SchedulerConfig{
			Workers:        4,
			AutoAdvance:    true,
			StopOnError:    true,
			CancelOnChange: true,
			Headless:       true,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
		Resources: ResourcesConfig{
			Root:        ".",
			HTTPTimeout: 30 * time.Second,
		},
	}
}

// Load loads configuration from file, merging with defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StoreMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Resources.HTTP && c.Resources.HTTPTimeout <= 0 {
		return fmt.Errorf("resources.http_timeout must be positive")
	}
	return nil
}
