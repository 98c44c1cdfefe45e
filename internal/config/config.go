// Package config handles TOML configuration for Tally.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `toml:"aws"`
	Collector CollectorConfig `toml:"collector"`
	Report    ReportConfig    `toml:"report"`
	Ledger    LedgerConfig    `toml:"ledger"`
	OTEL      OTELConfig      `toml:"otel"`
	Metrics   PromConfig      `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions    []string `toml:"regions"`
	Profile    string   `toml:"profile"`
	HomeRegion string   `toml:"home_region"`
}

// CollectorConfig holds collection engine settings.
type CollectorConfig struct {
	Workers           int           `toml:"workers"`
	OutputDir         string        `toml:"output_dir"`
	Catalog           string        `toml:"catalog"`
	MaxPages          int           `toml:"max_pages"`
	RateLimit         float64       `toml:"rate_limit"`
	RateBurst         int           `toml:"rate_burst"`
	ConnectTimeoutStr string        `toml:"connect_timeout"`
	ConnectTimeout    time.Duration `toml:"-"`
	MaxAttempts       int           `toml:"max_attempts"`
	IncludeServices   []string      `toml:"include_services"`
	ExcludeServices   []string      `toml:"exclude_services"`
	Progress          string        `toml:"progress"`
}

// ReportConfig holds aggregation and report settings.
type ReportConfig struct {
	ReportDir    string            `toml:"report_dir"`
	RequiredTags []string          `toml:"required_tags"`
	PolicyDir    string            `toml:"policy_dir"`
	DuckDB       string            `toml:"duckdb"`
	Workers      int               `toml:"workers"`
	IncludeTags  map[string]string `toml:"include_tags"`
	ExcludeTags  map[string]string `toml:"exclude_tags"`
}

// LedgerConfig holds scan history settings.
type LedgerConfig struct {
	Path string `toml:"path"`
	// KeepRevisions bounds the stored history; negative keeps every scan.
	KeepRevisions int64 `toml:"keep_revisions"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// PromConfig holds the Prometheus scrape endpoint.
type PromConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Progress display modes.
const (
	ProgressLog  = "log"
	ProgressTUI  = "tui"
	ProgressNone = "none"
)

// DefaultKeepRevisions is the number of scans the ledger retains.
const DefaultKeepRevisions = 50

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.OTEL.Traces.SampleRate = 1.0
	cfg.Collector.ConnectTimeout, _ = time.ParseDuration(cfg.Collector.ConnectTimeoutStr)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	cfg.OTEL.Traces.SampleRate = 1.0
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseTimeout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.HomeRegion == "" {
		cfg.AWS.HomeRegion = "us-east-1"
	}
	if cfg.Collector.Workers == 0 {
		cfg.Collector.Workers = 35
	}
	if cfg.Collector.OutputDir == "" {
		cfg.Collector.OutputDir = "inventory"
	}
	if cfg.Collector.MaxPages == 0 {
		cfg.Collector.MaxPages = 1000
	}
	if cfg.Collector.ConnectTimeoutStr == "" {
		cfg.Collector.ConnectTimeoutStr = "5s"
	}
	if cfg.Collector.MaxAttempts == 0 {
		cfg.Collector.MaxAttempts = 5
	}
	if cfg.Collector.Progress == "" {
		cfg.Collector.Progress = ProgressLog
	}
	if cfg.Report.Workers == 0 {
		cfg.Report.Workers = 8
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "tally.db"
	}
	if cfg.Ledger.KeepRevisions == 0 {
		cfg.Ledger.KeepRevisions = DefaultKeepRevisions
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "tally"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseTimeout(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Collector.ConnectTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse connect_timeout %q: %w", cfg.Collector.ConnectTimeoutStr, err)
	}
	cfg.Collector.ConnectTimeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Collector.Workers < 1 {
		return fmt.Errorf("collector: workers must be at least 1 (got %d)", c.Collector.Workers)
	}
	if c.Collector.MaxPages < 1 {
		return fmt.Errorf("collector: max_pages must be at least 1 (got %d)", c.Collector.MaxPages)
	}
	if c.Collector.MaxAttempts < 1 {
		return fmt.Errorf("collector: max_attempts must be at least 1 (got %d)", c.Collector.MaxAttempts)
	}
	if c.Collector.RateLimit < 0 {
		return fmt.Errorf("collector: rate_limit must not be negative (got %v)", c.Collector.RateLimit)
	}
	if c.Collector.ConnectTimeout <= 0 {
		return fmt.Errorf("collector: connect_timeout must be positive (got %s)", c.Collector.ConnectTimeout)
	}
	switch c.Collector.Progress {
	case ProgressLog, ProgressTUI, ProgressNone:
	default:
		return fmt.Errorf("collector: progress must be log, tui or none (got %q)", c.Collector.Progress)
	}
	if c.Report.Workers < 1 {
		return fmt.Errorf("report: workers must be at least 1 (got %d)", c.Report.Workers)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// LogLevel returns the configured zerolog level, info when unparsable.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
