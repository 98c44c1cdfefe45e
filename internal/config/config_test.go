package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
[aws]
regions = ["us-east-1", "eu-west-1"]
profile = "production"
home_region = "us-west-2"

[collector]
workers = 10
output_dir = "/var/lib/tally"
catalog = "catalog.yaml"
max_pages = 50
rate_limit = 5.0
rate_burst = 10
connect_timeout = "3s"
max_attempts = 3
exclude_services = ["iam"]
progress = "tui"

[report]
required_tags = ["Owner", "Environment"]
policy_dir = "policies"
duckdb = "inventory.duckdb"

[report.include_tags]
Environment = "prod"

[ledger]
path = "/tmp/ledger.db"
keep_revisions = 5

[otel]
endpoint = "localhost:4317"
insecure = true
service_name = "tally"

[otel.traces]
enabled = true
sample_rate = 0.5

[otel.metrics]
enabled = true

[metrics]
addr = ":9090"

[log]
level = "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)

	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, cfg.AWS.Regions)
	assert.Equal(t, "production", cfg.AWS.Profile)
	assert.Equal(t, "us-west-2", cfg.AWS.HomeRegion)
	assert.Equal(t, 10, cfg.Collector.Workers)
	assert.Equal(t, "/var/lib/tally", cfg.Collector.OutputDir)
	assert.Equal(t, 50, cfg.Collector.MaxPages)
	assert.Equal(t, 5.0, cfg.Collector.RateLimit)
	assert.Equal(t, 3*time.Second, cfg.Collector.ConnectTimeout)
	assert.Equal(t, 3, cfg.Collector.MaxAttempts)
	assert.Equal(t, []string{"iam"}, cfg.Collector.ExcludeServices)
	assert.Equal(t, ProgressTUI, cfg.Collector.Progress)
	assert.Equal(t, []string{"Owner", "Environment"}, cfg.Report.RequiredTags)
	assert.Equal(t, map[string]string{"Environment": "prod"}, cfg.Report.IncludeTags)
	assert.Equal(t, "inventory.duckdb", cfg.Report.DuckDB)
	assert.Equal(t, "/tmp/ledger.db", cfg.Ledger.Path)
	assert.Equal(t, int64(5), cfg.Ledger.KeepRevisions)
	assert.True(t, cfg.OTEL.Insecure)
	assert.True(t, cfg.OTEL.Traces.Enabled)
	assert.Equal(t, 0.5, cfg.OTEL.Traces.SampleRate)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, `
[aws]
regions = ["us-east-1"]
`)
	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "tally", cfg.OTEL.ServiceName)
	assert.Equal(t, 35, cfg.Collector.Workers)
	assert.Equal(t, "inventory", cfg.Collector.OutputDir)
	assert.Equal(t, 1000, cfg.Collector.MaxPages)
	assert.Equal(t, 5*time.Second, cfg.Collector.ConnectTimeout)
	assert.Equal(t, 5, cfg.Collector.MaxAttempts)
	assert.Equal(t, ProgressLog, cfg.Collector.Progress)
	assert.Equal(t, "us-east-1", cfg.AWS.HomeRegion)
	assert.Equal(t, 1.0, cfg.OTEL.Traces.SampleRate)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, int64(DefaultKeepRevisions), cfg.Ledger.KeepRevisions)
	require.NoError(t, cfg.Validate())
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, Default().Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	require.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	content := `
[aws
regions = "not an array"
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := `
[collector]
connect_timeout = "not-a-duration"
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"workers", func(c *Config) { c.Collector.Workers = -1 }, "workers"},
		{"max pages", func(c *Config) { c.Collector.MaxPages = -5 }, "max_pages"},
		{"rate limit", func(c *Config) { c.Collector.RateLimit = -1 }, "rate_limit"},
		{"progress", func(c *Config) { c.Collector.Progress = "fancy" }, "progress"},
		{"sample rate", func(c *Config) { c.OTEL.Traces.SampleRate = 2 }, "sample_rate"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}
