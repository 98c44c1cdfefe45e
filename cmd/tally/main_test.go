package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/internal/catalog"
	"github.com/yairfalse/tally/internal/collector"
	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/internal/ledger"
	"github.com/yairfalse/tally/internal/telemetry"
)

func TestHandleHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestHandleReadyz(t *testing.T) {
	ready := false
	handler := readyzHandler(func() bool { return ready })

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "scan not started", w.Body.String())

	ready = true
	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestMetricsMux(t *testing.T) {
	mux := newMetricsMux(telemetry.Noop(), func() bool { return true })

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", w.Body.String())
}

func TestApplyCollectFlags(t *testing.T) {
	c := config.Default()
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(collectCmd.Flags())

	require.NoError(t, cmd.Flags().Set("region", "eu-west-1"))
	require.NoError(t, cmd.Flags().Set("region", "us-west-2"))
	require.NoError(t, cmd.Flags().Set("workers", "4"))
	require.NoError(t, cmd.Flags().Set("exclude-service", "cloudtrail"))
	require.NoError(t, cmd.Flags().Set("progress", "none"))

	applyCollectFlags(cmd, c)

	assert.Equal(t, []string{"eu-west-1", "us-west-2"}, c.AWS.Regions)
	assert.Equal(t, 4, c.Collector.Workers)
	assert.Equal(t, []string{"cloudtrail"}, c.Collector.ExcludeServices)
	assert.Equal(t, config.ProgressNone, c.Collector.Progress)
	// untouched flags keep config values
	assert.Equal(t, "inventory", c.Collector.OutputDir)
	assert.NoError(t, c.Validate())
}

func TestApplyReportFlags_DefaultReportDir(t *testing.T) {
	c := config.Default()
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(reportCmd.Flags())

	require.NoError(t, cmd.Flags().Set("output-dir", "scan"))
	require.NoError(t, cmd.Flags().Set("required-tag", "Owner"))

	applyReportFlags(cmd, c)

	assert.Equal(t, filepath.Join("scan", "reports"), c.Report.ReportDir)
	assert.Equal(t, []string{"Owner"}, c.Report.RequiredTags)
}

func TestLoadCatalog(t *testing.T) {
	c := config.Default()
	c.AWS.HomeRegion = "eu-central-1"

	cat, err := loadCatalog(c)
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cat.HomeRegion)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
home_region: us-west-2
services:
  - name: iam
    scope: global
    strategy: paginated
    operations:
      - {operation: ListUsers, result_field: Users}
`), 0600))
	c.Collector.Catalog = path

	cat, err = loadCatalog(c)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", cat.HomeRegion)
	assert.False(t, cat.NeedsRegions())
}

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 35, c.Collector.Workers)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRecordHistoryAndHistoryCommand(t *testing.T) {
	cfg = config.Default()
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "tally.db")

	start := time.Now().Add(-time.Minute)
	recordHistory(&collector.Summary{
		RunID:     "run-1",
		AccountID: "123456789012",
		Started:   start,
		Finished:  start.Add(30 * time.Second),
		Total:     1,
		Completed: 1,
		Records:   3,
	})

	l, err := ledger.Open(cfg.Ledger.Path)
	require.NoError(t, err)
	runs, err := l.Runs(0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.Len(t, runs, 1)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	historyFailed, historyLimit = false, 10
	require.NoError(t, runHistory(cmd, nil))
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "123456789012")

	out.Reset()
	historyFailed = true
	require.NoError(t, runHistory(cmd, nil))
	assert.Contains(t, out.String(), "no outstanding failures")
	historyFailed = false
}

func TestRecordHistory_CompactsAndShowsArtifact(t *testing.T) {
	cfg = config.Default()
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "tally.db")
	cfg.Ledger.KeepRevisions = 2

	task := catalog.Task{Service: "ec2", Operation: "DescribeVpcs", ResultField: "Vpcs", Region: "eu-west-1"}
	key := artifact.Key{AccountID: "123456789012", Service: "ec2", Region: "eu-west-1", Operation: "DescribeVpcs", ResultField: "Vpcs"}
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		recordHistory(&collector.Summary{
			RunID:     id,
			AccountID: "123456789012",
			Total:     1,
			Failed:    1,
			Outcomes: []collector.Outcome{{
				Task: task, Key: key, Status: collector.StatusFailed,
				Err: errors.New("throttled"), Kind: "throttled",
			}},
		})
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	require.NoError(t, err)
	runs, err := l.Runs(0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	historyArtifact = key.FileName()
	defer func() { historyArtifact = "" }()

	require.NoError(t, runHistory(cmd, nil))
	assert.Contains(t, out.String(), key.String())
	assert.Contains(t, out.String(), "failed")
	assert.Contains(t, out.String(), "rev 2")
	assert.Contains(t, out.String(), "[throttled] throttled")

	historyArtifact = "123456789012-s3-us-east-1-ListBuckets-Buckets"
	assert.Error(t, runHistory(cmd, nil))
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	now := time.Now()
	printSummary(cmd, &collector.Summary{
		RunID: "run-1", Started: now, Finished: now.Add(time.Second),
		Total: 3, Completed: 1, Skipped: 1, Cancelled: 1, Records: 4,
	}, "inventory")

	assert.Contains(t, out.String(), "completed: 1 (4 records)")
	assert.Contains(t, out.String(), "cancelled: 1 (re-run to resume)")
}
