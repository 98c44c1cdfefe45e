package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/internal/catalog"
	"github.com/yairfalse/tally/internal/collector"
	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/internal/credentials"
	"github.com/yairfalse/tally/internal/filter"
	"github.com/yairfalse/tally/internal/ledger"
	"github.com/yairfalse/tally/internal/progress"
	"github.com/yairfalse/tally/internal/remote"
	"github.com/yairfalse/tally/internal/telemetry"
)

var (
	collectRegions         []string
	collectProfile         string
	collectOutputDir       string
	collectWorkers         int
	collectCatalog         string
	collectIncludeServices []string
	collectExcludeServices []string
	collectProgress        string
	collectMetricsAddr     string
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect inventory artifacts for every catalog operation",
	Long: `Collect runs every catalog operation in every requested region and writes
one JSON artifact per (account, service, region, operation, result field).

Existing artifacts are skipped, so re-running after an interruption only
performs the remaining work. Delete the output directory to start over.`,
	Example: `  tally collect                                  # All enabled regions
  tally collect --region eu-west-1 --region us-east-1
  tally collect --profile audit --workers 10
  tally collect --exclude-service cloudtrail --progress tui
  tally collect --metrics-addr :9090             # Expose /metrics while scanning`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().StringSliceVarP(&collectRegions, "region", "r", nil, "Region to scan (repeatable, default all enabled regions)")
	collectCmd.Flags().StringVarP(&collectProfile, "profile", "p", "", "AWS shared config profile")
	collectCmd.Flags().StringVarP(&collectOutputDir, "output-dir", "o", "", "Artifact directory (default inventory)")
	collectCmd.Flags().IntVarP(&collectWorkers, "workers", "w", 0, "Concurrent tasks (default 35)")
	collectCmd.Flags().StringVar(&collectCatalog, "catalog", "", "YAML catalog file (default built-in)")
	collectCmd.Flags().StringSliceVar(&collectIncludeServices, "include-service", nil, "Only scan these services (repeatable)")
	collectCmd.Flags().StringSliceVar(&collectExcludeServices, "exclude-service", nil, "Skip these services (repeatable)")
	collectCmd.Flags().StringVar(&collectProgress, "progress", "", "Progress display: log, tui or none")
	collectCmd.Flags().StringVar(&collectMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the scan")
}

// applyCollectFlags overrides config values with flags the user set.
func applyCollectFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("region") {
		c.AWS.Regions = collectRegions
	}
	if flags.Changed("profile") {
		c.AWS.Profile = collectProfile
	}
	if flags.Changed("output-dir") {
		c.Collector.OutputDir = collectOutputDir
	}
	if flags.Changed("workers") {
		c.Collector.Workers = collectWorkers
	}
	if flags.Changed("catalog") {
		c.Collector.Catalog = collectCatalog
	}
	if flags.Changed("include-service") {
		c.Collector.IncludeServices = collectIncludeServices
	}
	if flags.Changed("exclude-service") {
		c.Collector.ExcludeServices = collectExcludeServices
	}
	if flags.Changed("progress") {
		c.Collector.Progress = collectProgress
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = collectMetricsAddr
	}
}

// loadCatalog returns the catalog file's definition, or the built-in one
// bound to the configured home region.
func loadCatalog(c *config.Config) (*catalog.Catalog, error) {
	if c.Collector.Catalog != "" {
		return catalog.Load(c.Collector.Catalog)
	}
	cat := catalog.Default()
	cat.HomeRegion = c.AWS.HomeRegion
	return cat, nil
}

func runCollect(cmd *cobra.Command, _ []string) error {
	applyCollectFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx := cmd.Context()

	tel, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	provider := credentials.NewAWSProvider(credentials.Options{
		HomeRegion:     cat.HomeRegion,
		ConnectTimeout: cfg.Collector.ConnectTimeout,
		MaxAttempts:    cfg.Collector.MaxAttempts,
	})
	cred, err := provider.Credential(ctx, cfg.AWS.Profile)
	if err != nil {
		return fmt.Errorf("%w: %v", collector.ErrNoCredentials, err)
	}

	regions := cfg.AWS.Regions
	if len(regions) == 0 && cat.NeedsRegions() {
		regions, err = provider.Regions(ctx, cred)
		if err != nil {
			return fmt.Errorf("%w: %v", collector.ErrNoRegions, err)
		}
	}

	store, err := artifact.New(cfg.Collector.OutputDir)
	if err != nil {
		return err
	}

	engine := collector.New(store, remote.NewAWS(remote.DefaultRegistry(), remote.AWSOptions{
		MaxPages:  cfg.Collector.MaxPages,
		RateLimit: cfg.Collector.RateLimit,
		RateBurst: cfg.Collector.RateBurst,
	}), collector.Options{
		Workers:   cfg.Collector.Workers,
		Filter:    filter.New(cfg.Collector.IncludeServices, cfg.Collector.ExcludeServices, nil, nil),
		Telemetry: tel,
	})

	log.Info().
		Str("account", cred.AccountID).
		Strs("regions", regions).
		Str("output_dir", store.Dir()).
		Msg("tally collect starting")

	summary, err := scan(ctx, engine, tel, cat, regions, cred)
	if err != nil {
		return err
	}

	recordHistory(summary)
	printSummary(cmd, summary, store.Dir())
	return nil
}

// scan runs the engine alongside its observers: signal handling, the
// metrics server and the progress display.
func scan(ctx context.Context, engine *collector.Engine, tel *telemetry.Provider, cat *catalog.Catalog, regions []string, cred credentials.Credential) (*collector.Summary, error) {
	var (
		g       run.Group
		summary *collector.Summary
		scanErr error
	)

	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()

	// scan
	{
		g.Add(func() error {
			summary, scanErr = engine.Run(scanCtx, cat, regions, cred)
			return scanErr
		}, func(error) {
			cancelScan()
		})
	}

	// signals
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	// metrics
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", cfg.Metrics.Addr, err)
		}
		srv := &http.Server{
			Handler:           newMetricsMux(tel, func() bool { return engine.Progress().Total > 0 }),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	// progress
	if mode := cfg.Collector.Progress; mode != config.ProgressNone {
		progressCtx, cancelProgress := context.WithCancel(ctx)
		g.Add(func() error {
			if mode == config.ProgressTUI {
				if !debug {
					zerolog.SetGlobalLevel(zerolog.ErrorLevel)
				}
				if err := progress.RunTUI(progressCtx, engine, os.Stderr, cancelScan); err != nil {
					return err
				}
			} else {
				progress.Log(progressCtx, engine, progress.DefaultInterval)
			}
			// keep the scan running until it finishes on its own
			<-progressCtx.Done()
			return nil
		}, func(error) {
			cancelProgress()
		})
	}

	err := g.Run()
	if scanErr != nil {
		return nil, scanErr
	}

	switch {
	case errors.Is(err, run.ErrSignal):
		log.Warn().Err(err).Msg("scan interrupted, unstarted tasks cancelled")
	case err != nil:
		log.Error().Err(err).Msg("scan stopped early")
	}
	return summary, nil
}

// recordHistory stores the run in the ledger. History is best effort.
func recordHistory(summary *collector.Summary) {
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Ledger.Path).Msg("scan history unavailable")
		return
	}
	defer func() { _ = l.Close() }()

	rev, err := l.RecordSummary(summary)
	if err != nil {
		log.Warn().Err(err).Msg("failed to record scan history")
		return
	}
	log.Debug().Int64("revision", rev).Str("run_id", summary.RunID).Msg("scan recorded")

	if keep := cfg.Ledger.KeepRevisions; keep > 0 {
		if err := l.Compact(keep); err != nil {
			log.Warn().Err(err).Int64("keep", keep).Msg("failed to compact scan history")
		}
	}
}

func printSummary(cmd *cobra.Command, s *collector.Summary, dir string) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "\nScan %s finished in %s\n", s.RunID, s.Finished.Sub(s.Started).Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "  tasks:     %d\n", s.Total)
	_, _ = fmt.Fprintf(out, "  completed: %d (%d records)\n", s.Completed, s.Records)
	_, _ = fmt.Fprintf(out, "  skipped:   %d\n", s.Skipped)
	_, _ = fmt.Fprintf(out, "  failed:    %d\n", s.Failed)
	if s.Cancelled > 0 {
		_, _ = fmt.Fprintf(out, "  cancelled: %d (re-run to resume)\n", s.Cancelled)
	}
	_, _ = fmt.Fprintf(out, "  artifacts: %s\n", dir)

	for _, o := range s.Failures() {
		_, _ = fmt.Fprintf(out, "  ! %s [%s] %v\n", o.Task, o.Kind, o.Err)
	}
}
