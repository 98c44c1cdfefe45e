package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/analysis"
	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/internal/filter"
	"github.com/yairfalse/tally/internal/inventory"
	"github.com/yairfalse/tally/internal/policy"
	"github.com/yairfalse/tally/internal/report"
	"github.com/yairfalse/tally/internal/telemetry"
)

var (
	reportOutputDir    string
	reportDir          string
	reportRequiredTags []string
	reportPolicyDir    string
	reportDuckDB       string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate tag reports from collected artifacts",
	Long: `Generate tag reports from the artifacts written by collect:
- Summary: coverage, tag key frequency, top values, per-service breakdown
- Detailed: untagged resources, key spelling inconsistencies, usage per key
- CSV: one row per resource tag
- Compliance: resources missing required tags (with --required-tag)
- Policy: Rego policy violations (with --policy-dir)`,
	Example: `  tally report                                     # Reports for ./inventory
  tally report --required-tag Owner --required-tag Environment
  tally report --policy-dir ./policies             # Evaluate custom Rego policies
  tally report --duckdb inventory.duckdb           # Also export to DuckDB`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportOutputDir, "output-dir", "o", "", "Artifact directory to read (default inventory)")
	reportCmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory for report files (default <output-dir>/reports)")
	reportCmd.Flags().StringSliceVarP(&reportRequiredTags, "required-tag", "t", nil, "Required tag key (repeatable)")
	reportCmd.Flags().StringVar(&reportPolicyDir, "policy-dir", "", "Directory of .rego tag policies")
	reportCmd.Flags().StringVar(&reportDuckDB, "duckdb", "", "Export resources and tags to this DuckDB file")
}

func applyReportFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		c.Collector.OutputDir = reportOutputDir
	}
	if flags.Changed("report-dir") {
		c.Report.ReportDir = reportDir
	}
	if flags.Changed("required-tag") {
		c.Report.RequiredTags = reportRequiredTags
	}
	if flags.Changed("policy-dir") {
		c.Report.PolicyDir = reportPolicyDir
	}
	if flags.Changed("duckdb") {
		c.Report.DuckDB = reportDuckDB
	}
	if c.Report.ReportDir == "" {
		c.Report.ReportDir = filepath.Join(c.Collector.OutputDir, "reports")
	}
}

func runReport(cmd *cobra.Command, _ []string) error {
	applyReportFlags(cmd, cfg)
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

	store, err := artifact.New(cfg.Collector.OutputDir)
	if err != nil {
		return err
	}

	inv, err := inventory.Load(ctx, store, inventory.Options{
		Workers:   cfg.Report.Workers,
		Filter:    filter.New(nil, nil, cfg.Report.IncludeTags, cfg.Report.ExcludeTags),
		Telemetry: tel,
	})
	if err != nil {
		return err
	}

	in := report.Input{
		Resources: inv.Resources,
		Summary:   analysis.Aggregate(inv.Resources, inv.Errors),
		Detailed:  analysis.Detail(inv.Resources),
	}
	if len(cfg.Report.RequiredTags) > 0 {
		in.Compliance = analysis.CheckCompliance(inv.Resources, cfg.Report.RequiredTags)
	}

	if cfg.Report.PolicyDir != "" {
		engine := policy.NewEngine(tel)
		if err := engine.LoadDefaults(ctx); err != nil {
			return err
		}
		if err := engine.LoadDir(ctx, cfg.Report.PolicyDir); err != nil {
			return err
		}
		in.Policy = engine.EvaluateAll(ctx, inv.Resources, cfg.Report.RequiredTags)
	}

	writer, err := report.NewWriter(cfg.Report.ReportDir)
	if err != nil {
		return err
	}
	files, err := writer.Write(in)
	if err != nil {
		return err
	}

	if cfg.Report.DuckDB != "" {
		if err := report.ExportDuckDB(ctx, cfg.Report.DuckDB, inv.Resources); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Report.DuckDB).Msg("duckdb export written")
	}

	out := cmd.OutOrStdout()
	t := in.Summary.Totals
	_, _ = fmt.Fprintf(out, "\nTag report for %d resources from %d artifacts\n", t.TotalResources, inv.Files)
	_, _ = fmt.Fprintf(out, "  coverage:   %.2f%% (%d tagged, %d untagged)\n", t.TagCoveragePercent, t.ResourcesWithTags, t.ResourcesWithoutTags)
	_, _ = fmt.Fprintf(out, "  tag keys:   %d unique, %d inconsistent\n", t.UniqueTagKeys, len(in.Detailed.TagInconsistencies))
	if in.Compliance != nil {
		_, _ = fmt.Fprintf(out, "  compliance: %.2f%% (%d non-compliant)\n", in.Compliance.CompliancePercentage, in.Compliance.NonCompliantResources)
	}
	if in.Policy != nil {
		_, _ = fmt.Fprintf(out, "  policy:     %d violations on %d resources\n", len(in.Policy.Violations), in.Policy.Violating)
	}
	if len(inv.Errors) > 0 {
		_, _ = fmt.Fprintf(out, "  errors:     %d artifacts skipped\n", len(inv.Errors))
	}
	for _, path := range files.All() {
		_, _ = fmt.Fprintf(out, "  wrote %s\n", path)
	}
	return nil
}
