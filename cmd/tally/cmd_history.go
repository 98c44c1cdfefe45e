package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/ledger"
)

var (
	historyFailed   bool
	historyLimit    int
	historyArtifact string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past scans and outstanding failures",
	Example: `  tally history              # Last 10 scans
  tally history --limit 0    # Every recorded scan
  tally history --failed     # Artifacts whose latest attempt failed
  tally history --artifact 123456789012-ec2-eu-west-1-DescribeVpcs-Vpcs`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "List artifacts whose latest attempt failed")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of scans to show (0 for all)")
	historyCmd.Flags().StringVar(&historyArtifact, "artifact", "", "Show the latest state of one artifact (file name without .json)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if historyArtifact != "" {
		state, ok := l.State(strings.TrimSuffix(historyArtifact, ".json"))
		if !ok {
			return fmt.Errorf("artifact %s not in scan history", historyArtifact)
		}
		_, _ = fmt.Fprintf(w, "artifact:\t%s\n", state.Artifact)
		_, _ = fmt.Fprintf(w, "status:\t%s\n", state.Status)
		_, _ = fmt.Fprintf(w, "first seen:\trev %d\n", state.FirstSeenRev)
		_, _ = fmt.Fprintf(w, "last seen:\trev %d\n", state.LastSeenRev)
		_, _ = fmt.Fprintf(w, "failures:\t%d\n", state.Failures)
		if state.Error != "" {
			_, _ = fmt.Fprintf(w, "last error:\t[%s] %s\n", state.Kind, state.Error)
		}
		return nil
	}

	if historyFailed {
		failures := l.LatestFailures()
		if len(failures) == 0 {
			_, _ = fmt.Fprintln(w, "no outstanding failures")
			return nil
		}
		_, _ = fmt.Fprintln(w, "ARTIFACT\tKIND\tFAILURES\tLAST REV\tERROR")
		for _, f := range failures {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", f.Artifact, f.Kind, f.Failures, f.LastSeenRev, f.Error)
		}
		return nil
	}

	runs, err := l.Runs(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "no scans recorded")
		return nil
	}
	_, _ = fmt.Fprintln(w, "REV\tRUN\tACCOUNT\tSTARTED\tDURATION\tTASKS\tDONE\tSKIPPED\tFAILED\tCANCELLED\tRECORDS")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Revision, r.RunID, r.AccountID,
			r.Started.Local().Format(time.DateTime),
			r.Finished.Sub(r.Started).Round(time.Second),
			r.Total, r.Completed, r.Skipped, r.Failed, r.Cancelled, r.Records)
	}
	return nil
}
