// Package progress reports a running scan by polling the engine counters.
package progress

import (
	"context"
	"time"

	"github.com/yairfalse/tally/internal/collector"
	"github.com/yairfalse/tally/internal/telemetry"
)

// DefaultInterval is how often observers poll.
const DefaultInterval = 2 * time.Second

// Source exposes scan counters.
type Source interface {
	Progress() collector.Progress
}

// Log writes a progress line every interval until the scan finishes or ctx
// is done.
func Log(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := telemetry.NewLogger("progress")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := src.Progress()
			if p.Total == 0 || p.Done == last {
				continue
			}
			last = p.Done
			logger.Info().
				Int64("done", p.Done).
				Int64("total", p.Total).
				Int64("completed", p.Completed).
				Int64("skipped", p.Skipped).
				Int64("failed", p.Failed).
				Float64("percent", Percent(p)).
				Msg("scan progress")
			if p.Finished() {
				return
			}
		}
	}
}

// Percent returns the share of terminal tasks, 0 before the scan starts.
func Percent(p collector.Progress) float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total) * 100
}
