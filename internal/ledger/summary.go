package ledger

import "github.com/yairfalse/tally/internal/collector"

// FromSummary converts a collector summary into ledger records.
func FromSummary(s *collector.Summary) (Run, []Outcome) {
	run := Run{
		RunID:     s.RunID,
		AccountID: s.AccountID,
		Started:   s.Started,
		Finished:  s.Finished,
		Total:     s.Total,
		Completed: s.Completed,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Cancelled: s.Cancelled,
		Records:   s.Records,
	}

	outcomes := make([]Outcome, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		out := Outcome{
			RunID:      s.RunID,
			Artifact:   o.Key.String(),
			Service:    o.Task.Service,
			Region:     o.Task.Region,
			Operation:  o.Task.Operation,
			Status:     string(o.Status),
			Records:    o.Records,
			Kind:       o.Kind,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil && o.Status == collector.StatusFailed {
			out.Error = o.Err.Error()
		}
		outcomes = append(outcomes, out)
	}

	return run, outcomes
}

// RecordSummary stores a collector summary as a new revision.
func (l *Ledger) RecordSummary(s *collector.Summary) (int64, error) {
	run, outcomes := FromSummary(s)
	return l.Record(run, outcomes)
}
