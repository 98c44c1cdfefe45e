package collector

import (
	"time"

	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/internal/catalog"
)

// Status is the terminal state of a task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome is the result of one task.
type Outcome struct {
	Task     catalog.Task
	Key      artifact.Key
	Status   Status
	Records  int
	Err      error
	Kind     string
	Duration time.Duration
}

// Summary aggregates a run. Outcomes are in task order.
type Summary struct {
	RunID     string
	AccountID string
	Started   time.Time
	Finished  time.Time

	Total     int
	Completed int
	Skipped   int
	Failed    int
	Cancelled int
	Records   int

	Outcomes []Outcome
}

func (s *Summary) tally(outcomes []Outcome) {
	s.Outcomes = outcomes
	s.Total = len(outcomes)
	for _, o := range outcomes {
		switch o.Status {
		case StatusCompleted:
			s.Completed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
		s.Records += o.Records
	}
}

// Failures returns the failed outcomes.
func (s *Summary) Failures() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}
