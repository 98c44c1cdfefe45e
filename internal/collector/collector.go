// Package collector runs catalog tasks across a bounded worker pool and
// persists each result as an artifact.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/internal/catalog"
	"github.com/yairfalse/tally/internal/credentials"
	"github.com/yairfalse/tally/internal/filter"
	"github.com/yairfalse/tally/internal/remote"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 35

// Setup failures. Run returns these before any task starts.
var (
	ErrNoCredentials = errors.New("no credentials")
	ErrNoRegions     = errors.New("no regions to scan")
	ErrEmptyCatalog  = errors.New("catalog produced no tasks")
)

// Store is the artifact persistence the engine needs.
type Store interface {
	Exists(key artifact.Key) (bool, error)
	Write(key artifact.Key, records []resource.Record) error
}

// Options configures an Engine.
type Options struct {
	Workers   int
	Filter    *filter.Filter
	Telemetry *telemetry.Provider
}

// Engine expands a catalog into tasks and executes them.
type Engine struct {
	store   Store
	remote  remote.Collector
	workers int
	filter  *filter.Filter
	tel     *telemetry.Provider
	logger  *telemetry.Logger

	total     atomic.Int64
	done      atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// New creates an engine.
func New(store Store, rc remote.Collector, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop()
	}
	return &Engine{
		store:   store,
		remote:  rc,
		workers: opts.Workers,
		filter:  opts.Filter,
		tel:     opts.Telemetry,
		logger:  telemetry.NewLogger("collector"),
	}
}

// Workers returns the fixed worker count.
func (e *Engine) Workers() int {
	return e.workers
}

// Progress is a point-in-time view of a running scan.
type Progress struct {
	Total     int64
	Done      int64
	Completed int64
	Skipped   int64
	Failed    int64
	Cancelled int64
}

// Finished reports whether every task reached a terminal state.
func (p Progress) Finished() bool {
	return p.Total > 0 && p.Done >= p.Total
}

// Progress returns the current counters. Safe for concurrent use.
func (e *Engine) Progress() Progress {
	return Progress{
		Total:     e.total.Load(),
		Done:      e.done.Load(),
		Completed: e.completed.Load(),
		Skipped:   e.skipped.Load(),
		Failed:    e.failed.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

// Run executes every task and returns once all of them are terminal. Task
// failures are recorded in the summary; only setup failures are returned.
func (e *Engine) Run(ctx context.Context, cat *catalog.Catalog, regions []string, cred credentials.Credential) (*Summary, error) {
	if !cred.Valid() {
		return nil, ErrNoCredentials
	}
	if cat == nil {
		return nil, ErrEmptyCatalog
	}
	if cat.NeedsRegions() && !hasRegion(regions) {
		return nil, ErrNoRegions
	}

	tasks := cat.Expand(regions, e.filter.ShouldScanService)
	if len(tasks) == 0 {
		return nil, ErrEmptyCatalog
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		AccountID: cred.AccountID,
		Started:   time.Now().UTC(),
	}

	ctx, span := e.tel.StartSpan(ctx, "collector.run",
		attribute.String("run.id", summary.RunID),
		attribute.Int("tasks.total", len(tasks)),
		attribute.Int("workers", e.workers),
	)
	defer span.End()

	e.reset(len(tasks))
	e.logger.WithContext(ctx).Info().
		Str("run_id", summary.RunID).
		Str("account", cred.AccountID).
		Int("tasks", len(tasks)).
		Int("workers", e.workers).
		Msg("scan started")

	outcomes := e.execute(ctx, tasks, cred)

	summary.Finished = time.Now().UTC()
	summary.tally(outcomes)

	span.SetAttributes(
		attribute.Int("tasks.completed", summary.Completed),
		attribute.Int("tasks.failed", summary.Failed),
		attribute.Int("records", summary.Records),
	)
	if summary.Cancelled > 0 {
		span.SetStatus(codes.Error, "scan cancelled")
	}

	e.logger.WithContext(ctx).Info().
		Str("run_id", summary.RunID).
		Int("completed", summary.Completed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Int("records", summary.Records).
		Dur("elapsed", summary.Finished.Sub(summary.Started)).
		Msg("scan finished")

	return summary, nil
}

func (e *Engine) reset(total int) {
	e.total.Store(int64(total))
	e.done.Store(0)
	e.completed.Store(0)
	e.skipped.Store(0)
	e.failed.Store(0)
	e.cancelled.Store(0)
}

// execute feeds task indexes to the worker pool. Each task owns one outcome
// slot, so workers never share writes.
func (e *Engine) execute(ctx context.Context, tasks []catalog.Task, cred credentials.Credential) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	queue := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					outcomes[i] = e.finish(ctx, cancelledOutcome(tasks[i], cred))
					continue
				}
				outcomes[i] = e.finish(ctx, e.runTask(ctx, tasks[i], cred))
			}
		}()
	}

feed:
	for i := range tasks {
		select {
		case queue <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	// tasks never handed to a worker
	for i := range outcomes {
		if outcomes[i].Status == "" {
			outcomes[i] = e.finish(ctx, cancelledOutcome(tasks[i], cred))
		}
	}
	return outcomes
}

func (e *Engine) runTask(ctx context.Context, task catalog.Task, cred credentials.Credential) (out Outcome) {
	start := time.Now()
	out = Outcome{Task: task, Key: keyFor(task, cred)}

	// a started task runs to completion so no partial artifact is left behind
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.tel.StartSpan(ctx, "collector.task",
		attribute.String("service", task.Service),
		attribute.String("operation", task.Operation),
		attribute.String("region", task.Region),
	)
	defer span.End()

	defer func() {
		out.Duration = time.Since(start)
		span.SetAttributes(attribute.String("status", string(out.Status)))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			out.Status, out.Records = StatusFailed, 0
			out.Err, out.Kind = fmt.Errorf("task panicked: %v", r), ""
		}
	}()

	exists, err := e.store.Exists(out.Key)
	if err != nil {
		out.Status, out.Err = StatusFailed, fmt.Errorf("check artifact: %w", err)
		return out
	}
	if exists {
		out.Status = StatusSkipped
		return out
	}

	records, err := e.remote.Collect(ctx, cred, remote.NewCall(task))
	if err != nil {
		kind := remote.Classify(err)
		out.Status, out.Err, out.Kind = StatusFailed, err, kind.String()
		e.tel.RecordRemoteError(ctx, task.Service, task.Region, out.Kind)
		return out
	}

	if err := e.store.Write(out.Key, records); err != nil {
		out.Status, out.Err = StatusFailed, fmt.Errorf("write artifact: %w", err)
		return out
	}

	out.Status = StatusCompleted
	out.Records = len(records)
	return out
}

// finish updates counters and telemetry for a terminal outcome.
func (e *Engine) finish(ctx context.Context, out Outcome) Outcome {
	switch out.Status {
	case StatusCompleted:
		e.completed.Add(1)
	case StatusSkipped:
		e.skipped.Add(1)
	case StatusFailed:
		e.failed.Add(1)
		e.logger.WithContext(ctx).Warn().
			Err(out.Err).
			Str("task", out.Task.String()).
			Str("kind", out.Kind).
			Msg("task failed")
	case StatusCancelled:
		e.cancelled.Add(1)
	}
	e.tel.RecordTask(context.WithoutCancel(ctx), out.Task.Service, out.Task.Region, string(out.Status), out.Records, out.Duration)

	done := e.done.Add(1)
	if done%10 == 0 {
		e.logger.WithContext(ctx).Info().
			Int64("done", done).
			Int64("total", e.total.Load()).
			Msg("scan progress")
	}
	return out
}

func cancelledOutcome(task catalog.Task, cred credentials.Credential) Outcome {
	return Outcome{Task: task, Key: keyFor(task, cred), Status: StatusCancelled, Err: context.Canceled}
}

func keyFor(task catalog.Task, cred credentials.Credential) artifact.Key {
	return artifact.Key{
		AccountID:   cred.AccountID,
		Service:     task.Service,
		Region:      task.Region,
		Operation:   task.Operation,
		ResultField: task.ResultField,
	}
}

func hasRegion(regions []string) bool {
	for _, r := range regions {
		if r != "" {
			return true
		}
	}
	return false
}
