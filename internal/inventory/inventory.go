// Package inventory reads collected artifacts back into normalized resource
// descriptors.
package inventory

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/internal/filter"
	"github.com/yairfalse/tally/internal/tags"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// DefaultWorkers bounds concurrent artifact reads.
const DefaultWorkers = 8

// Reader is the artifact access the loader needs.
type Reader interface {
	List() ([]string, error)
	Read(path string) (artifact.Key, []resource.Record, error)
}

// Options configures Load.
type Options struct {
	Workers   int
	Filter    *filter.Filter
	Telemetry *telemetry.Provider
}

// Inventory is the result of reading every artifact.
type Inventory struct {
	Resources []resource.Descriptor
	Errors    []string
	Files     int
}

type fileResult struct {
	resources []resource.Descriptor
	err       error
}

// Load reads all artifacts concurrently. Unreadable or malformed files are
// recorded in Errors and skipped; results keep file name order.
func Load(ctx context.Context, r Reader, opts Options) (*Inventory, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop()
	}
	logger := telemetry.NewLogger("inventory")

	paths, err := r.List()
	if err != nil {
		return nil, err
	}

	ctx, span := opts.Telemetry.StartSpan(ctx, "inventory.load", attribute.Int("files", len(paths)))
	defer span.End()

	results := make([]fileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = readFile(r, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}

	inv := &Inventory{Files: len(paths)}
	for i, res := range results {
		if res.err != nil {
			logger.WithContext(ctx).Warn().Err(res.err).Str("file", filepath.Base(paths[i])).Msg("skipping artifact")
			inv.Errors = append(inv.Errors, fmt.Sprintf("%s: %v", filepath.Base(paths[i]), res.err))
			continue
		}
		inv.Resources = append(inv.Resources, res.resources...)
	}

	inv.Resources = opts.Filter.FilterResources(inv.Resources)
	opts.Telemetry.RecordAnalyzed(ctx, len(inv.Resources))

	logger.WithContext(ctx).Info().
		Int("files", inv.Files).
		Int("resources", len(inv.Resources)).
		Int("errors", len(inv.Errors)).
		Msg("inventory loaded")

	return inv, nil
}

func readFile(r Reader, path string) fileResult {
	key, records, err := r.Read(path)
	if err != nil {
		return fileResult{err: err}
	}

	var out []resource.Descriptor
	for _, record := range records {
		if d, ok := tags.Describe(key, record); ok {
			out = append(out, d)
		}
	}
	return fileResult{resources: out}
}
