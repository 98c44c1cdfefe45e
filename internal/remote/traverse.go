package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/tally/internal/catalog"
	"github.com/yairfalse/tally/pkg/resource"
)

// DefaultMaxPages bounds a single traversal.
const DefaultMaxPages = 1000

// ErrPageLimit is returned when a traversal reaches its page cap.
var ErrPageLimit = errors.New("page limit reached")

// Page is one response of a paged listing.
type Page struct {
	Records []resource.Record
	// Next is the continuation token, empty when the response carried none.
	Next string
	// More is the provider's truncation flag, or Next != "" when it has none.
	More bool
}

// PageFunc fetches the page following token; the first page has token "".
type PageFunc func(ctx context.Context, token string) (Page, error)

// Traverse exhausts a listing with the given strategy and returns the records
// in page order. Any error, including the page cap, discards what was fetched.
func Traverse(ctx context.Context, strategy catalog.Strategy, fetch PageFunc, maxPages int) ([]resource.Record, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var (
		records []resource.Record
		token   string
	)
	for pages := 0; ; pages++ {
		if pages >= maxPages {
			return nil, fmt.Errorf("%w after %d pages", ErrPageLimit, pages)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, token)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)

		if !hasNext(strategy, page, token) {
			return records, nil
		}
		token = page.Next
	}
}

func hasNext(strategy catalog.Strategy, page Page, prev string) bool {
	if page.Next == "" {
		return false
	}
	if strategy == catalog.StrategyManualCursor {
		return true
	}
	// paginated: honor the truncation flag and stop on a repeated token
	return page.More && page.Next != prev
}
