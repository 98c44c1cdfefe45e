// Package remote invokes catalog operations against the cloud provider,
// exhausting paged listings and classifying failures.
package remote

import (
	"context"

	"github.com/yairfalse/tally/internal/catalog"
	"github.com/yairfalse/tally/internal/credentials"
	"github.com/yairfalse/tally/pkg/resource"
)

// Call identifies one operation invocation.
type Call struct {
	Service     string
	Operation   string
	ResultField string
	Region      string
	Strategy    catalog.Strategy
	Params      map[string]any
}

// NewCall builds the call for a task.
func NewCall(t catalog.Task) Call {
	return Call{
		Service:     t.Service,
		Operation:   t.Operation,
		ResultField: t.ResultField,
		Region:      t.Region,
		Strategy:    t.Strategy,
		Params:      t.Params,
	}
}

// Collector returns every record of a call's result field across all pages.
// Zero records is success. Failures are *Error.
type Collector interface {
	Collect(ctx context.Context, cred credentials.Credential, call Call) ([]resource.Record, error)
}
