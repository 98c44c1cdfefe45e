package catalog

import "fmt"

// Task is one immutable unit of work: a single operation in a single region.
type Task struct {
	Service     string
	Operation   string
	ResultField string
	Region      string
	Strategy    Strategy
	Params      map[string]any
}

func (t Task) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", t.Service, t.Operation, t.ResultField, t.Region)
}

// Expand crosses the catalog with the region set. Global services produce one
// task in the home region; regional services one task per distinct region.
// keep, when non-nil, drops services it returns false for.
func (c *Catalog) Expand(regions []string, keep func(service string) bool) []Task {
	regions = dedupe(regions)

	home := c.HomeRegion
	if home == "" {
		home = DefaultHomeRegion
	}

	var tasks []Task
	add := func(svc Service, region string) {
		for _, op := range svc.Operations {
			tasks = append(tasks, Task{
				Service:     svc.Name,
				Operation:   op.Name,
				ResultField: op.ResultField,
				Region:      region,
				Strategy:    svc.Strategy,
				Params:      op.Params,
			})
		}
	}

	// global services first, then regional ones in catalog order
	for _, svc := range c.Services {
		if svc.Scope != ScopeGlobal || (keep != nil && !keep(svc.Name)) {
			continue
		}
		add(svc, home)
	}
	for _, svc := range c.Services {
		if svc.Scope != ScopeRegional || (keep != nil && !keep(svc.Name)) {
			continue
		}
		for _, region := range regions {
			add(svc, region)
		}
	}

	return tasks
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
