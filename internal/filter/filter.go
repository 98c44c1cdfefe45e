// Package filter narrows which services a scan expands and which resources a
// report covers.
package filter

import (
	"github.com/yairfalse/tally/pkg/resource"
)

// Filter controls which services to scan and which resources to include.
// A nil *Filter passes everything.
type Filter struct {
	includeServices map[string]bool
	excludeServices map[string]bool
	includeTags     map[string]string
	excludeTags     map[string]string
}

// New creates a new Filter. An empty include list means every service.
func New(includeServices, excludeServices []string, includeTags, excludeTags map[string]string) *Filter {
	return &Filter{
		includeServices: toSet(includeServices),
		excludeServices: toSet(excludeServices),
		includeTags:     includeTags,
		excludeTags:     excludeTags,
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = true
		}
	}
	return set
}

// ShouldScanService returns true if the given catalog service should be scanned.
func (f *Filter) ShouldScanService(service string) bool {
	if f == nil {
		return true
	}
	if f.excludeServices[service] {
		return false
	}
	return len(f.includeServices) == 0 || f.includeServices[service]
}

// ShouldIncludeResource returns true if the resource passes tag filters.
func (f *Filter) ShouldIncludeResource(d resource.Descriptor) bool {
	if f == nil {
		return true
	}

	// include tags: ALL must match
	for k, v := range f.includeTags {
		if !d.HasTag(k, v) {
			return false
		}
	}

	// exclude tags: ANY match excludes
	for k, v := range f.excludeTags {
		if d.HasTag(k, v) {
			return false
		}
	}

	return true
}

// FilterResources returns only resources that pass the filter.
func (f *Filter) FilterResources(resources []resource.Descriptor) []resource.Descriptor {
	if f.IsEmpty() || len(f.includeTags)+len(f.excludeTags) == 0 {
		return resources
	}

	filtered := make([]resource.Descriptor, 0, len(resources))
	for _, d := range resources {
		if f.ShouldIncludeResource(d) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.includeServices) == 0 && len(f.excludeServices) == 0 &&
		len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
