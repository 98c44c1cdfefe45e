// Package analysis computes tag coverage, consistency and compliance over
// normalized resources.
package analysis

import (
	"time"

	"github.com/yairfalse/tally/pkg/resource"
)

// TopN bounds the keys and values listed in the top values table.
const TopN = 10

// Totals are the headline numbers of a summary.
type Totals struct {
	TotalResources       int     `json:"total_resources"`
	ResourcesWithTags    int     `json:"resources_with_tags"`
	ResourcesWithoutTags int     `json:"resources_without_tags"`
	TagCoveragePercent   float64 `json:"tag_coverage_percent"`
	UniqueTagKeys        int     `json:"unique_tag_keys"`
	TotalTagEntries      int     `json:"total_tag_entries"`
}

// ServiceStats is the tagging breakdown of one service.
type ServiceStats struct {
	Total    int `json:"total"`
	Tagged   int `json:"tagged"`
	Untagged int `json:"untagged"`
}

// Summary is the aggregate tag report.
type Summary struct {
	GeneratedAt      time.Time                `json:"generated_at"`
	Totals           Totals                   `json:"summary"`
	TagKeyFrequency  Counts                   `json:"tag_key_frequency"`
	TopTagValues     KeyedCounts              `json:"top_tag_values"`
	ServiceBreakdown map[string]*ServiceStats `json:"service_breakdown"`
	Errors           []string                 `json:"errors"`
}

// Aggregate summarizes resources. errs are carried into the report as is.
func Aggregate(resources []resource.Descriptor, errs []string) *Summary {
	keys := newCounter()
	values := make(map[string]*counter)
	services := make(map[string]*ServiceStats)

	s := &Summary{
		GeneratedAt:      time.Now().UTC(),
		ServiceBreakdown: services,
		Errors:           append([]string{}, errs...),
	}

	for _, r := range resources {
		stats, ok := services[r.Service]
		if !ok {
			stats = &ServiceStats{}
			services[r.Service] = stats
		}
		stats.Total++

		if r.Tagged() {
			s.Totals.ResourcesWithTags++
			stats.Tagged++
		} else {
			stats.Untagged++
		}

		for _, tag := range r.Tags {
			s.Totals.TotalTagEntries++
			keys.add(tag.Key)
			vc, ok := values[tag.Key]
			if !ok {
				vc = newCounter()
				values[tag.Key] = vc
			}
			vc.add(tag.Value)
		}
	}

	s.Totals.TotalResources = len(resources)
	s.Totals.ResourcesWithoutTags = len(resources) - s.Totals.ResourcesWithTags
	s.Totals.TagCoveragePercent = percent(s.Totals.ResourcesWithTags, len(resources))
	s.Totals.UniqueTagKeys = keys.len()

	s.TagKeyFrequency = keys.sorted()
	s.TopTagValues = KeyedCounts{}
	for i, entry := range s.TagKeyFrequency {
		if i == TopN {
			break
		}
		top := values[entry.Key].sorted()
		if len(top) > TopN {
			top = top[:TopN]
		}
		s.TopTagValues = append(s.TopTagValues, KeyCounts{Key: entry.Key, Values: top})
	}

	return s
}
