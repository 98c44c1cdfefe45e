package analysis

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/yairfalse/tally/pkg/resource"
)

// SampleSize bounds the sample resources listed per tag key.
const SampleSize = 5

// Inconsistency is a group of tag keys differing only in case.
type Inconsistency struct {
	SimilarKeys    []string `json:"similar_keys"`
	Recommendation string   `json:"recommendation"`
	Pattern        string   `json:"pattern"`
}

// Inconsistencies groups keys by their lower-case form and reports every
// group with more than one spelling, ordered by pattern.
func Inconsistencies(keys []string) []Inconsistency {
	groups := make(map[string]map[string]bool)
	for _, k := range keys {
		pattern := strings.ToLower(k)
		if groups[pattern] == nil {
			groups[pattern] = make(map[string]bool)
		}
		groups[pattern][k] = true
	}

	out := []Inconsistency{}
	for pattern, spellings := range groups {
		if len(spellings) < 2 {
			continue
		}
		similar := make([]string, 0, len(spellings))
		for k := range spellings {
			similar = append(similar, k)
		}
		sort.Strings(similar)
		out = append(out, Inconsistency{
			SimilarKeys:    similar,
			Recommendation: "Standardize to one format",
			Pattern:        pattern,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}

// ResourceRef identifies a resource in reports.
type ResourceRef struct {
	Service      string `json:"service"`
	Region       string `json:"region"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// TagSample is one resource carrying a tag key.
type TagSample struct {
	Service    string `json:"service"`
	Region     string `json:"region"`
	ResourceID string `json:"resource_id"`
	Value      string `json:"value"`
}

// TagUsage describes how one tag key is used.
type TagUsage struct {
	Key             string      `json:"-"`
	Count           int         `json:"count"`
	UniqueValues    int         `json:"unique_values"`
	SampleResources []TagSample `json:"sample_resources"`
}

// TagUsages is ordered by count and encodes as a JSON object in that order.
type TagUsages []TagUsage

// MarshalJSON encodes the usages as an object keyed by tag key.
func (u TagUsages) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, usage := range u {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, usage.Key, usage); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Pattern is a tag category and the key spellings that count towards it.
type Pattern struct {
	Category string
	Keys     []string
}

// CommonPatterns are the tag categories reported on in the detailed report.
var CommonPatterns = []Pattern{
	{Category: "name", Keys: []string{"Name", "name", "NAME"}},
	{Category: "environment", Keys: []string{"Environment", "environment", "Env", "env"}},
	{Category: "owner", Keys: []string{"Owner", "owner", "Team", "team"}},
	{Category: "cost_center", Keys: []string{"CostCenter", "cost-center", "CostCentre", "BillingCode"}},
	{Category: "application", Keys: []string{"Application", "application", "App", "app"}},
	{Category: "project", Keys: []string{"Project", "project"}},
}

// PatternCoverage is how many resources carry a category's tag.
type PatternCoverage struct {
	Category        string   `json:"category"`
	ObservedKeys    []string `json:"observed_keys"`
	Resources       int      `json:"resources"`
	CoveragePercent float64  `json:"coverage_percent"`
}

// Detailed is the detailed tag report.
type Detailed struct {
	GeneratedAt        time.Time         `json:"generated_at"`
	UntaggedResources  []ResourceRef     `json:"untagged_resources"`
	UntaggedCount      int               `json:"untagged_count"`
	TagInconsistencies []Inconsistency   `json:"tag_inconsistencies"`
	ResourcesByTagKey  TagUsages         `json:"resources_by_tag_key"`
	TagPatternCoverage []PatternCoverage `json:"tag_pattern_coverage"`
}

// Detail builds the detailed report.
func Detail(resources []resource.Descriptor) *Detailed {
	d := &Detailed{
		GeneratedAt:       time.Now().UTC(),
		UntaggedResources: []ResourceRef{},
	}

	var order []string
	usages := make(map[string]*TagUsage)
	uniques := make(map[string]map[string]bool)

	for _, r := range resources {
		if !r.Tagged() {
			d.UntaggedResources = append(d.UntaggedResources, ResourceRef{
				Service:      r.Service,
				Region:       r.Region,
				ResourceType: r.ResultField,
				ResourceID:   r.ResourceID,
			})
			continue
		}

		for _, tag := range r.Tags {
			usage, ok := usages[tag.Key]
			if !ok {
				usage = &TagUsage{Key: tag.Key, SampleResources: []TagSample{}}
				usages[tag.Key] = usage
				uniques[tag.Key] = make(map[string]bool)
				order = append(order, tag.Key)
			}
			usage.Count++
			uniques[tag.Key][tag.Value] = true
			if len(usage.SampleResources) < SampleSize {
				usage.SampleResources = append(usage.SampleResources, TagSample{
					Service:    r.Service,
					Region:     r.Region,
					ResourceID: r.ResourceID,
					Value:      tag.Value,
				})
			}
		}
	}

	d.UntaggedCount = len(d.UntaggedResources)
	d.TagInconsistencies = Inconsistencies(order)

	d.ResourcesByTagKey = make(TagUsages, 0, len(order))
	for _, key := range order {
		usage := usages[key]
		usage.UniqueValues = len(uniques[key])
		d.ResourcesByTagKey = append(d.ResourcesByTagKey, *usage)
	}
	sort.SliceStable(d.ResourcesByTagKey, func(i, j int) bool {
		return d.ResourcesByTagKey[i].Count > d.ResourcesByTagKey[j].Count
	})

	d.TagPatternCoverage = patternCoverage(resources)
	return d
}

func patternCoverage(resources []resource.Descriptor) []PatternCoverage {
	out := make([]PatternCoverage, 0, len(CommonPatterns))
	for _, p := range CommonPatterns {
		observed := make(map[string]bool)
		covered := 0
		for _, r := range resources {
			keys := r.TagKeys()
			hit := false
			for _, k := range p.Keys {
				if keys[k] {
					observed[k] = true
					hit = true
				}
			}
			if hit {
				covered++
			}
		}

		spellings := make([]string, 0, len(observed))
		for k := range observed {
			spellings = append(spellings, k)
		}
		sort.Strings(spellings)

		out = append(out, PatternCoverage{
			Category:        p.Category,
			ObservedKeys:    spellings,
			Resources:       covered,
			CoveragePercent: percent(covered, len(resources)),
		})
	}
	return out
}
