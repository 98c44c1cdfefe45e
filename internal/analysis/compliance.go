package analysis

import (
	"time"

	"github.com/yairfalse/tally/pkg/resource"
)

// NonCompliant is a resource missing required tags.
type NonCompliant struct {
	Service     string   `json:"service"`
	Region      string   `json:"region"`
	ResourceID  string   `json:"resource_id"`
	MissingTags []string `json:"missing_tags"`
}

// Compliance is the required-tag compliance report.
type Compliance struct {
	GeneratedAt           time.Time      `json:"generated_at"`
	RequiredTags          []string       `json:"required_tags"`
	TotalResources        int            `json:"total_resources"`
	CompliantResources    int            `json:"compliant_resources"`
	NonCompliantResources int            `json:"non_compliant_resources"`
	CompliancePercentage  float64        `json:"compliance_percentage"`
	NonCompliantDetails   []NonCompliant `json:"non_compliant_details"`
}

// CheckCompliance reports resources whose tag keys do not include every
// required key. Matching is exact and case-sensitive.
func CheckCompliance(resources []resource.Descriptor, required []string) *Compliance {
	c := &Compliance{
		GeneratedAt:         time.Now().UTC(),
		RequiredTags:        append([]string{}, required...),
		TotalResources:      len(resources),
		NonCompliantDetails: []NonCompliant{},
	}

	for _, r := range resources {
		missing := r.MissingKeys(required)
		if len(missing) == 0 {
			continue
		}
		c.NonCompliantDetails = append(c.NonCompliantDetails, NonCompliant{
			Service:     r.Service,
			Region:      r.Region,
			ResourceID:  r.ResourceID,
			MissingTags: missing,
		})
	}

	c.NonCompliantResources = len(c.NonCompliantDetails)
	c.CompliantResources = c.TotalResources - c.NonCompliantResources
	c.CompliancePercentage = percent(c.CompliantResources, c.TotalResources)
	return c
}
