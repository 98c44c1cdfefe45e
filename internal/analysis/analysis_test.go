package analysis

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/pkg/resource"
)

func res(service, id string, kv ...string) resource.Descriptor {
	d := resource.Descriptor{Service: service, Region: "eu-west-1", ResultField: "Things", ResourceID: id}
	for i := 0; i+1 < len(kv); i += 2 {
		d.Tags = append(d.Tags, resource.Tag{Key: kv[i], Value: kv[i+1]})
	}
	d.TagCount = len(d.Tags)
	return d
}

func TestAggregate(t *testing.T) {
	resources := []resource.Descriptor{
		res("ec2", "i-1", "Env", "prod", "Owner", "a"),
		res("ec2", "i-2", "Env", "dev"),
		res("ec2", "i-3"),
		res("s3", "b-1", "Owner", "a", "Env", "prod"),
	}

	s := Aggregate(resources, []string{"bad.json: malformed"})

	assert.Equal(t, Totals{
		TotalResources:       4,
		ResourcesWithTags:    3,
		ResourcesWithoutTags: 1,
		TagCoveragePercent:   75,
		UniqueTagKeys:        2,
		TotalTagEntries:      5,
	}, s.Totals)

	assert.Equal(t, Counts{{"Env", 3}, {"Owner", 2}}, s.TagKeyFrequency)
	require.Len(t, s.TopTagValues, 2)
	assert.Equal(t, "Env", s.TopTagValues[0].Key)
	assert.Equal(t, Counts{{"prod", 2}, {"dev", 1}}, s.TopTagValues[0].Values)

	assert.Equal(t, &ServiceStats{Total: 3, Tagged: 2, Untagged: 1}, s.ServiceBreakdown["ec2"])
	assert.Equal(t, &ServiceStats{Total: 1, Tagged: 1}, s.ServiceBreakdown["s3"])
	assert.Equal(t, []string{"bad.json: malformed"}, s.Errors)
}

func TestAggregate_TiesKeepFirstEncounter(t *testing.T) {
	resources := []resource.Descriptor{
		res("ec2", "i-1", "Zeta", "1", "Alpha", "1"),
		res("ec2", "i-2", "Alpha", "2", "Zeta", "2"),
	}

	s := Aggregate(resources, nil)
	assert.Equal(t, []string{"Zeta", "Alpha"}, s.TagKeyFrequency.Keys())
}

func TestAggregate_TopLimits(t *testing.T) {
	var resources []resource.Descriptor
	for i := 0; i < 12; i++ {
		var kv []string
		for k := 0; k <= i; k++ {
			kv = append(kv, fmt.Sprintf("key%02d", k), fmt.Sprintf("v%d", i))
		}
		resources = append(resources, res("ec2", fmt.Sprintf("i-%d", i), kv...))
	}

	s := Aggregate(resources, nil)
	assert.Len(t, s.TagKeyFrequency, 12)
	require.Len(t, s.TopTagValues, TopN)
	assert.Equal(t, "key00", s.TopTagValues[0].Key)
	assert.Len(t, s.TopTagValues[0].Values, TopN)

	n, ok := s.TagKeyFrequency.Get("key00")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil, nil)
	assert.Equal(t, 0.0, s.Totals.TagCoveragePercent)
	assert.Zero(t, s.Totals.TotalResources)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tag_key_frequency":{}`)
	assert.Contains(t, string(data), `"top_tag_values":{}`)
	assert.Contains(t, string(data), `"errors":[]`)
}

func TestCounts_MarshalKeepsOrder(t *testing.T) {
	data, err := json.Marshal(Counts{{"b", 3}, {"a", 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"b":3,"a":1}`, string(data))

	data, err = json.Marshal(KeyedCounts{{Key: "Env", Values: Counts{{"prod", 2}}}})
	require.NoError(t, err)
	assert.Equal(t, `{"Env":{"prod":2}}`, string(data))
}

func TestPercent_Rounding(t *testing.T) {
	assert.Equal(t, 66.67, percent(2, 3))
	assert.Equal(t, 33.33, percent(1, 3))
	assert.Equal(t, 100.0, percent(5, 5))
	assert.Equal(t, 0.0, percent(1, 0))
}

func TestInconsistencies(t *testing.T) {
	got := Inconsistencies([]string{"env", "Owner", "Env", "ENV", "owner", "Project"})

	require.Len(t, got, 2)
	assert.Equal(t, "env", got[0].Pattern)
	assert.Equal(t, []string{"ENV", "Env", "env"}, got[0].SimilarKeys)
	assert.Equal(t, "owner", got[1].Pattern)
	assert.Equal(t, []string{"Owner", "owner"}, got[1].SimilarKeys)
	assert.NotEmpty(t, got[0].Recommendation)

	assert.Empty(t, Inconsistencies([]string{"Env", "Env"}))
}

func TestDetail(t *testing.T) {
	var resources []resource.Descriptor
	for i := 0; i < 7; i++ {
		resources = append(resources, res("ec2", fmt.Sprintf("i-%d", i), "Name", fmt.Sprintf("web-%d", i%2)))
	}
	resources = append(resources,
		res("s3", "b-1", "env", "prod"),
		res("s3", "b-2", "Env", "prod", "Team", "core"),
		res("sqs", "q-1"),
	)

	d := Detail(resources)

	assert.Equal(t, 1, d.UntaggedCount)
	assert.Equal(t, []ResourceRef{{Service: "sqs", Region: "eu-west-1", ResourceType: "Things", ResourceID: "q-1"}}, d.UntaggedResources)

	require.Len(t, d.TagInconsistencies, 1)
	assert.Equal(t, []string{"Env", "env"}, d.TagInconsistencies[0].SimilarKeys)

	require.Len(t, d.ResourcesByTagKey, 4)
	name := d.ResourcesByTagKey[0]
	assert.Equal(t, "Name", name.Key)
	assert.Equal(t, 7, name.Count)
	assert.Equal(t, 2, name.UniqueValues)
	assert.Len(t, name.SampleResources, SampleSize)
	assert.Equal(t, "env", d.ResourcesByTagKey[1].Key)

	require.Len(t, d.TagPatternCoverage, len(CommonPatterns))
	env := d.TagPatternCoverage[1]
	assert.Equal(t, "environment", env.Category)
	assert.Equal(t, []string{"Env", "env"}, env.ObservedKeys)
	assert.Equal(t, 2, env.Resources)
	assert.Equal(t, 20.0, env.CoveragePercent)
	assert.Equal(t, 70.0, d.TagPatternCoverage[0].CoveragePercent)
	assert.Equal(t, 1, d.TagPatternCoverage[2].Resources)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resources_by_tag_key":{"Name":{"count":7`)
}

func TestDetail_Empty(t *testing.T) {
	d := Detail(nil)
	assert.Zero(t, d.UntaggedCount)
	assert.Empty(t, d.ResourcesByTagKey)
	for _, p := range d.TagPatternCoverage {
		assert.Equal(t, 0.0, p.CoveragePercent)
	}
}

func TestCheckCompliance(t *testing.T) {
	var resources []resource.Descriptor
	for i := 0; i < 7; i++ {
		resources = append(resources, res("ec2", fmt.Sprintf("i-%d", i), "Owner", "a"))
	}
	for i := 0; i < 3; i++ {
		resources = append(resources, res("ec2", fmt.Sprintf("x-%d", i), "owner", "a"))
	}

	c := CheckCompliance(resources, []string{"Owner"})

	assert.Equal(t, 10, c.TotalResources)
	assert.Equal(t, 7, c.CompliantResources)
	assert.Equal(t, 3, c.NonCompliantResources)
	assert.Equal(t, 70.0, c.CompliancePercentage)
	require.Len(t, c.NonCompliantDetails, 3)
	assert.Equal(t, []string{"Owner"}, c.NonCompliantDetails[0].MissingTags)
	assert.Equal(t, "x-0", c.NonCompliantDetails[0].ResourceID)
}

func TestCheckCompliance_MissingSorted(t *testing.T) {
	c := CheckCompliance([]resource.Descriptor{res("ec2", "i-1", "Env", "prod")}, []string{"Project", "Owner", "Env"})
	require.Len(t, c.NonCompliantDetails, 1)
	assert.Equal(t, []string{"Owner", "Project"}, c.NonCompliantDetails[0].MissingTags)
	assert.Equal(t, 0.0, c.CompliancePercentage)
}

func TestCheckCompliance_Empty(t *testing.T) {
	c := CheckCompliance(nil, []string{"Owner"})
	assert.Equal(t, 0.0, c.CompliancePercentage)
	assert.Zero(t, c.NonCompliantResources)
}
