package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_FileName(t *testing.T) {
	k := Key{AccountID: "123456789012", Service: "ec2", Region: "us-east-1", Operation: "DescribeVpcs", ResultField: "Vpcs"}
	assert.Equal(t, "123456789012-ec2-us-east-1-DescribeVpcs-Vpcs.json", k.FileName())
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name string
		want Key
	}{
		{
			"123456789012-ec2-us-east-1-DescribeVpcs-Vpcs.json",
			Key{"123456789012", "ec2", "us-east-1", "DescribeVpcs", "Vpcs"},
		},
		{
			"123456789012-elbv2-eu-west-2-DescribeTargetGroups-TargetGroups.json",
			Key{"123456789012", "elbv2", "eu-west-2", "DescribeTargetGroups", "TargetGroups"},
		},
		{
			"123456789012-rds-us-gov-west-1-DescribeDBInstances-DBInstances.json",
			Key{"123456789012", "rds", "us-gov-west-1", "DescribeDBInstances", "DBInstances"},
		},
		{
			"123456789012-resource-groups-ap-southeast-2-ListGroups-Groups.json",
			Key{"123456789012", "resource-groups", "ap-southeast-2", "ListGroups", "Groups"},
		},
		{
			// no recognizable region: positional split
			"acct-svc-local-Op-Field-Extra.json",
			Key{"acct", "svc", "local", "Op", "Field-Extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFileName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFileName_RoundTrip(t *testing.T) {
	k := Key{AccountID: "000000000000", Service: "config", Region: "cn-northwest-1", Operation: "DescribeConfigRules", ResultField: "ConfigRules"}
	got, err := ParseFileName(k.FileName())
	require.NoError(t, err)
	assert.Equal(t, k, got)
}

func TestParseFileName_Invalid(t *testing.T) {
	for _, name := range []string{"a-b-c-d.json", "summary.json", "a-b-us-east-1-Op-Field.txt"} {
		_, err := ParseFileName(name)
		assert.ErrorIs(t, err, ErrBadFileName, name)
	}
}
