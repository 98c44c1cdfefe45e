package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/pkg/resource"
)

func descriptor(id string, kv ...string) resource.Descriptor {
	d := resource.Descriptor{Service: "ec2", Region: "eu-west-1", ResultField: "Vpcs", ResourceID: id}
	for i := 0; i+1 < len(kv); i += 2 {
		d.Tags = append(d.Tags, resource.Tag{Key: kv[i], Value: kv[i+1]})
	}
	d.TagCount = len(d.Tags)
	return d
}

func TestEngine_NoPolicies(t *testing.T) {
	e := NewEngine(nil)

	messages, err := e.Evaluate(context.Background(), descriptor("vpc-1"), []string{"Owner"})
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Empty(t, e.Policies())
}

func TestEngine_Defaults(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil)
	require.NoError(t, e.LoadDefaults(ctx))
	assert.Equal(t, []string{"default"}, e.Policies())

	messages, err := e.Evaluate(ctx, descriptor("vpc-1", "Owner", "team-a"), []string{"Owner"})
	require.NoError(t, err)
	assert.Empty(t, messages)

	messages, err = e.Evaluate(ctx, descriptor("vpc-2", "Env", " ", " Team", "core"), []string{"Owner", "Env"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`missing required tag "Owner"`,
		`tag " Team" has surrounding whitespace`,
		`tag "Env" has an empty value`,
	}, messages)
}

func TestEngine_UntaggedResource(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil)
	require.NoError(t, e.LoadDefaults(ctx))

	messages, err := e.Evaluate(ctx, descriptor("vpc-1"), []string{"Owner"})
	require.NoError(t, err)
	assert.Equal(t, []string{`missing required tag "Owner"`}, messages)

	messages, err = e.Evaluate(ctx, descriptor("vpc-1"), nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestEngine_LoadPolicy_Invalid(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil)
	require.NoError(t, e.LoadDefaults(ctx))

	err := e.LoadPolicy(ctx, "broken", "package tally\n\ndeny contains msg if {")
	assert.Error(t, err)
	assert.Equal(t, []string{"default"}, e.Policies())

	// the engine still evaluates with the modules that compiled
	messages, err := e.Evaluate(ctx, descriptor("vpc-1"), []string{"Owner"})
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestEngine_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "org"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org", "environments.rego"), []byte(`package tally

import rego.v1

allowed := {"prod", "staging", "dev"}

deny contains msg if {
	value := input.labels.Environment
	not allowed[value]
	msg := sprintf("environment %q is not allowed", [value])
}
`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0600))

	ctx := context.Background()
	e := NewEngine(nil)
	require.NoError(t, e.LoadDir(ctx, dir))
	assert.Equal(t, []string{filepath.Join("org", "environments")}, e.Policies())

	messages, err := e.Evaluate(ctx, descriptor("vpc-1", "Environment", "qa"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{`environment "qa" is not allowed`}, messages)

	messages, err = e.Evaluate(ctx, descriptor("vpc-2", "Environment", "prod"), nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestEngine_LoadDir_Missing(t *testing.T) {
	e := NewEngine(nil)
	assert.Error(t, e.LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope")))
}

func TestEngine_EvaluateAll(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil)
	require.NoError(t, e.LoadDefaults(ctx))

	report := e.EvaluateAll(ctx, []resource.Descriptor{
		descriptor("vpc-1", "Owner", "a"),
		descriptor("vpc-2"),
		descriptor("vpc-3", "Owner", ""),
	}, []string{"Owner"})

	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 2, report.Violating)
	require.Len(t, report.Violations, 2)
	assert.Equal(t, "vpc-2", report.Violations[0].ResourceID)
	assert.Equal(t, `missing required tag "Owner"`, report.Violations[0].Message)
	assert.Equal(t, `tag "Owner" has an empty value`, report.Violations[1].Message)
}
