// Package policy evaluates Rego tag policies against resources. Policies
// contribute messages to the data.tally.deny set.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// Query is the rule every policy module contributes to.
const Query = "data.tally.deny"

//go:embed default.rego
var defaultPolicy string

// Input is the document a policy sees as input.
type Input struct {
	Resource     resource.Descriptor `json:"resource"`
	Labels       map[string]string   `json:"labels"`
	RequiredTags []string            `json:"required_tags"`
}

// Violation is one deny message for one resource.
type Violation struct {
	Service    string `json:"service"`
	Region     string `json:"region"`
	ResourceID string `json:"resource_id"`
	Message    string `json:"message"`
}

// Engine holds the loaded policy modules and their compiled query.
type Engine struct {
	modules  map[string]string
	prepared *rego.PreparedEvalQuery
	tel      *telemetry.Provider
	logger   *telemetry.Logger
}

// NewEngine creates an engine with no policies.
func NewEngine(tel *telemetry.Provider) *Engine {
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Engine{
		modules: make(map[string]string),
		tel:     tel,
		logger:  telemetry.NewLogger("policy"),
	}
}

// Policies returns the loaded module names, sorted.
func (e *Engine) Policies() []string {
	names := make([]string, 0, len(e.modules))
	for name := range e.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDefaults loads the built-in policy.
func (e *Engine) LoadDefaults(ctx context.Context) error {
	return e.LoadPolicy(ctx, "default", defaultPolicy)
}

// LoadPolicy adds a Rego module and recompiles the query. A module that fails
// to compile is not kept.
func (e *Engine) LoadPolicy(ctx context.Context, name, code string) error {
	ctx, span := e.tel.StartSpan(ctx, "policy.load", attribute.String("policy.name", name))
	defer span.End()

	previous, existed := e.modules[name]
	e.modules[name] = code

	if err := e.compile(ctx); err != nil {
		if existed {
			e.modules[name] = previous
		} else {
			delete(e.modules, name)
		}
		return fmt.Errorf("compile policy %s: %w", name, err)
	}

	e.logger.WithContext(ctx).Debug().Str("policy_name", name).Msg("policy loaded")
	return nil
}

// LoadDir loads every .rego file under dir.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("policy dir: %w", err)
	}

	root := filepath.Clean(dir)
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("policy file %s is outside %s", path, root)
		}

		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("read policy %s: %w", path, err)
		}

		return e.LoadPolicy(ctx, strings.TrimSuffix(rel, ".rego"), string(content))
	})
}

func (e *Engine) compile(ctx context.Context) error {
	opts := []func(*rego.Rego){rego.Query(Query)}
	for _, name := range e.Policies() {
		opts = append(opts, rego.Module(name+".rego", e.modules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return err
	}
	e.prepared = &prepared
	return nil
}

// Evaluate returns the sorted deny messages for one resource.
func (e *Engine) Evaluate(ctx context.Context, d resource.Descriptor, required []string) ([]string, error) {
	if e.prepared == nil {
		return nil, nil
	}

	if required == nil {
		required = []string{}
	}
	input := Input{Resource: d, Labels: d.Labels(), RequiredTags: required}
	if input.Resource.Tags == nil {
		input.Resource.Tags = []resource.Tag{}
	}

	rs, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", d.ResourceID, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("evaluate %s: %s is %T, want a set of strings", d.ResourceID, Query, rs[0].Expressions[0].Value)
	}

	messages := make([]string, 0, len(values))
	for _, v := range values {
		messages = append(messages, fmt.Sprint(v))
	}
	sort.Strings(messages)
	return messages, nil
}

// Report is the result of evaluating policies over an inventory.
type Report struct {
	Policies   []string    `json:"policies"`
	Evaluated  int         `json:"evaluated"`
	Violating  int         `json:"violating_resources"`
	Violations []Violation `json:"violations"`
}

// EvaluateAll evaluates every resource. A resource that fails evaluation is
// logged and counted as evaluated without violations.
func (e *Engine) EvaluateAll(ctx context.Context, resources []resource.Descriptor, required []string) *Report {
	ctx, span := e.tel.StartSpan(ctx, "policy.evaluate", attribute.Int("resources", len(resources)))
	defer span.End()

	report := &Report{Policies: e.Policies(), Violations: []Violation{}}
	for _, d := range resources {
		report.Evaluated++

		messages, err := e.Evaluate(ctx, d, required)
		if err != nil {
			e.logger.WithContext(ctx).Warn().Err(err).Str("resource_id", d.ResourceID).Msg("policy evaluation failed")
			continue
		}
		if len(messages) == 0 {
			continue
		}

		report.Violating++
		for _, msg := range messages {
			report.Violations = append(report.Violations, Violation{
				Service:    d.Service,
				Region:     d.Region,
				ResourceID: d.ResourceID,
				Message:    msg,
			})
		}
	}

	e.logger.WithContext(ctx).Info().
		Int("evaluated", report.Evaluated).
		Int("violating", report.Violating).
		Msg("policies evaluated")

	return report
}
