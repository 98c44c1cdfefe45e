// Package catalog describes which remote operations a scan enumerates and
// expands them into tasks.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultHomeRegion is the region global services are bound to.
const DefaultHomeRegion = "us-east-1"

// Strategy is the algorithm used to exhaust a paged listing.
type Strategy string

const (
	// StrategyPaginated follows the provider's continuation protocol.
	StrategyPaginated Strategy = "paginated"
	// StrategyManualCursor re-invokes the operation with the inline NextToken
	// until a response omits it.
	StrategyManualCursor Strategy = "manual-cursor"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyPaginated || s == StrategyManualCursor
}

// Scope controls how a service is crossed with the region set.
type Scope string

const (
	// ScopeGlobal services run once, in the home region.
	ScopeGlobal Scope = "global"
	// ScopeRegional services run once per requested region.
	ScopeRegional Scope = "per-region"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeRegional
}

// Operation is one (operation, result field) pair of a service.
type Operation struct {
	Name        string         `yaml:"operation"`
	ResultField string         `yaml:"result_field"`
	Params      map[string]any `yaml:"params,omitempty"`
}

// Service groups operations sharing a scope and traversal strategy.
type Service struct {
	Name       string      `yaml:"name"`
	Scope      Scope       `yaml:"scope"`
	Strategy   Strategy    `yaml:"strategy"`
	Operations []Operation `yaml:"operations"`
}

// Catalog is the immutable scan definition injected into the collector.
type Catalog struct {
	HomeRegion string    `yaml:"home_region"`
	Services   []Service `yaml:"services"`
}

//go:embed default.yaml
var defaultCatalog []byte

// ErrEmpty is returned for a catalog without operations.
var ErrEmpty = errors.New("catalog has no operations")

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.HomeRegion == "" {
		c.HomeRegion = DefaultHomeRegion
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks names, scopes and strategies, and rejects duplicate
// (service, operation, result field) triples since they would map to the
// same artifact.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	ops := 0
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service %d: name required", i)
		}
		if !svc.Scope.Valid() {
			return fmt.Errorf("service %s: invalid scope %q", svc.Name, svc.Scope)
		}
		if !svc.Strategy.Valid() {
			return fmt.Errorf("service %s: invalid strategy %q", svc.Name, svc.Strategy)
		}
		for _, op := range svc.Operations {
			if op.Name == "" || op.ResultField == "" {
				return fmt.Errorf("service %s: operation and result_field required", svc.Name)
			}
			id := svc.Name + "/" + op.Name + "/" + op.ResultField
			if seen[id] {
				return fmt.Errorf("duplicate operation %s", id)
			}
			seen[id] = true
			ops++
		}
	}
	if ops == 0 {
		return ErrEmpty
	}
	return nil
}

// NeedsRegions reports whether any service is scanned per region.
func (c *Catalog) NeedsRegions() bool {
	for _, svc := range c.Services {
		if svc.Scope == ScopeRegional && len(svc.Operations) > 0 {
			return true
		}
	}
	return false
}

// ServiceNames returns the distinct service names in catalog order.
func (c *Catalog) ServiceNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, svc := range c.Services {
		if !seen[svc.Name] {
			seen[svc.Name] = true
			names = append(names, svc.Name)
		}
	}
	return names
}
