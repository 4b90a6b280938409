// Package catalog holds the step versions a DAG node can reference, the IR
// schemas bound to them and the metric profiles nodes can opt into.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
)

// ErrNotFound is returned for unknown step, schema or profile IDs
var ErrNotFound = errors.New("catalog entry not found")

// StepVersion is one deployable version of a step implementation
type StepVersion struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Version         string `json:"version" yaml:"version"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	DefaultSchemaID string `json:"default_schema_id,omitempty" yaml:"defaultSchemaId,omitempty"`
}

// IRSchema is a JSON schema an IR payload can be validated against
type IRSchema struct {
	ID            string                 `json:"id" yaml:"id"`
	StepVersionID string                 `json:"step_version_id" yaml:"stepVersionId"`
	Description   string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Schema        map[string]interface{} `json:"schema" yaml:"schema"`
}

// Check types understood by the metrics adapter
const (
	CheckIRValid      = "ir_valid"
	CheckFieldPresent = "field_present"
	CheckArrayLength  = "array_length"
	CheckNumberRange  = "number_range"
	CheckStringIn     = "string_in"
)

// MetricCheck is a single named check within a profile
type MetricCheck struct {
	Key    string   `json:"key" yaml:"key"`
	Type   string   `json:"type" yaml:"type"`
	Path   string   `json:"path,omitempty" yaml:"path,omitempty"`
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// MetricProfile is a named set of checks
type MetricProfile struct {
	ID          string        `json:"id" yaml:"id"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Checks      []MetricCheck `json:"checks" yaml:"checks"`
}

type catalogFile struct {
	Steps          []StepVersion   `yaml:"steps"`
	Schemas        []IRSchema      `yaml:"schemas"`
	MetricProfiles []MetricProfile `yaml:"metricProfiles"`
}

// Catalog is an in-memory, concurrency-safe registry
type Catalog struct {
	mu       sync.RWMutex
	steps    map[string]StepVersion
	schemas  map[string]IRSchema
	profiles map[string]MetricProfile
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{
		steps:    make(map[string]StepVersion),
		schemas:  make(map[string]IRSchema),
		profiles: make(map[string]MetricProfile),
	}
}

// LoadFile reads a catalog from a YAML file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Load(data)
}

// Load parses a catalog from YAML bytes
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	c := New()
	for _, s := range f.Steps {
		if err := c.AddStep(s); err != nil {
			return nil, err
		}
	}
	for _, s := range f.Schemas {
		if err := c.AddSchema(s); err != nil {
			return nil, err
		}
	}
	for _, p := range f.MetricProfiles {
		if err := c.AddProfile(p); err != nil {
			return nil, err
		}
	}

	for _, s := range c.steps {
		if s.DefaultSchemaID == "" {
			continue
		}
		if _, ok := c.schemas[s.DefaultSchemaID]; !ok {
			return nil, fmt.Errorf("step %s references unknown schema %s", s.ID, s.DefaultSchemaID)
		}
	}

	return c, nil
}

// AddStep registers a step version
func (c *Catalog) AddStep(s StepVersion) error {
	if s.ID == "" {
		return fmt.Errorf("step id cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.steps[s.ID]; dup {
		return fmt.Errorf("duplicate step id: %s", s.ID)
	}
	c.steps[s.ID] = s
	return nil
}

// AddSchema registers an IR schema bound to a known step version
func (c *Catalog) AddSchema(s IRSchema) error {
	if s.ID == "" {
		return fmt.Errorf("schema id cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.steps[s.StepVersionID]; !ok {
		return fmt.Errorf("schema %s references unknown step %s", s.ID, s.StepVersionID)
	}
	if _, dup := c.schemas[s.ID]; dup {
		return fmt.Errorf("duplicate schema id: %s", s.ID)
	}
	c.schemas[s.ID] = s
	return nil
}

// AddProfile registers a metric profile
func (c *Catalog) AddProfile(p MetricProfile) error {
	if p.ID == "" {
		return fmt.Errorf("metric profile id cannot be empty")
	}
	for _, check := range p.Checks {
		switch check.Type {
		case CheckIRValid, CheckFieldPresent, CheckArrayLength, CheckNumberRange, CheckStringIn:
		default:
			return fmt.Errorf("profile %s: unknown check type %q", p.ID, check.Type)
		}
		if check.Key == "" {
			return fmt.Errorf("profile %s: check key cannot be empty", p.ID)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.profiles[p.ID]; dup {
		return fmt.Errorf("duplicate metric profile id: %s", p.ID)
	}
	c.profiles[p.ID] = p
	return nil
}

// Steps returns every step version sorted by ID
func (c *Catalog) Steps() []StepVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]StepVersion, 0, len(c.steps))
	for _, s := range c.steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Step returns a step version by ID
func (c *Catalog) Step(id string) (StepVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.steps[id]
	if !ok {
		return StepVersion{}, fmt.Errorf("%w: step %s", ErrNotFound, id)
	}
	return s, nil
}

// SchemasFor returns the schemas bound to a step version, sorted by ID
func (c *Catalog) SchemasFor(stepVersionID string) ([]IRSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.steps[stepVersionID]; !ok {
		return nil, fmt.Errorf("%w: step %s", ErrNotFound, stepVersionID)
	}
	out := []IRSchema{}
	for _, s := range c.schemas {
		if s.StepVersionID == stepVersionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Schema returns an IR schema by ID
func (c *Catalog) Schema(id string) (IRSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[id]
	if !ok {
		return IRSchema{}, fmt.Errorf("%w: schema %s", ErrNotFound, id)
	}
	return s, nil
}

// ResolveSchema picks the schema for a step version: the explicit override
// if given, else the step's default, else the only bound schema. ok is false
// when no schema applies.
func (c *Catalog) ResolveSchema(stepVersionID, overrideID string) (IRSchema, bool, error) {
	if overrideID != "" {
		s, err := c.Schema(overrideID)
		if err != nil {
			return IRSchema{}, false, err
		}
		return s, true, nil
	}

	step, err := c.Step(stepVersionID)
	if err != nil {
		return IRSchema{}, false, nil
	}
	if step.DefaultSchemaID != "" {
		s, err := c.Schema(step.DefaultSchemaID)
		if err != nil {
			return IRSchema{}, false, err
		}
		return s, true, nil
	}

	bound, _ := c.SchemasFor(stepVersionID)
	if len(bound) == 1 {
		return bound[0], true, nil
	}
	return IRSchema{}, false, nil
}

// Profile returns a metric profile by ID
func (c *Catalog) Profile(id string) (MetricProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return MetricProfile{}, fmt.Errorf("%w: metric profile %s", ErrNotFound, id)
	}
	return p, nil
}
