// Package validation checks step IR against the JSON schema bound to its
// step version. The outcome depends on the IR_VALIDATION_MODE flag, which is
// read on every call.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	oaierrors "github.com/go-openapi/errors"
	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/flags"
)

// SchemaOverrideParam lets a node pin a specific IR schema
const SchemaOverrideParam = "irSchemaId"

// SchemaSource resolves the schema for a step version
type SchemaSource interface {
	ResolveSchema(stepVersionID, overrideID string) (catalog.IRSchema, bool, error)
}

// Result is the outcome of one validation
type Result struct {
	Mode     flags.ValidationMode `json:"mode"`
	SchemaID string               `json:"schema_id,omitempty"`
	Checked  bool                 `json:"checked"`
	IsValid  bool                 `json:"is_valid"`
	Errors   []string             `json:"errors,omitempty"`
}

// Rejected reports whether the IR must fail the node
func (r Result) Rejected() bool {
	return r.Mode == flags.ModeEnforce && !r.IsValid
}

// RejectedError is returned for IR rejected in enforce mode
type RejectedError struct {
	SchemaID string
	Errors   []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("IR rejected by schema %s: %s", e.SchemaID, strings.Join(e.Errors, "; "))
}

// Err returns a RejectedError when the result is rejected
func (r Result) Err() error {
	if !r.Rejected() {
		return nil
	}
	return &RejectedError{SchemaID: r.SchemaID, Errors: r.Errors}
}

// Adapter validates IR payloads
type Adapter struct {
	flags   flags.Provider
	schemas SchemaSource
	logger  logrus.FieldLogger

	mu       sync.RWMutex
	compiled map[string]*spec.Schema
}

// NewAdapter creates a validation adapter
func NewAdapter(provider flags.Provider, schemas SchemaSource, logger logrus.FieldLogger) *Adapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Adapter{
		flags:    provider,
		schemas:  schemas,
		logger:   logger,
		compiled: make(map[string]*spec.Schema),
	}
}

// Validate checks ir for a step version. In off mode the IR is trusted and no
// schema lookup happens. In log mode errors are recorded but the IR stays
// valid. In enforce mode the IR is valid only without errors.
func (a *Adapter) Validate(ctx context.Context, stepVersionID string, params map[string]interface{}, ir interface{}) Result {
	mode := a.flags.ValidationMode(ctx)
	res := Result{Mode: mode, IsValid: true}
	if mode == flags.ModeOff {
		return res
	}

	override, _ := params[SchemaOverrideParam].(string)
	schema, ok, err := a.schemas.ResolveSchema(stepVersionID, override)
	if err != nil {
		res.Checked = true
		res.SchemaID = override
		res.Errors = []string{err.Error()}
		res.IsValid = mode != flags.ModeEnforce
		return res
	}
	if !ok {
		return res
	}

	res.SchemaID = schema.ID
	res.Checked = true
	res.Errors = a.check(schema, ir)

	if len(res.Errors) > 0 {
		a.logger.WithFields(logrus.Fields{
			"step_version_id": stepVersionID,
			"schema_id":       schema.ID,
			"mode":            mode,
		}).Warnf("IR failed schema validation: %s", strings.Join(res.Errors, "; "))
	}

	if mode == flags.ModeEnforce {
		res.IsValid = len(res.Errors) == 0
	}
	return res
}

func (a *Adapter) check(schema catalog.IRSchema, ir interface{}) []string {
	compiled, err := a.compile(schema)
	if err != nil {
		return []string{err.Error()}
	}

	data, err := normalize(ir)
	if err != nil {
		return []string{fmt.Sprintf("IR is not JSON encodable: %v", err)}
	}

	if err := validate.AgainstSchema(compiled, data, strfmt.Default); err != nil {
		return flatten(err)
	}
	return nil
}

func (a *Adapter) compile(schema catalog.IRSchema) (*spec.Schema, error) {
	a.mu.RLock()
	compiled, ok := a.compiled[schema.ID]
	a.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	raw, err := json.Marshal(schema.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema %s: %w", schema.ID, err)
	}
	compiled = new(spec.Schema)
	if err := json.Unmarshal(raw, compiled); err != nil {
		return nil, fmt.Errorf("failed to decode schema %s: %w", schema.ID, err)
	}

	a.mu.Lock()
	a.compiled[schema.ID] = compiled
	a.mu.Unlock()
	return compiled, nil
}

// normalize round-trips ir through JSON so the validator sees plain maps,
// slices and float64 numbers.
func normalize(ir interface{}) (interface{}, error) {
	raw, err := json.Marshal(ir)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(err error) []string {
	var composite *oaierrors.CompositeError
	if errors.As(err, &composite) {
		out := make([]string, 0, len(composite.Errors))
		for _, e := range composite.Errors {
			out = append(out, flatten(e)...)
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{err.Error()}
}
