package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// Registry resolves step versions to in-process Go functions
type Registry struct {
	functions map[string]StepFunc
	fallback  StepFunc
	mu        sync.RWMutex
}

// NewRegistry creates an empty step registry
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]StepFunc),
	}
}

// Register binds a function to a step version ID
func (r *Registry) Register(stepVersionID string, fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[stepVersionID] = fn
}

// SetFallback sets the function used for unregistered step versions
func (r *Registry) SetFallback(fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Resolve returns the function registered for stepVersionID
func (r *Registry) Resolve(stepVersionID string) (StepFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.functions[stepVersionID]; ok {
		return fn, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepVersionID)
}

// IDs returns the registered step version IDs, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.functions))
	for id := range r.functions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EchoStep is a step that returns its input as IR. Output references listed
// under params.outputs are passed through.
func EchoStep(ctx context.Context, in StepInput) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	var refs []models.OutputRef
	if raw, ok := in.Params["outputs"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			targetType, _ := m["targetType"].(string)
			targetID, _ := m["targetId"].(string)
			refs = append(refs, models.OutputRef{TargetType: targetType, TargetID: targetID})
		}
	}

	return StepResult{
		IR: map[string]interface{}{
			"stepVersionId": in.StepVersionID,
			"node":          in.NodeKey,
			"params":        in.Params,
		},
		Outputs: refs,
	}, nil
}
