package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// ErrSlotWritten is returned when a node's context slot is written twice
var ErrSlotWritten = errors.New("run context slot already written")

// Slot is the part of the run context owned by one node
type Slot struct {
	Status  models.Status
	IR      interface{}
	Outputs []interface{}
	Metrics map[string]interface{}
}

// RunContext is the write-once map conditions and steps read from. Each node
// owns one slot; once written a slot never changes, so snapshots can share
// slot values without copying.
type RunContext struct {
	mu     sync.RWMutex
	params map[string]interface{}
	slots  map[string]Slot
}

// NewRunContext creates a run context with the run-level params
func NewRunContext(params map[string]interface{}) *RunContext {
	if params == nil {
		params = map[string]interface{}{}
	}
	return &RunContext{
		params: params,
		slots:  make(map[string]Slot),
	}
}

// Write stores a node's slot. A second write for the same key fails.
func (c *RunContext) Write(key string, slot Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.slots[key]; ok {
		return fmt.Errorf("%w: %s", ErrSlotWritten, key)
	}
	c.slots[key] = slot
	return nil
}

// Slot returns the slot of a node
func (c *RunContext) Slot(key string) (Slot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[key]
	return s, ok
}

// Snapshot returns the dotted-path namespace of everything written so far:
// params, status.<node>, ir.<node>, outputs.<node> and metrics.<node>.
// The result must be treated as read-only.
func (c *RunContext) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make(map[string]interface{}, len(c.slots))
	irs := make(map[string]interface{})
	outs := make(map[string]interface{})
	mets := make(map[string]interface{})

	for key, s := range c.slots {
		status[key] = string(s.Status)
		if s.IR != nil {
			irs[key] = s.IR
		}
		if s.Outputs != nil {
			outs[key] = s.Outputs
		}
		if s.Metrics != nil {
			mets[key] = s.Metrics
		}
	}

	return map[string]interface{}{
		"params":  c.params,
		"status":  status,
		"ir":      irs,
		"outputs": outs,
		"metrics": mets,
	}
}

// metricsSlot renders metric results under metrics.<node>: a passed verdict
// for the whole profile and {value, passed} per check key
func metricsSlot(results []models.MetricResult) map[string]interface{} {
	if len(results) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(results)+1)
	allPassed := true
	for _, r := range results {
		entry := map[string]interface{}{"value": r.Value}
		if r.Passed != nil {
			entry["passed"] = *r.Passed
			if !*r.Passed {
				allPassed = false
			}
		}
		out[r.MetricKey] = entry
	}
	out["passed"] = allPassed
	return out
}

// mergeParams layers maps left to right, later keys winning
func mergeParams(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return models.CloneMap(out)
}
