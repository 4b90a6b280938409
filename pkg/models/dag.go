package models

import "time"

// PipelineDefinition is the named, long-lived container for versions
type PipelineDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule,omitempty"` // Cron expression, runs the active version
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PipelineVersion is an immutable-once-run snapshot of a pipeline's DAG and config
type PipelineVersion struct {
	ID         string                 `json:"id"`
	PipelineID string                 `json:"pipeline_id"`
	Version    string                 `json:"version"`
	DAG        DAG                    `json:"dag"`
	Config     map[string]interface{} `json:"config"`
	IsActive   bool                   `json:"is_active"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Params returns the version-level default params stored under config.params
func (v *PipelineVersion) Params() map[string]interface{} {
	if v.Config == nil {
		return nil
	}
	params, _ := v.Config["params"].(map[string]interface{})
	return params
}

// DAG is the node and edge list of a pipeline version
type DAG struct {
	Nodes []DagNode `json:"nodes" yaml:"nodes"`
	Edges []DagEdge `json:"edges" yaml:"edges"`
}

// DagNode is a single step invocation within a DAG
type DagNode struct {
	Key             string                 `json:"key" yaml:"key"`
	StepVersionID   string                 `json:"stepVersionId" yaml:"stepVersionId"`
	DependsOn       []string               `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Order           *int                   `json:"order,omitempty" yaml:"order,omitempty"`
	Condition       string                 `json:"condition,omitempty" yaml:"condition,omitempty"`
	Retries         int                    `json:"retries,omitempty" yaml:"retries,omitempty"`
	TimeoutMs       *int64                 `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	ParallelGroup   string                 `json:"parallelGroup,omitempty" yaml:"parallelGroup,omitempty"`
	Params          map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	MetricProfileID string                 `json:"metricProfileId,omitempty" yaml:"metricProfileId,omitempty"`
}

// Timeout returns the per-attempt timeout, zero when unset
func (n *DagNode) Timeout() time.Duration {
	if n.TimeoutMs == nil || *n.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(*n.TimeoutMs) * time.Millisecond
}

// DagEdge is a directed dependency: To runs after From
type DagEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Clone returns a deep copy of the DAG so that versions never share mutable state
func (d DAG) Clone() DAG {
	out := DAG{
		Nodes: make([]DagNode, len(d.Nodes)),
		Edges: append([]DagEdge(nil), d.Edges...),
	}
	for i, n := range d.Nodes {
		c := n
		c.DependsOn = append([]string(nil), n.DependsOn...)
		if n.Order != nil {
			o := *n.Order
			c.Order = &o
		}
		if n.TimeoutMs != nil {
			t := *n.TimeoutMs
			c.TimeoutMs = &t
		}
		c.Params = CloneMap(n.Params)
		out.Nodes[i] = c
	}
	return out
}

// CloneMap deep copies a JSON-shaped map
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// ExecutionPlan is the ordered list of waves produced by the planner
type ExecutionPlan struct {
	PipelineVersionID string `json:"pipeline_version_id,omitempty"`
	Waves             []Wave `json:"waves"`
}

// Wave is one topological layer of the plan
type Wave struct {
	Index   int         `json:"index"`
	Keys    []string    `json:"keys"`
	Entries []WaveEntry `json:"entries"`
}

// WaveEntry groups node keys scheduled together within a wave.
// Entries built from a parallel group are marked Concurrent.
type WaveEntry struct {
	Keys          []string `json:"keys"`
	ParallelGroup string   `json:"parallel_group,omitempty"`
	Concurrent    bool     `json:"concurrent"`
}

// NodeCount returns the number of node keys across all waves
func (p *ExecutionPlan) NodeCount() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.Keys)
	}
	return n
}

// Keys returns every node key in plan order
func (p *ExecutionPlan) Keys() []string {
	keys := make([]string, 0, p.NodeCount())
	for _, w := range p.Waves {
		keys = append(keys, w.Keys...)
	}
	return keys
}
