package dag

import (
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// Builder provides a fluent API for building DAGs. Nodes keep the order
// in which they were added, which the planner uses as a tie-break.
type Builder struct {
	nodes []*NodeBuilder
	edges []models.DagEdge
}

// NewBuilder creates a new DAG builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Node adds a node to the DAG
func (b *Builder) Node(key string, nb *NodeBuilder) *Builder {
	nb.node.Key = key
	b.nodes = append(b.nodes, nb)
	return b
}

// Edge adds an explicit edge
func (b *Builder) Edge(from, to string) *Builder {
	b.edges = append(b.edges, models.DagEdge{From: from, To: to})
	return b
}

// DAG returns the DAG without validating it
func (b *Builder) DAG() *models.DAG {
	d := &models.DAG{
		Nodes: make([]models.DagNode, 0, len(b.nodes)),
		Edges: append([]models.DagEdge{}, b.edges...),
	}
	for _, nb := range b.nodes {
		d.Nodes = append(d.Nodes, nb.node)
	}
	return d
}

// Build constructs the final DAG and validates it
func (b *Builder) Build() (*models.DAG, error) {
	d := b.DAG()
	if _, err := NewValidator().Validate(d); err != nil {
		return nil, fmt.Errorf("DAG validation failed: %w", err)
	}
	return d, nil
}

// MustBuild builds the DAG and panics if there's an error (useful for testing)
func (b *Builder) MustBuild() *models.DAG {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// NodeBuilder provides a fluent API for building nodes
type NodeBuilder struct {
	node models.DagNode
}

// Step starts a node bound to a step version
func Step(stepVersionID string) *NodeBuilder {
	return &NodeBuilder{node: models.DagNode{StepVersionID: stepVersionID}}
}

// DependsOn sets legacy dependsOn keys
func (nb *NodeBuilder) DependsOn(keys ...string) *NodeBuilder {
	nb.node.DependsOn = append(nb.node.DependsOn, keys...)
	return nb
}

// Order sets the tie-break hint
func (nb *NodeBuilder) Order(order int) *NodeBuilder {
	nb.node.Order = &order
	return nb
}

// Condition sets the gating expression
func (nb *NodeBuilder) Condition(expr string) *NodeBuilder {
	nb.node.Condition = expr
	return nb
}

// Retries sets the number of retries
func (nb *NodeBuilder) Retries(count int) *NodeBuilder {
	nb.node.Retries = count
	return nb
}

// Timeout sets the per-attempt timeout
func (nb *NodeBuilder) Timeout(d time.Duration) *NodeBuilder {
	ms := d.Milliseconds()
	nb.node.TimeoutMs = &ms
	return nb
}

// Group sets the parallel group label
func (nb *NodeBuilder) Group(name string) *NodeBuilder {
	nb.node.ParallelGroup = name
	return nb
}

// Param sets one param override
func (nb *NodeBuilder) Param(key string, value interface{}) *NodeBuilder {
	if nb.node.Params == nil {
		nb.node.Params = make(map[string]interface{})
	}
	nb.node.Params[key] = value
	return nb
}

// MetricProfile binds a metric profile
func (nb *NodeBuilder) MetricProfile(id string) *NodeBuilder {
	nb.node.MetricProfileID = id
	return nb
}
