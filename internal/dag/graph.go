package dag

import "github.com/therealutkarshpriyadarshi/pipeline/pkg/models"

// Graph is a normalized DAG as adjacency and reverse-adjacency lists.
// Iteration order always follows the original node and edge order.
type Graph struct {
	nodes      map[string]*models.DagNode
	index      map[string]int
	keys       []string
	adjList    map[string][]string // key -> successors
	revAdjList map[string][]string // key -> predecessors
}

// NewGraph builds a Graph from a DAG whose dependsOn lists were already
// merged into its edges. Edges whose endpoints are unknown are ignored.
func NewGraph(d *models.DAG) *Graph {
	g := &Graph{
		nodes:      make(map[string]*models.DagNode, len(d.Nodes)),
		index:      make(map[string]int, len(d.Nodes)),
		keys:       make([]string, 0, len(d.Nodes)),
		adjList:    make(map[string][]string, len(d.Nodes)),
		revAdjList: make(map[string][]string, len(d.Nodes)),
	}

	for i := range d.Nodes {
		node := &d.Nodes[i]
		if _, dup := g.nodes[node.Key]; dup {
			continue
		}
		g.nodes[node.Key] = node
		g.index[node.Key] = i
		g.keys = append(g.keys, node.Key)
		g.adjList[node.Key] = []string{}
		g.revAdjList[node.Key] = []string{}
	}

	for _, e := range d.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			continue
		}
		if _, ok := g.nodes[e.To]; !ok {
			continue
		}
		g.adjList[e.From] = append(g.adjList[e.From], e.To)
		g.revAdjList[e.To] = append(g.revAdjList[e.To], e.From)
	}

	return g
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.keys)
}

// Keys returns node keys in original list order
func (g *Graph) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Node returns the node for key
func (g *Graph) Node(key string) (*models.DagNode, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Index returns the original list position of key, or -1
func (g *Graph) Index(key string) int {
	if i, ok := g.index[key]; ok {
		return i
	}
	return -1
}

// Successors returns the direct dependents of key
func (g *Graph) Successors(key string) []string {
	return g.adjList[key]
}

// Predecessors returns the direct dependencies of key
func (g *Graph) Predecessors(key string) []string {
	return g.revAdjList[key]
}
