package dag

import (
	"sort"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// Planner turns a validated graph into topological waves
type Planner struct{}

// NewPlanner creates a new planner
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan layers the graph with Kahn's algorithm. Each wave holds the nodes
// whose predecessors all sit in earlier waves. Ready nodes are ordered by
// explicit order (present first, ascending), then list position, then key.
// Ready nodes sharing a parallel group are merged into one entry.
func (p *Planner) Plan(g *Graph) *models.ExecutionPlan {
	inDegree := make(map[string]int, g.Len())
	var ready []string
	for _, key := range g.Keys() {
		inDegree[key] = len(g.Predecessors(key))
		if inDegree[key] == 0 {
			ready = append(ready, key)
		}
	}

	plan := &models.ExecutionPlan{Waves: []models.Wave{}}

	for len(ready) > 0 {
		p.sortReady(g, ready)

		wave := models.Wave{Index: len(plan.Waves)}
		groupEntry := make(map[string]int)
		for _, key := range ready {
			node, _ := g.Node(key)
			if node.ParallelGroup == "" {
				wave.Entries = append(wave.Entries, models.WaveEntry{Keys: []string{key}})
				continue
			}
			if i, ok := groupEntry[node.ParallelGroup]; ok {
				wave.Entries[i].Keys = append(wave.Entries[i].Keys, key)
				continue
			}
			groupEntry[node.ParallelGroup] = len(wave.Entries)
			wave.Entries = append(wave.Entries, models.WaveEntry{
				Keys:          []string{key},
				ParallelGroup: node.ParallelGroup,
				Concurrent:    true,
			})
		}
		for _, entry := range wave.Entries {
			wave.Keys = append(wave.Keys, entry.Keys...)
		}
		plan.Waves = append(plan.Waves, wave)

		var next []string
		for _, key := range wave.Keys {
			for _, succ := range g.Successors(key) {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		ready = next
	}

	return plan
}

func (p *Planner) sortReady(g *Graph, keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, _ := g.Node(keys[i])
		b, _ := g.Node(keys[j])

		switch {
		case a.Order != nil && b.Order == nil:
			return true
		case a.Order == nil && b.Order != nil:
			return false
		case a.Order != nil && b.Order != nil && *a.Order != *b.Order:
			return *a.Order < *b.Order
		}

		if ia, ib := g.Index(a.Key), g.Index(b.Key); ia != ib {
			return ia < ib
		}
		return a.Key < b.Key
	})
}

// Compile validates a DAG and plans it in one step
func Compile(d *models.DAG) (*models.ExecutionPlan, *Graph, error) {
	g, err := NewValidator().Validate(d)
	if err != nil {
		return nil, nil, err
	}
	return NewPlanner().Plan(g), g, nil
}
