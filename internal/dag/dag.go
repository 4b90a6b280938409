package dag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// ErrInvalidDAG is the sentinel every ValidationError unwraps to
var ErrInvalidDAG = errors.New("invalid DAG")

// ErrorKind identifies which validation check failed
type ErrorKind string

const (
	KindDuplicateKey         ErrorKind = "DuplicateKey"
	KindDanglingEdge         ErrorKind = "DanglingEdge"
	KindCycle                ErrorKind = "Cycle"
	KindInvalidParallelGroup ErrorKind = "InvalidParallelGroup"
	KindInvalidNode          ErrorKind = "InvalidNode"
)

// ValidationError describes a structural problem with a DAG
type ValidationError struct {
	Kind    ErrorKind `json:"kind"`
	Keys    []string  `json:"keys,omitempty"`
	Path    []string  `json:"path,omitempty"` // cycle node sequence, first == last
	Group   string    `json:"group,omitempty"`
	Message string    `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDAG
}

// AsValidationError extracts a ValidationError from err
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Validator provides DAG validation functionality
type Validator struct{}

// NewValidator creates a new DAG validator
func NewValidator() *Validator {
	return &Validator{}
}

// Normalize merges legacy dependsOn lists into the edge set. Edges are
// deduplicated, keep their first-seen order, and dependsOn is cleared.
func Normalize(d models.DAG) models.DAG {
	out := d.Clone()
	seen := make(map[models.DagEdge]bool, len(out.Edges))
	edges := make([]models.DagEdge, 0, len(out.Edges))

	add := func(e models.DagEdge) {
		if seen[e] {
			return
		}
		seen[e] = true
		edges = append(edges, e)
	}

	for _, e := range out.Edges {
		add(e)
	}
	for i := range out.Nodes {
		for _, dep := range out.Nodes[i].DependsOn {
			add(models.DagEdge{From: dep, To: out.Nodes[i].Key})
		}
		out.Nodes[i].DependsOn = nil
	}

	out.Edges = edges
	return out
}

// Validate normalizes the DAG and checks it, returning the graph the
// planner consumes. The input is not modified.
func (v *Validator) Validate(d *models.DAG) (*Graph, error) {
	normalized := Normalize(*d)

	keys := make(map[string]bool, len(normalized.Nodes))
	for _, node := range normalized.Nodes {
		if err := checkNode(&node); err != nil {
			return nil, err
		}
		if keys[node.Key] {
			return nil, &ValidationError{
				Kind:    KindDuplicateKey,
				Keys:    []string{node.Key},
				Message: fmt.Sprintf("duplicate node key: %s", node.Key),
			}
		}
		keys[node.Key] = true
	}

	for _, e := range normalized.Edges {
		missing := ""
		if !keys[e.From] {
			missing = e.From
		} else if !keys[e.To] {
			missing = e.To
		}
		if missing != "" {
			return nil, &ValidationError{
				Kind:    KindDanglingEdge,
				Keys:    []string{e.From, e.To},
				Message: fmt.Sprintf("edge %s -> %s references unknown node %s", e.From, e.To, missing),
			}
		}
	}

	g := NewGraph(&normalized)

	if err := v.detectCycle(g); err != nil {
		return nil, err
	}

	if err := v.checkParallelGroups(g); err != nil {
		return nil, err
	}

	return g, nil
}

func checkNode(node *models.DagNode) error {
	switch {
	case strings.TrimSpace(node.Key) == "":
		return &ValidationError{Kind: KindInvalidNode, Message: "node key cannot be empty"}
	case strings.TrimSpace(node.StepVersionID) == "":
		return &ValidationError{
			Kind:    KindInvalidNode,
			Keys:    []string{node.Key},
			Message: fmt.Sprintf("node %s has no stepVersionId", node.Key),
		}
	case node.Retries < 0:
		return &ValidationError{
			Kind:    KindInvalidNode,
			Keys:    []string{node.Key},
			Message: fmt.Sprintf("node %s has negative retries", node.Key),
		}
	case node.TimeoutMs != nil && *node.TimeoutMs < 0:
		return &ValidationError{
			Kind:    KindInvalidNode,
			Keys:    []string{node.Key},
			Message: fmt.Sprintf("node %s has negative timeoutMs", node.Key),
		}
	}
	return nil
}

// detectCycle runs a three-color depth-first search over the graph and
// reports the first back-edge found as a closed path.
func (v *Validator) detectCycle(g *Graph) error {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, g.Len())
	var stack []string

	var dfs func(string) []string
	dfs = func(key string) []string {
		color[key] = gray
		stack = append(stack, key)

		for _, next := range g.Successors(key) {
			switch color[next] {
			case gray:
				start := 0
				for i, k := range stack {
					if k == next {
						start = i
						break
					}
				}
				path := append([]string(nil), stack[start:]...)
				return append(path, next)
			case white:
				if path := dfs(next); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[key] = black
		return nil
	}

	for _, key := range g.Keys() {
		if color[key] != white {
			continue
		}
		if path := dfs(key); path != nil {
			return &ValidationError{
				Kind:    KindCycle,
				Keys:    uniqueKeys(path),
				Path:    path,
				Message: fmt.Sprintf("cycle detected: %s", strings.Join(path, " -> ")),
			}
		}
	}

	return nil
}

// checkParallelGroups rejects groups whose members are connected by a path
func (v *Validator) checkParallelGroups(g *Graph) error {
	groups := make(map[string][]string)
	var names []string
	for _, key := range g.Keys() {
		node, _ := g.Node(key)
		if node.ParallelGroup == "" {
			continue
		}
		if _, ok := groups[node.ParallelGroup]; !ok {
			names = append(names, node.ParallelGroup)
		}
		groups[node.ParallelGroup] = append(groups[node.ParallelGroup], key)
	}

	for _, name := range names {
		members := groups[name]
		if len(members) < 2 {
			continue
		}
		for _, a := range members {
			reach := g.reachable(a)
			for _, b := range members {
				if a != b && reach[b] {
					return &ValidationError{
						Kind:    KindInvalidParallelGroup,
						Keys:    []string{a, b},
						Group:   name,
						Message: fmt.Sprintf("nodes %s and %s share parallel group %q but %s depends on %s", a, b, name, b, a),
					}
				}
			}
		}
	}

	return nil
}

func uniqueKeys(path []string) []string {
	seen := make(map[string]bool, len(path))
	out := make([]string, 0, len(path))
	for _, k := range path {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
