package dag

import (
	"errors"
	"testing"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

func node(key string, deps ...string) models.DagNode {
	return models.DagNode{Key: key, StepVersionID: "step@1", DependsOn: deps}
}

func TestValidate_EmptyDAG(t *testing.T) {
	g, err := NewValidator().Validate(&models.DAG{})
	if err != nil {
		t.Fatalf("Expected blank DAG to be valid, got: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Expected empty graph, got %d nodes", g.Len())
	}
}

func TestValidate_DuplicateKey(t *testing.T) {
	d := &models.DAG{Nodes: []models.DagNode{node("a"), node("a")}}

	_, err := NewValidator().Validate(d)
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Kind != KindDuplicateKey {
		t.Errorf("Expected kind %s, got %s", KindDuplicateKey, verr.Kind)
	}
	if !errors.Is(err, ErrInvalidDAG) {
		t.Error("Expected error to unwrap to ErrInvalidDAG")
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	tests := []struct {
		name string
		dag  *models.DAG
	}{
		{
			name: "unknown edge target",
			dag: &models.DAG{
				Nodes: []models.DagNode{node("a")},
				Edges: []models.DagEdge{{From: "a", To: "missing"}},
			},
		},
		{
			name: "unknown edge source",
			dag: &models.DAG{
				Nodes: []models.DagNode{node("a")},
				Edges: []models.DagEdge{{From: "missing", To: "a"}},
			},
		},
		{
			name: "unknown dependsOn",
			dag:  &models.DAG{Nodes: []models.DagNode{node("a", "ghost")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator().Validate(tt.dag)
			verr, ok := AsValidationError(err)
			if !ok {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Kind != KindDanglingEdge {
				t.Errorf("Expected kind %s, got %s", KindDanglingEdge, verr.Kind)
			}
		})
	}
}

func TestValidate_InvalidNode(t *testing.T) {
	negative := int64(-1)
	tests := []struct {
		name string
		node models.DagNode
	}{
		{"empty key", models.DagNode{StepVersionID: "s"}},
		{"empty step version", models.DagNode{Key: "a"}},
		{"negative retries", models.DagNode{Key: "a", StepVersionID: "s", Retries: -1}},
		{"negative timeout", models.DagNode{Key: "a", StepVersionID: "s", TimeoutMs: &negative}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator().Validate(&models.DAG{Nodes: []models.DagNode{tt.node}})
			verr, ok := AsValidationError(err)
			if !ok {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Kind != KindInvalidNode {
				t.Errorf("Expected kind %s, got %s", KindInvalidNode, verr.Kind)
			}
		})
	}
}

func TestDetectCycle(t *testing.T) {
	tests := []struct {
		name string
		dag  *models.DAG
	}{
		{
			name: "two node cycle",
			dag:  &models.DAG{Nodes: []models.DagNode{node("a", "b"), node("b", "a")}},
		},
		{
			name: "self loop",
			dag: &models.DAG{
				Nodes: []models.DagNode{node("a")},
				Edges: []models.DagEdge{{From: "a", To: "a"}},
			},
		},
		{
			name: "cycle behind an acyclic prefix",
			dag: &models.DAG{
				Nodes: []models.DagNode{node("root"), node("x"), node("y"), node("z")},
				Edges: []models.DagEdge{
					{From: "root", To: "x"},
					{From: "x", To: "y"},
					{From: "y", To: "z"},
					{From: "z", To: "x"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator().Validate(tt.dag)
			verr, ok := AsValidationError(err)
			if !ok {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Kind != KindCycle {
				t.Fatalf("Expected kind %s, got %s", KindCycle, verr.Kind)
			}
			assertRealCycle(t, tt.dag, verr.Path)
		})
	}
}

// assertRealCycle checks that consecutive path entries are edges and the path closes
func assertRealCycle(t *testing.T, d *models.DAG, path []string) {
	t.Helper()

	if len(path) < 2 {
		t.Fatalf("Expected cycle path of at least 2 entries, got %v", path)
	}
	if path[0] != path[len(path)-1] {
		t.Errorf("Expected cycle path to start and end on the same node, got %v", path)
	}

	edges := make(map[models.DagEdge]bool)
	for _, e := range Normalize(*d).Edges {
		edges[e] = true
	}
	for i := 0; i+1 < len(path); i++ {
		e := models.DagEdge{From: path[i], To: path[i+1]}
		if !edges[e] {
			t.Errorf("Cycle path step %s -> %s is not an edge", e.From, e.To)
		}
	}
}

func TestValidate_InvalidParallelGroup(t *testing.T) {
	d := &models.DAG{
		Nodes: []models.DagNode{
			{Key: "a", StepVersionID: "s", ParallelGroup: "g"},
			{Key: "mid", StepVersionID: "s", DependsOn: []string{"a"}},
			{Key: "b", StepVersionID: "s", ParallelGroup: "g", DependsOn: []string{"mid"}},
		},
	}

	_, err := NewValidator().Validate(d)
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Kind != KindInvalidParallelGroup {
		t.Errorf("Expected kind %s, got %s", KindInvalidParallelGroup, verr.Kind)
	}
	if verr.Group != "g" {
		t.Errorf("Expected group 'g', got '%s'", verr.Group)
	}
}

func TestValidate_IndependentParallelGroup(t *testing.T) {
	d := &models.DAG{
		Nodes: []models.DagNode{
			node("root"),
			{Key: "a", StepVersionID: "s", ParallelGroup: "g", DependsOn: []string{"root"}},
			{Key: "b", StepVersionID: "s", ParallelGroup: "g", DependsOn: []string{"root"}},
		},
	}

	if _, err := NewValidator().Validate(d); err != nil {
		t.Errorf("Expected no error for independent group members, got: %v", err)
	}
}

func TestNormalize_MergesDependsOn(t *testing.T) {
	d := models.DAG{
		Nodes: []models.DagNode{node("a"), node("b", "a"), node("c", "a", "b")},
		Edges: []models.DagEdge{{From: "a", To: "b"}},
	}

	normalized := Normalize(d)

	expected := []models.DagEdge{{From: "a", To: "b"}, {From: "a", To: "c"}, {From: "b", To: "c"}}
	if len(normalized.Edges) != len(expected) {
		t.Fatalf("Expected %d edges, got %d: %v", len(expected), len(normalized.Edges), normalized.Edges)
	}
	for i, e := range expected {
		if normalized.Edges[i] != e {
			t.Errorf("Expected edge %v at %d, got %v", e, i, normalized.Edges[i])
		}
	}
	for _, n := range normalized.Nodes {
		if len(n.DependsOn) != 0 {
			t.Errorf("Expected dependsOn of %s to be cleared, got %v", n.Key, n.DependsOn)
		}
	}
	if len(d.Nodes[2].DependsOn) != 2 {
		t.Error("Expected Normalize to leave its input untouched")
	}
}
