package models

import (
	"testing"
	"time"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"Completed is terminal", StatusCompleted, true},
		{"Failed is terminal", StatusFailed, true},
		{"Skipped is terminal", StatusSkipped, true},
		{"Blocked is terminal", StatusBlocked, true},
		{"Cancelled is terminal", StatusCancelled, true},
		{"Pending is not terminal", StatusPending, false},
		{"Running is not terminal", StatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.status.IsTerminal()
			if got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStatus_IsValid(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.IsValid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if Status("queued").IsValid() {
		t.Error("Expected unknown status to be invalid")
	}
}

func TestDagNode_Timeout(t *testing.T) {
	var ms int64 = 250
	var zero int64
	tests := []struct {
		name     string
		node     DagNode
		expected time.Duration
	}{
		{"unset", DagNode{Key: "a"}, 0},
		{"zero", DagNode{Key: "a", TimeoutMs: &zero}, 0},
		{"set", DagNode{Key: "a", TimeoutMs: &ms}, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.Timeout(); got != tt.expected {
				t.Errorf("Timeout() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDAG_CloneIsDeep(t *testing.T) {
	order := 1
	original := DAG{
		Nodes: []DagNode{
			{
				Key:           "a",
				StepVersionID: "ocr@1",
				Order:         &order,
				DependsOn:     []string{"x"},
				Params:        map[string]interface{}{"nested": map[string]interface{}{"k": "v"}, "list": []interface{}{"one"}},
			},
		},
		Edges: []DagEdge{{From: "x", To: "a"}},
	}

	clone := original.Clone()
	*clone.Nodes[0].Order = 5
	clone.Nodes[0].DependsOn[0] = "y"
	clone.Nodes[0].Params["nested"].(map[string]interface{})["k"] = "changed"
	clone.Nodes[0].Params["list"].([]interface{})[0] = "two"
	clone.Edges[0].From = "y"

	if *original.Nodes[0].Order != 1 {
		t.Errorf("Expected original order 1, got %d", *original.Nodes[0].Order)
	}
	if original.Nodes[0].DependsOn[0] != "x" {
		t.Errorf("Expected original dependsOn 'x', got '%s'", original.Nodes[0].DependsOn[0])
	}
	if got := original.Nodes[0].Params["nested"].(map[string]interface{})["k"]; got != "v" {
		t.Errorf("Expected original nested param 'v', got '%v'", got)
	}
	if got := original.Nodes[0].Params["list"].([]interface{})[0]; got != "one" {
		t.Errorf("Expected original list param 'one', got '%v'", got)
	}
	if original.Edges[0].From != "x" {
		t.Errorf("Expected original edge from 'x', got '%s'", original.Edges[0].From)
	}
}

func TestPipelineVersion_Params(t *testing.T) {
	v := &PipelineVersion{}
	if v.Params() != nil {
		t.Error("Expected nil params for empty config")
	}

	v.Config = map[string]interface{}{"params": map[string]interface{}{"lang": "en"}}
	if v.Params()["lang"] != "en" {
		t.Errorf("Expected lang 'en', got '%v'", v.Params()["lang"])
	}
}

func TestExecutionPlan_Keys(t *testing.T) {
	plan := &ExecutionPlan{
		Waves: []Wave{
			{Index: 0, Keys: []string{"A", "D"}},
			{Index: 1, Keys: []string{"B", "C"}},
		},
	}

	if plan.NodeCount() != 4 {
		t.Errorf("Expected 4 nodes, got %d", plan.NodeCount())
	}
	keys := plan.Keys()
	expected := []string{"A", "D", "B", "C"}
	for i := range expected {
		if keys[i] != expected[i] {
			t.Errorf("Expected key %s at %d, got %s", expected[i], i, keys[i])
		}
	}
}
