package executor

import (
	"errors"
	"testing"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

func TestGate(t *testing.T) {
	tests := []struct {
		name    string
		preds   []upstream
		proceed bool
		cause   BlockCause
	}{
		{"root node", nil, true, BlockNone},
		{"completed predecessor", []upstream{{Key: "a", Status: models.StatusCompleted}}, true, BlockNone},
		{"failed predecessor", []upstream{{Key: "a", Status: models.StatusFailed}}, false, BlockUpstreamFailure},
		{
			"failure wins over a completed sibling",
			[]upstream{{Key: "a", Status: models.StatusCompleted}, {Key: "b", Status: models.StatusFailed}},
			false, BlockUpstreamFailure,
		},
		{
			"blocked by failure propagates",
			[]upstream{{Key: "a", Status: models.StatusBlocked, Cause: BlockUpstreamFailure}, {Key: "b", Status: models.StatusCompleted}},
			false, BlockUpstreamFailure,
		},
		{"only skipped", []upstream{{Key: "a", Status: models.StatusSkipped}}, false, BlockNoLivePredecessor},
		{
			"skipped with a live alternative",
			[]upstream{{Key: "a", Status: models.StatusSkipped}, {Key: "b", Status: models.StatusCompleted}},
			true, BlockNone,
		},
		{
			"blocked by a skip does not propagate failure",
			[]upstream{{Key: "a", Status: models.StatusBlocked, Cause: BlockNoLivePredecessor}},
			false, BlockNoLivePredecessor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gate(tt.preds)
			if got.Proceed != tt.proceed || got.Cause != tt.cause {
				t.Errorf("gate() = %+v, want proceed=%v cause=%q", got, tt.proceed, tt.cause)
			}
			if !got.Proceed && got.Reason == "" {
				t.Error("blocked decision without a reason")
			}
		})
	}
}

func TestRunContext_WriteOnce(t *testing.T) {
	rc := NewRunContext(map[string]interface{}{"tenant": "acme"})

	if err := rc.Write("a", Slot{Status: models.StatusCompleted, IR: map[string]interface{}{"n": 1.0}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := rc.Write("a", Slot{Status: models.StatusFailed}); !errors.Is(err, ErrSlotWritten) {
		t.Errorf("second Write() error = %v, want ErrSlotWritten", err)
	}
	if err := rc.Write("b", Slot{Status: models.StatusSkipped}); err != nil {
		t.Fatalf("Write(b) error = %v", err)
	}

	snap := rc.Snapshot()
	status := snap["status"].(map[string]interface{})
	if status["a"] != "completed" || status["b"] != "skipped" {
		t.Errorf("status namespace = %v", status)
	}
	irs := snap["ir"].(map[string]interface{})
	if _, ok := irs["b"]; ok {
		t.Error("skipped node must not expose IR")
	}
	if snap["params"].(map[string]interface{})["tenant"] != "acme" {
		t.Errorf("params namespace = %v", snap["params"])
	}

	slot, ok := rc.Slot("a")
	if !ok || slot.Status != models.StatusCompleted {
		t.Errorf("Slot(a) = %+v, %v", slot, ok)
	}
}

func TestMetricsSlot(t *testing.T) {
	pass, fail := true, false
	got := metricsSlot([]models.MetricResult{
		{MetricKey: "ir_valid", Value: 1.0, Passed: &pass},
		{MetricKey: "pages", Value: 3.0, Passed: &fail},
		{MetricKey: "lang", Value: "en"},
	})

	if got["passed"] != false {
		t.Errorf("passed = %v, want false", got["passed"])
	}
	pages := got["pages"].(map[string]interface{})
	if pages["value"] != 3.0 || pages["passed"] != false {
		t.Errorf("pages = %v", pages)
	}
	if _, ok := got["lang"].(map[string]interface{})["passed"]; ok {
		t.Error("a check without a verdict must not expose passed")
	}
	if metricsSlot(nil) != nil {
		t.Error("no results should give no slot")
	}
}

func TestMergeParams(t *testing.T) {
	base := map[string]interface{}{"lang": "en", "nested": map[string]interface{}{"x": 1}}
	got := mergeParams(base, map[string]interface{}{"lang": "fr"}, nil)

	if got["lang"] != "fr" {
		t.Errorf("lang = %v, want fr", got["lang"])
	}
	got["nested"].(map[string]interface{})["x"] = 2
	if base["nested"].(map[string]interface{})["x"] != 1 {
		t.Error("merge must deep copy")
	}
}
