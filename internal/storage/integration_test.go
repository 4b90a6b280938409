//go:build integration

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

func seedVersion(t *testing.T, repos *Repositories) (*models.PipelineDefinition, *models.PipelineVersion) {
	t.Helper()
	ctx := context.Background()

	p := &models.PipelineDefinition{Name: "pipeline-" + uuid.NewString(), Description: "test"}
	if err := repos.Pipelines.Create(ctx, p); err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	v := &models.PipelineVersion{
		PipelineID: p.ID,
		Version:    "v1",
		DAG: models.DAG{
			Nodes: []models.DagNode{{Key: "a", StepVersionID: "echo@1"}, {Key: "b", StepVersionID: "echo@1"}},
			Edges: []models.DagEdge{{From: "a", To: "b"}},
		},
		Config: map[string]interface{}{"params": map[string]interface{}{"lang": "en"}},
	}
	if err := repos.Versions.Create(ctx, v); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	return p, v
}

func TestPipelineRepository_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repos := NewRepositories(db.DB)
	ctx := context.Background()

	p := &models.PipelineDefinition{Name: "ocr-" + uuid.NewString(), Schedule: "0 * * * *"}
	if err := repos.Pipelines.Create(ctx, p); err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	if p.ID == "" {
		t.Fatal("pipeline ID should be set after creation")
	}

	byName, err := repos.Pipelines.GetByName(ctx, p.Name)
	if err != nil || byName.ID != p.ID {
		t.Fatalf("GetByName() = %v, %v", byName, err)
	}

	dup := &models.PipelineDefinition{Name: p.Name}
	if err := repos.Pipelines.Create(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate name error = %v, want ErrAlreadyExists", err)
	}

	scheduled, err := repos.Pipelines.List(ctx, PipelineFilters{ScheduledOnly: true})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	found := false
	for _, s := range scheduled {
		if s.ID == p.ID {
			found = true
		}
	}
	if !found {
		t.Error("scheduled pipeline missing from filtered list")
	}

	if _, err := repos.Pipelines.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestVersionRepository_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repos := NewRepositories(db.DB)
	ctx := context.Background()
	p, v1 := seedVersion(t, repos)

	got, err := repos.Versions.Get(ctx, v1.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.DAG.Nodes) != 2 || got.DAG.Edges[0].To != "b" {
		t.Errorf("DAG did not roundtrip: %+v", got.DAG)
	}
	if got.Params()["lang"] != "en" {
		t.Errorf("config did not roundtrip: %+v", got.Config)
	}

	v2 := &models.PipelineVersion{PipelineID: p.ID, Version: "v2", DAG: got.DAG.Clone()}
	if err := repos.Versions.Create(ctx, v2); err != nil {
		t.Fatalf("Create(v2) error = %v", err)
	}

	t.Run("activation is exclusive", func(t *testing.T) {
		if err := repos.Versions.Activate(ctx, p.ID, v1.ID); err != nil {
			t.Fatalf("Activate(v1) error = %v", err)
		}
		if err := repos.Versions.Activate(ctx, p.ID, v2.ID); err != nil {
			t.Fatalf("Activate(v2) error = %v", err)
		}

		active, err := repos.Versions.GetActive(ctx, p.ID)
		if err != nil || active.ID != v2.ID {
			t.Fatalf("GetActive() = %v, %v; want v2", active, err)
		}

		all, _ := repos.Versions.ListByPipeline(ctx, p.ID)
		count := 0
		for _, v := range all {
			if v.IsActive {
				count++
			}
		}
		if count != 1 {
			t.Errorf("active versions = %d, want 1", count)
		}
	})

	t.Run("update definition", func(t *testing.T) {
		v2.DAG.Nodes = append(v2.DAG.Nodes, models.DagNode{Key: "c", StepVersionID: "echo@1"})
		v2.Config = map[string]interface{}{}
		if err := repos.Versions.UpdateDefinition(ctx, v2); err != nil {
			t.Fatalf("UpdateDefinition() error = %v", err)
		}
		updated, _ := repos.Versions.Get(ctx, v2.ID)
		if len(updated.DAG.Nodes) != 3 {
			t.Errorf("nodes = %d, want 3", len(updated.DAG.Nodes))
		}
	})
}

func TestRunAndTelemetryRepository_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repos := NewRepositories(db.DB)
	ctx := context.Background()
	_, v := seedVersion(t, repos)

	run := &models.PipelineRun{
		PipelineVersionID: v.ID,
		Status:            models.StatusRunning,
		Trigger:           models.TriggerManual,
		StartedAt:         time.Now().UTC(),
	}
	if err := repos.Runs.Create(ctx, run); err != nil {
		t.Fatalf("Create(run) error = %v", err)
	}

	ended := time.Now().UTC()
	run.Status = models.StatusFailed
	run.EndedAt = &ended
	run.FailedNode = "a"
	run.Nodes = []models.NodeSummary{
		{Key: "a", Status: models.StatusFailed, Attempts: 3, Reason: "boom"},
		{Key: "b", Status: models.StatusBlocked, Reason: "upstream failed"},
	}
	if err := repos.Runs.Update(ctx, run); err != nil {
		t.Fatalf("Update(run) error = %v", err)
	}

	got, err := repos.Runs.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get(run) error = %v", err)
	}
	if got.Status != models.StatusFailed || got.FailedNode != "a" || len(got.Nodes) != 2 {
		t.Errorf("run did not roundtrip: %+v", got)
	}

	n, err := repos.Runs.CountByVersion(ctx, v.ID)
	if err != nil || n != 1 {
		t.Errorf("CountByVersion() = %d, %v; want 1", n, err)
	}
	if err := repos.Versions.UpdateDefinition(ctx, v); !errors.Is(err, ErrVersionExecuted) {
		t.Errorf("UpdateDefinition() of an executed version error = %v, want ErrVersionExecuted", err)
	}

	passed := true
	telemetry := &models.StepRunTelemetry{
		StepRun: models.StepRun{
			PipelineRunID: run.ID,
			StepVersionID: "echo@1",
			NodeKey:       "a",
			Status:        models.StatusCompleted,
			Attempts:      1,
			CompletedAt:   ended,
		},
		Artifact: &models.IRArtifact{IR: map[string]interface{}{"pages": 2.0}, IsValid: true},
		Metrics:  []models.MetricResult{{MetricKey: "pages", Value: 2.0, Passed: &passed}},
	}
	if err := repos.Telemetry.SaveStepRun(ctx, telemetry); err != nil {
		t.Fatalf("SaveStepRun() error = %v", err)
	}

	links := []models.OutputLink{{StepRunID: telemetry.StepRun.ID, TargetType: "document", TargetID: "doc-1"}}
	if err := repos.Telemetry.CreateOutputLinks(ctx, links); err != nil {
		t.Fatalf("CreateOutputLinks() error = %v", err)
	}
	// Re-linking the same target is a no-op
	links[0].ID = ""
	if err := repos.Telemetry.CreateOutputLinks(ctx, links); err != nil {
		t.Fatalf("CreateOutputLinks(duplicate) error = %v", err)
	}

	rows, err := repos.Telemetry.ListByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("telemetry rows = %d, want 1", len(rows))
	}
	if rows[0].Artifact == nil || len(rows[0].Metrics) != 1 || len(rows[0].Links) != 1 {
		t.Errorf("telemetry did not roundtrip: %+v", rows[0])
	}
}
