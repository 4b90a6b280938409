package dto

import (
	"time"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/state"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// ExecuteRequest represents the request to execute a pipeline version
type ExecuteRequest struct {
	DryRun bool                   `json:"dryRun"`
	Params map[string]interface{} `json:"params"`
}

// PlanResponse is returned for a dry run
type PlanResponse struct {
	Plan *models.ExecutionPlan `json:"plan"`
}

// ExecuteResponse is returned when a run was started
type ExecuteResponse struct {
	RunID  string        `json:"runId"`
	Status models.Status `json:"status"`
}

// RunResponse represents a pipeline run with its per-node outcome
type RunResponse struct {
	ID                string               `json:"id"`
	PipelineVersionID string               `json:"pipeline_version_id"`
	Status            models.Status        `json:"status"`
	Trigger           string               `json:"trigger"`
	StartedAt         time.Time            `json:"started_at"`
	EndedAt           *time.Time           `json:"ended_at,omitempty"`
	Duration          string               `json:"duration,omitempty"`
	FailedNode        string               `json:"failed_node,omitempty"`
	Nodes             []models.NodeSummary `json:"nodes"`
	Telemetry         []StepRunResponse    `json:"telemetry,omitempty"`
}

// StepRunResponse is the telemetry recorded for one node of a run
type StepRunResponse struct {
	StepRun  models.StepRun        `json:"step_run"`
	Artifact *models.IRArtifact    `json:"ir_artifact,omitempty"`
	Metrics  []models.MetricResult `json:"metrics,omitempty"`
	Links    []models.OutputLink   `json:"output_links,omitempty"`
}

// RunListResponse represents a paginated list of runs
type RunListResponse struct {
	Runs       []RunResponse  `json:"runs"`
	Pagination PaginationMeta `json:"pagination"`
}

// ToRunResponse converts a pipeline run to a RunResponse
func ToRunResponse(run *models.PipelineRun) RunResponse {
	resp := RunResponse{
		ID:                run.ID,
		PipelineVersionID: run.PipelineVersionID,
		Status:            run.Status,
		Trigger:           run.Trigger,
		StartedAt:         run.StartedAt,
		EndedAt:           run.EndedAt,
		FailedNode:        run.FailedNode,
		Nodes:             run.Nodes,
	}
	if resp.Nodes == nil {
		resp.Nodes = []models.NodeSummary{}
	}
	if run.EndedAt != nil {
		resp.Duration = run.EndedAt.Sub(run.StartedAt).String()
	}
	return resp
}

// WithTelemetry attaches the telemetry rows of the run
func (r RunResponse) WithTelemetry(rows []models.StepRunTelemetry) RunResponse {
	r.Telemetry = make([]StepRunResponse, len(rows))
	for i, row := range rows {
		r.Telemetry[i] = StepRunResponse{
			StepRun:  row.StepRun,
			Artifact: row.Artifact,
			Metrics:  row.Metrics,
			Links:    row.Links,
		}
	}
	return r
}

// RunHistoryResponse lists the status transitions of a run and its nodes
type RunHistoryResponse struct {
	RunID       string               `json:"run_id"`
	Transitions []state.HistoryEntry `json:"transitions"`
}
