package models

import "time"

// Status is the closed set of node and run statuses
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSkipped   Status = "skipped"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status value
var AllStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusSkipped,
	StatusBlocked,
	StatusFailed,
	StatusCompleted,
	StatusCancelled,
}

// IsTerminal returns true if no further transitions are possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSkipped, StatusBlocked, StatusFailed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Trigger values for PipelineRun.Trigger
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// PipelineRun is a single execution of a pinned pipeline version
type PipelineRun struct {
	ID                string        `json:"id"`
	PipelineVersionID string        `json:"pipeline_version_id"`
	Status            Status        `json:"status"`
	Trigger           string        `json:"trigger"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	FailedNode        string        `json:"failed_node,omitempty"`
	Nodes             []NodeSummary `json:"nodes"`
}

// NodeSummary is the per-node outcome reported on a run
type NodeSummary struct {
	Key      string   `json:"key"`
	Status   Status   `json:"status"`
	Attempts int      `json:"attempts"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// StepRun is the telemetry record of one node within a run
type StepRun struct {
	ID            string                 `json:"id"`
	PipelineRunID string                 `json:"pipeline_run_id"`
	StepVersionID string                 `json:"step_version_id"`
	NodeKey       string                 `json:"node_key"`
	Status        Status                 `json:"status"`
	Attempts      int                    `json:"attempts"`
	Reason        string                 `json:"reason,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	Params        map[string]interface{} `json:"params,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   time.Time              `json:"completed_at"`
}

// IRArtifact is the intermediate representation a step produced
type IRArtifact struct {
	ID               string      `json:"id"`
	StepRunID        string      `json:"step_run_id"`
	IR               interface{} `json:"ir"`
	SchemaID         string      `json:"schema_id,omitempty"`
	IsValid          bool        `json:"is_valid"`
	ValidationErrors []string    `json:"validation_errors,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// MetricResult is one advisory check outcome. Value is a number or a string.
type MetricResult struct {
	ID        string                 `json:"id"`
	StepRunID string                 `json:"step_run_id"`
	MetricKey string                 `json:"metric_key"`
	Value     interface{}            `json:"value"`
	Passed    *bool                  `json:"passed,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// OutputRef is a reference to an artifact a step produced
type OutputRef struct {
	TargetType string `json:"targetType" yaml:"targetType"`
	TargetID   string `json:"targetId" yaml:"targetId"`
}

// OutputLink ties an output reference to the StepRun that produced it
type OutputLink struct {
	ID         string    `json:"id"`
	StepRunID  string    `json:"step_run_id"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// StepRunTelemetry groups everything recorded for a StepRun
type StepRunTelemetry struct {
	StepRun  StepRun        `json:"step_run"`
	Artifact *IRArtifact    `json:"ir_artifact,omitempty"`
	Metrics  []MetricResult `json:"metrics,omitempty"`
	Links    []OutputLink   `json:"output_links,omitempty"`
}
