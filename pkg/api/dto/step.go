package dto

import "github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"

// StepListResponse lists the step versions of the catalog
type StepListResponse struct {
	Steps []catalog.StepVersion `json:"steps"`
}

// SchemaListResponse lists the IR schemas registered for a step version
type SchemaListResponse struct {
	StepVersionID string             `json:"step_version_id"`
	Schemas       []catalog.IRSchema `json:"schemas"`
}
