package dto

import (
	"time"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// CreatePipelineRequest represents the request to create a new pipeline
type CreatePipelineRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Schedule    string `json:"schedule" validate:"omitempty,cron"`
}

// ToInput converts the request to a store input
func (r CreatePipelineRequest) ToInput() versions.CreatePipelineInput {
	return versions.CreatePipelineInput{
		Name:        r.Name,
		Description: r.Description,
		Schedule:    r.Schedule,
	}
}

// PipelineResponse represents the response for a pipeline
type PipelineResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Schedule        string    `json:"schedule,omitempty"`
	ActiveVersionID string    `json:"active_version_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PipelineListResponse represents a paginated list of pipelines
type PipelineListResponse struct {
	Pipelines  []PipelineResponse `json:"pipelines"`
	Pagination PaginationMeta     `json:"pagination"`
}

// ToPipelineResponse converts a pipeline definition to a PipelineResponse.
// activeVersionID may be empty.
func ToPipelineResponse(p *models.PipelineDefinition, activeVersionID string) PipelineResponse {
	return PipelineResponse{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Schedule:        p.Schedule,
		ActiveVersionID: activeVersionID,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// CreateVersionRequest represents the request to create a pipeline version.
// With FromVersionID set the DAG and config of that version are copied and
// DAG or Config, when present, replace the copy.
type CreateVersionRequest struct {
	Version       string                 `json:"version" validate:"required,min=1,max=64"`
	FromVersionID string                 `json:"fromVersionId" validate:"omitempty,uuid"`
	DAG           *models.DAG            `json:"dag"`
	Config        map[string]interface{} `json:"config"`
}

// ToInput converts the request to a store input
func (r CreateVersionRequest) ToInput() versions.CreateVersionInput {
	return versions.CreateVersionInput{
		Version:       r.Version,
		FromVersionID: r.FromVersionID,
		DAG:           r.DAG,
		Config:        r.Config,
	}
}

// PatchVersionRequest replaces the DAG and/or config of an unfrozen version
type PatchVersionRequest struct {
	DAG    *models.DAG            `json:"dag"`
	Config map[string]interface{} `json:"config"`
}

// ToInput converts the request to a store input
func (r PatchVersionRequest) ToInput() versions.PatchInput {
	return versions.PatchInput{DAG: r.DAG, Config: r.Config}
}

// VersionResponse represents the response for a pipeline version
type VersionResponse struct {
	ID         string                 `json:"id"`
	PipelineID string                 `json:"pipeline_id"`
	Version    string                 `json:"version"`
	DAG        models.DAG             `json:"dag"`
	Config     map[string]interface{} `json:"config"`
	IsActive   bool                   `json:"is_active"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// VersionListResponse represents the versions of a pipeline
type VersionListResponse struct {
	Versions []VersionResponse `json:"versions"`
}

// ToVersionResponse converts a pipeline version to a VersionResponse
func ToVersionResponse(v *models.PipelineVersion) VersionResponse {
	return VersionResponse{
		ID:         v.ID,
		PipelineID: v.PipelineID,
		Version:    v.Version,
		DAG:        v.DAG,
		Config:     v.Config,
		IsActive:   v.IsActive,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}
