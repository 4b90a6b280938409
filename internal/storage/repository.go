package storage

import (
	"context"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// PipelineRepository defines the interface for pipeline definition persistence
type PipelineRepository interface {
	Create(ctx context.Context, pipeline *models.PipelineDefinition) error
	Get(ctx context.Context, id string) (*models.PipelineDefinition, error)
	GetByName(ctx context.Context, name string) (*models.PipelineDefinition, error)
	List(ctx context.Context, filters PipelineFilters) ([]*models.PipelineDefinition, error)
}

// PipelineFilters defines filters for listing pipelines
type PipelineFilters struct {
	ScheduledOnly bool
	Limit         int
	Offset        int
}

// VersionRepository defines the interface for pipeline version persistence
type VersionRepository interface {
	Create(ctx context.Context, version *models.PipelineVersion) error
	Get(ctx context.Context, id string) (*models.PipelineVersion, error)
	ListByPipeline(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error)
	GetActive(ctx context.Context, pipelineID string) (*models.PipelineVersion, error)
	// UpdateDefinition replaces the DAG and config of a version that has no
	// runs. The run check and the update are one statement.
	UpdateDefinition(ctx context.Context, version *models.PipelineVersion) error
	// Activate makes versionID the only active version of its pipeline
	Activate(ctx context.Context, pipelineID, versionID string) error
}

// RunRepository defines the interface for pipeline run persistence
type RunRepository interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Get(ctx context.Context, id string) (*models.PipelineRun, error)
	List(ctx context.Context, filters RunFilters) ([]*models.PipelineRun, error)
	Update(ctx context.Context, run *models.PipelineRun) error
	CountByVersion(ctx context.Context, versionID string) (int64, error)
}

// RunFilters defines filters for listing pipeline runs
type RunFilters struct {
	PipelineVersionID string
	Status            *models.Status
	Limit             int
	Offset            int
}

// TelemetryRepository defines the interface for per-node telemetry persistence
type TelemetryRepository interface {
	// SaveStepRun writes the StepRun with its IR artifact and metric results
	SaveStepRun(ctx context.Context, telemetry *models.StepRunTelemetry) error
	// CreateOutputLinks writes links, ignoring ones that already exist
	CreateOutputLinks(ctx context.Context, links []models.OutputLink) error
	ListByRun(ctx context.Context, runID string) ([]models.StepRunTelemetry, error)
}

// Repositories bundles every repository behind one backend
type Repositories struct {
	Pipelines PipelineRepository
	Versions  VersionRepository
	Runs      RunRepository
	Telemetry TelemetryRepository
}
