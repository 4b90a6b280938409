package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// JSONB is a custom type for JSONB object columns
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, j)
}

// StringArray is a custom type for string array columns stored as JSONB
type StringArray []string

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, s)
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("type assertion to []byte failed")
}

// PipelineModel represents the database model for a pipeline definition
type PipelineModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Name        string    `gorm:"type:varchar(255);unique;not null;index:idx_pipelines_name"`
	Description string    `gorm:"type:text"`
	Schedule    string    `gorm:"type:varchar(100)"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for PipelineModel
func (PipelineModel) TableName() string {
	return "pipelines"
}

// PipelineVersionModel represents the database model for a pipeline version
type PipelineVersionModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	PipelineID uuid.UUID  `gorm:"type:uuid;not null;index:idx_pipeline_versions_pipeline_id"`
	Version    string     `gorm:"type:varchar(100);not null"`
	DAG        models.DAG `gorm:"column:dag;type:jsonb;serializer:json;not null"`
	Config     JSONB      `gorm:"type:jsonb;default:'{}'"`
	IsActive   bool       `gorm:"not null;default:false"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	Pipeline PipelineModel `gorm:"foreignKey:PipelineID"`
}

// TableName specifies the table name for PipelineVersionModel
func (PipelineVersionModel) TableName() string {
	return "pipeline_versions"
}

// PipelineRunModel represents the database model for a pipeline run
type PipelineRunModel struct {
	ID                uuid.UUID            `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	PipelineVersionID uuid.UUID            `gorm:"type:uuid;not null;index:idx_pipeline_runs_version_id"`
	Status            string               `gorm:"type:varchar(50);not null;default:'running';index:idx_pipeline_runs_status"`
	Trigger           string               `gorm:"type:varchar(50);not null;default:'manual'"`
	StartedAt         time.Time            `gorm:"not null;index:idx_pipeline_runs_started_at"`
	EndedAt           *time.Time           `gorm:""`
	FailedNode        string               `gorm:"type:varchar(255)"`
	Nodes             []models.NodeSummary `gorm:"type:jsonb;serializer:json"`
	CreatedAt         time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	Version PipelineVersionModel `gorm:"foreignKey:PipelineVersionID"`
}

// TableName specifies the table name for PipelineRunModel
func (PipelineRunModel) TableName() string {
	return "pipeline_runs"
}

// StepRunModel represents the database model for a step run
type StepRunModel struct {
	ID            uuid.UUID   `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	PipelineRunID uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_step_runs_run_node"`
	StepVersionID string      `gorm:"type:varchar(255);not null;index:idx_step_runs_step_version_id"`
	NodeKey       string      `gorm:"type:varchar(255);not null;uniqueIndex:idx_step_runs_run_node"`
	Status        string      `gorm:"type:varchar(50);not null"`
	Attempts      int         `gorm:"not null;default:0"`
	Reason        string      `gorm:"type:text"`
	Warnings      StringArray `gorm:"type:jsonb;default:'[]'"`
	Params        JSONB       `gorm:"type:jsonb;default:'{}'"`
	StartedAt     *time.Time
	CompletedAt   time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	PipelineRun PipelineRunModel `gorm:"foreignKey:PipelineRunID"`
}

// TableName specifies the table name for StepRunModel
func (StepRunModel) TableName() string {
	return "step_runs"
}

// IRArtifactModel represents the database model for a step's IR
type IRArtifactModel struct {
	ID               uuid.UUID   `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	StepRunID        uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_ir_artifacts_step_run_id"`
	IR               interface{} `gorm:"column:ir_json;type:jsonb;serializer:json;not null"`
	SchemaID         string      `gorm:"type:varchar(255)"`
	IsValid          bool        `gorm:"not null;default:true"`
	ValidationErrors StringArray `gorm:"type:jsonb;default:'[]'"`
	CreatedAt        time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for IRArtifactModel
func (IRArtifactModel) TableName() string {
	return "ir_artifacts"
}

// MetricResultModel represents the database model for a metric check result
type MetricResultModel struct {
	ID        uuid.UUID   `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	StepRunID uuid.UUID   `gorm:"type:uuid;not null;index:idx_metric_results_step_run_id"`
	MetricKey string      `gorm:"type:varchar(255);not null"`
	Value     interface{} `gorm:"type:jsonb;serializer:json"`
	Passed    *bool
	Details   JSONB     `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for MetricResultModel
func (MetricResultModel) TableName() string {
	return "metric_results"
}

// OutputLinkModel represents the database model for an output link
type OutputLinkModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	StepRunID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_output_links_unique"`
	TargetType string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_output_links_unique"`
	TargetID   string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_output_links_unique"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for OutputLinkModel
func (OutputLinkModel) TableName() string {
	return "output_links"
}

// parseID parses an ID, generating a fresh one when empty
func parseID(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, errors.Join(ErrInvalidInput, err)
	}
	return parsed, nil
}

// ToPipeline converts a PipelineModel to a models.PipelineDefinition
func (p *PipelineModel) ToPipeline() *models.PipelineDefinition {
	return &models.PipelineDefinition{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Schedule:    p.Schedule,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// FromPipeline converts a models.PipelineDefinition to a PipelineModel
func FromPipeline(p *models.PipelineDefinition) (*PipelineModel, error) {
	id, err := parseID(p.ID)
	if err != nil {
		return nil, err
	}
	return &PipelineModel{
		ID:          id,
		Name:        p.Name,
		Description: p.Description,
		Schedule:    p.Schedule,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

// ToVersion converts a PipelineVersionModel to a models.PipelineVersion
func (v *PipelineVersionModel) ToVersion() *models.PipelineVersion {
	return &models.PipelineVersion{
		ID:         v.ID.String(),
		PipelineID: v.PipelineID.String(),
		Version:    v.Version,
		DAG:        v.DAG,
		Config:     map[string]interface{}(v.Config),
		IsActive:   v.IsActive,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

// FromVersion converts a models.PipelineVersion to a PipelineVersionModel
func FromVersion(v *models.PipelineVersion) (*PipelineVersionModel, error) {
	id, err := parseID(v.ID)
	if err != nil {
		return nil, err
	}
	pipelineID, err := uuid.Parse(v.PipelineID)
	if err != nil {
		return nil, errors.Join(ErrInvalidInput, err)
	}
	return &PipelineVersionModel{
		ID:         id,
		PipelineID: pipelineID,
		Version:    v.Version,
		DAG:        v.DAG,
		Config:     JSONB(v.Config),
		IsActive:   v.IsActive,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}, nil
}

// ToRun converts a PipelineRunModel to a models.PipelineRun
func (r *PipelineRunModel) ToRun() *models.PipelineRun {
	return &models.PipelineRun{
		ID:                r.ID.String(),
		PipelineVersionID: r.PipelineVersionID.String(),
		Status:            models.Status(r.Status),
		Trigger:           r.Trigger,
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
		FailedNode:        r.FailedNode,
		Nodes:             r.Nodes,
	}
}

// FromRun converts a models.PipelineRun to a PipelineRunModel
func FromRun(r *models.PipelineRun) (*PipelineRunModel, error) {
	id, err := parseID(r.ID)
	if err != nil {
		return nil, err
	}
	versionID, err := uuid.Parse(r.PipelineVersionID)
	if err != nil {
		return nil, errors.Join(ErrInvalidInput, err)
	}
	return &PipelineRunModel{
		ID:                id,
		PipelineVersionID: versionID,
		Status:            string(r.Status),
		Trigger:           r.Trigger,
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
		FailedNode:        r.FailedNode,
		Nodes:             r.Nodes,
	}, nil
}

// ToStepRun converts a StepRunModel to a models.StepRun
func (s *StepRunModel) ToStepRun() models.StepRun {
	return models.StepRun{
		ID:            s.ID.String(),
		PipelineRunID: s.PipelineRunID.String(),
		StepVersionID: s.StepVersionID,
		NodeKey:       s.NodeKey,
		Status:        models.Status(s.Status),
		Attempts:      s.Attempts,
		Reason:        s.Reason,
		Warnings:      []string(s.Warnings),
		Params:        map[string]interface{}(s.Params),
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}
}

// FromStepRun converts a models.StepRun to a StepRunModel
func FromStepRun(s *models.StepRun) (*StepRunModel, error) {
	id, err := parseID(s.ID)
	if err != nil {
		return nil, err
	}
	runID, err := uuid.Parse(s.PipelineRunID)
	if err != nil {
		return nil, errors.Join(ErrInvalidInput, err)
	}
	return &StepRunModel{
		ID:            id,
		PipelineRunID: runID,
		StepVersionID: s.StepVersionID,
		NodeKey:       s.NodeKey,
		Status:        string(s.Status),
		Attempts:      s.Attempts,
		Reason:        s.Reason,
		Warnings:      StringArray(s.Warnings),
		Params:        JSONB(s.Params),
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}, nil
}

// ToArtifact converts an IRArtifactModel to a models.IRArtifact
func (a *IRArtifactModel) ToArtifact() *models.IRArtifact {
	return &models.IRArtifact{
		ID:               a.ID.String(),
		StepRunID:        a.StepRunID.String(),
		IR:               a.IR,
		SchemaID:         a.SchemaID,
		IsValid:          a.IsValid,
		ValidationErrors: []string(a.ValidationErrors),
		CreatedAt:        a.CreatedAt,
	}
}

// ToMetricResult converts a MetricResultModel to a models.MetricResult
func (m *MetricResultModel) ToMetricResult() models.MetricResult {
	return models.MetricResult{
		ID:        m.ID.String(),
		StepRunID: m.StepRunID.String(),
		MetricKey: m.MetricKey,
		Value:     m.Value,
		Passed:    m.Passed,
		Details:   map[string]interface{}(m.Details),
		CreatedAt: m.CreatedAt,
	}
}

// ToOutputLink converts an OutputLinkModel to a models.OutputLink
func (o *OutputLinkModel) ToOutputLink() models.OutputLink {
	return models.OutputLink{
		ID:         o.ID.String(),
		StepRunID:  o.StepRunID.String(),
		TargetType: o.TargetType,
		TargetID:   o.TargetID,
		CreatedAt:  o.CreatedAt,
	}
}
