// Package versions manages pipeline definitions and their versions: blank or
// copy-on-write creation, DAG patches and exclusive activation.
package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/dag"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

var (
	// ErrVersionFrozen is returned when patching a version that already ran
	ErrVersionFrozen = errors.New("version is frozen: it has been executed")

	// ErrVersionMismatch is returned when a source version belongs to another pipeline
	ErrVersionMismatch = errors.New("source version belongs to a different pipeline")

	// ErrInvalidSchedule is returned for a malformed cron expression
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// CreatePipelineInput holds the fields of a new pipeline
type CreatePipelineInput struct {
	Name        string
	Description string
	Schedule    string
}

// CreateVersionInput holds the fields of a new version. When FromVersionID is
// set the DAG and config are deep-copied from it; DAG and Config, when given,
// replace the copied values.
type CreateVersionInput struct {
	Version       string
	FromVersionID string
	DAG           *models.DAG
	Config        map[string]interface{}
}

// PatchInput replaces the DAG and/or config of a version
type PatchInput struct {
	DAG    *models.DAG
	Config map[string]interface{}
}

// Store implements version management on top of the repositories
type Store struct {
	pipelines storage.PipelineRepository
	versions  storage.VersionRepository
	runs      storage.RunRepository
	validator *dag.Validator
	logger    logrus.FieldLogger
}

// NewStore creates a version store
func NewStore(repos *storage.Repositories, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		pipelines: repos.Pipelines,
		versions:  repos.Versions,
		runs:      repos.Runs,
		validator: dag.NewValidator(),
		logger:    logger,
	}
}

// ValidateSchedule checks a standard five-field cron expression or descriptor
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, schedule, err)
	}
	return nil
}

// CreatePipeline creates a pipeline definition
func (s *Store) CreatePipeline(ctx context.Context, in CreatePipelineInput) (*models.PipelineDefinition, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", storage.ErrInvalidInput)
	}
	if err := ValidateSchedule(in.Schedule); err != nil {
		return nil, err
	}

	p := &models.PipelineDefinition{
		Name:        name,
		Description: in.Description,
		Schedule:    in.Schedule,
	}
	if err := s.pipelines.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"pipeline_id": p.ID, "name": p.Name}).Info("pipeline created")
	return p, nil
}

// GetPipeline returns a pipeline by ID
func (s *Store) GetPipeline(ctx context.Context, id string) (*models.PipelineDefinition, error) {
	return s.pipelines.Get(ctx, id)
}

// ListPipelines returns pipelines ordered by name
func (s *Store) ListPipelines(ctx context.Context, filters storage.PipelineFilters) ([]*models.PipelineDefinition, error) {
	return s.pipelines.List(ctx, filters)
}

// CreateVersion creates a new, inactive version of a pipeline
func (s *Store) CreateVersion(ctx context.Context, pipelineID string, in CreateVersionInput) (*models.PipelineVersion, error) {
	label := strings.TrimSpace(in.Version)
	if label == "" {
		return nil, fmt.Errorf("%w: version label is required", storage.ErrInvalidInput)
	}
	if _, err := s.pipelines.Get(ctx, pipelineID); err != nil {
		return nil, err
	}

	v := &models.PipelineVersion{
		PipelineID: pipelineID,
		Version:    label,
		DAG:        models.DAG{Nodes: []models.DagNode{}, Edges: []models.DagEdge{}},
		Config:     map[string]interface{}{},
	}

	if in.FromVersionID != "" {
		source, err := s.versions.Get(ctx, in.FromVersionID)
		if err != nil {
			return nil, err
		}
		if source.PipelineID != pipelineID {
			return nil, ErrVersionMismatch
		}
		// Deep copies so the new version never shares state with its source
		v.DAG = source.DAG.Clone()
		v.Config = models.CloneMap(source.Config)
	}
	if in.DAG != nil {
		v.DAG = in.DAG.Clone()
	}
	if in.Config != nil {
		v.Config = models.CloneMap(in.Config)
	}

	normalized, err := s.check(v.DAG)
	if err != nil {
		return nil, err
	}
	v.DAG = normalized

	if err := s.versions.Create(ctx, v); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"pipeline_id":     pipelineID,
		"version_id":      v.ID,
		"from_version_id": in.FromVersionID,
	}).Info("pipeline version created")
	return v, nil
}

// GetVersion returns a version by ID
func (s *Store) GetVersion(ctx context.Context, id string) (*models.PipelineVersion, error) {
	return s.versions.Get(ctx, id)
}

// ListVersions returns the versions of a pipeline, oldest first
func (s *Store) ListVersions(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error) {
	if _, err := s.pipelines.Get(ctx, pipelineID); err != nil {
		return nil, err
	}
	return s.versions.ListByPipeline(ctx, pipelineID)
}

// Patch validates and stores a new DAG and/or config. The stored DAG is
// always normalized. Versions that have been executed cannot be patched.
func (s *Store) Patch(ctx context.Context, versionID string, in PatchInput) (*models.PipelineVersion, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}

	runs, err := s.runs.CountByVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if runs > 0 {
		return nil, ErrVersionFrozen
	}

	if in.DAG != nil {
		normalized, err := s.check(*in.DAG)
		if err != nil {
			return nil, err
		}
		v.DAG = normalized
	}
	if in.Config != nil {
		v.Config = models.CloneMap(in.Config)
	}

	if err := s.versions.UpdateDefinition(ctx, v); err != nil {
		if errors.Is(err, storage.ErrVersionExecuted) {
			return nil, fmt.Errorf("%w: %v", ErrVersionFrozen, err)
		}
		return nil, err
	}

	s.logger.WithField("version_id", versionID).Info("pipeline version patched")
	return s.versions.Get(ctx, versionID)
}

// Activate makes the version the single active version of its pipeline.
// The DAG is re-validated first so an invalid version can never go live.
func (s *Store) Activate(ctx context.Context, versionID string) (*models.PipelineVersion, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.validator.Validate(&v.DAG); err != nil {
		return nil, err
	}

	if err := s.versions.Activate(ctx, v.PipelineID, v.ID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"pipeline_id": v.PipelineID, "version_id": v.ID}).Info("pipeline version activated")
	v.IsActive = true
	return v, nil
}

// ActiveVersion returns the active version of a pipeline
func (s *Store) ActiveVersion(ctx context.Context, pipelineID string) (*models.PipelineVersion, error) {
	return s.versions.GetActive(ctx, pipelineID)
}

func (s *Store) check(d models.DAG) (models.DAG, error) {
	if _, err := s.validator.Validate(&d); err != nil {
		return models.DAG{}, err
	}
	normalized := dag.Normalize(d)
	if normalized.Nodes == nil {
		normalized.Nodes = []models.DagNode{}
	}
	if normalized.Edges == nil {
		normalized.Edges = []models.DagEdge{}
	}
	return normalized, nil
}
