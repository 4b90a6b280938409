package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

type versionRepository struct {
	db *gorm.DB
}

// NewVersionRepository creates a new pipeline version repository
func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

func (r *versionRepository) Create(ctx context.Context, version *models.PipelineVersion) error {
	model, err := FromVersion(version)
	if err != nil {
		return err
	}
	// Versions are always created inactive; Activate flips the flag
	model.IsActive = false

	if err := r.db.WithContext(ctx).Omit("Pipeline").Create(model).Error; err != nil {
		return translate(err, "create pipeline version")
	}

	version.ID = model.ID.String()
	version.IsActive = false
	version.CreatedAt = model.CreatedAt
	version.UpdatedAt = model.UpdatedAt

	return nil
}

func (r *versionRepository) Get(ctx context.Context, id string) (*models.PipelineVersion, error) {
	versionID, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidID("version", id)
	}

	var model PipelineVersionModel
	if err := r.db.WithContext(ctx).Where("id = ?", versionID).First(&model).Error; err != nil {
		return nil, translate(err, "get pipeline version")
	}

	return model.ToVersion(), nil
}

func (r *versionRepository) ListByPipeline(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error) {
	id, err := uuid.Parse(pipelineID)
	if err != nil {
		return nil, invalidID("pipeline", pipelineID)
	}

	var versionModels []PipelineVersionModel
	if err := r.db.WithContext(ctx).
		Where("pipeline_id = ?", id).
		Order("created_at ASC").
		Find(&versionModels).Error; err != nil {
		return nil, translate(err, "list pipeline versions")
	}

	versions := make([]*models.PipelineVersion, len(versionModels))
	for i := range versionModels {
		versions[i] = versionModels[i].ToVersion()
	}

	return versions, nil
}

func (r *versionRepository) GetActive(ctx context.Context, pipelineID string) (*models.PipelineVersion, error) {
	id, err := uuid.Parse(pipelineID)
	if err != nil {
		return nil, invalidID("pipeline", pipelineID)
	}

	var model PipelineVersionModel
	if err := r.db.WithContext(ctx).
		Where("pipeline_id = ? AND is_active = ?", id, true).
		First(&model).Error; err != nil {
		return nil, translate(err, "get active pipeline version")
	}

	return model.ToVersion(), nil
}

func (r *versionRepository) UpdateDefinition(ctx context.Context, version *models.PipelineVersion) error {
	versionID, err := uuid.Parse(version.ID)
	if err != nil {
		return invalidID("version", version.ID)
	}

	// Select forces zero-value config to be written as well
	result := r.db.WithContext(ctx).
		Model(&PipelineVersionModel{ID: versionID}).
		Where("NOT EXISTS (SELECT 1 FROM pipeline_runs WHERE pipeline_runs.pipeline_version_id = pipeline_versions.id)").
		Select("DAG", "Config", "UpdatedAt").
		Updates(&PipelineVersionModel{
			DAG:       version.DAG,
			Config:    JSONB(version.Config),
			UpdatedAt: r.db.NowFunc(),
		})
	if result.Error != nil {
		return translate(result.Error, "update pipeline version")
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&PipelineVersionModel{}).Where("id = ?", versionID).Count(&n).Error; err != nil {
			return translate(err, "update pipeline version")
		}
		if n == 0 {
			return fmt.Errorf("failed to update pipeline version: %w", ErrNotFound)
		}
		return fmt.Errorf("failed to update pipeline version %s: %w", version.ID, ErrVersionExecuted)
	}

	return nil
}

// Activate clears the active flag of every sibling and sets it on versionID
// in one transaction. The partial unique index on (pipeline_id) WHERE
// is_active guarantees at most one active version even under races.
func (r *versionRepository) Activate(ctx context.Context, pipelineID, versionID string) error {
	pid, err := uuid.Parse(pipelineID)
	if err != nil {
		return invalidID("pipeline", pipelineID)
	}
	vid, err := uuid.Parse(versionID)
	if err != nil {
		return invalidID("version", versionID)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PipelineVersionModel{}).
			Where("pipeline_id = ? AND is_active = ? AND id <> ?", pid, true, vid).
			Update("is_active", false).Error; err != nil {
			return translate(err, "deactivate pipeline versions")
		}

		result := tx.Model(&PipelineVersionModel{}).
			Where("id = ? AND pipeline_id = ?", vid, pid).
			Update("is_active", true)
		if result.Error != nil {
			return translate(result.Error, "activate pipeline version")
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("failed to activate pipeline version: %w", ErrNotFound)
		}
		return nil
	})
}
