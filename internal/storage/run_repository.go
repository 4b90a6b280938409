package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new pipeline run repository
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	model, err := FromRun(run)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Omit("Version").Create(model).Error; err != nil {
		return translate(err, "create pipeline run")
	}

	run.ID = model.ID.String()

	return nil
}

func (r *runRepository) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidID("run", id)
	}

	var model PipelineRunModel
	if err := r.db.WithContext(ctx).Where("id = ?", runID).First(&model).Error; err != nil {
		return nil, translate(err, "get pipeline run")
	}

	return model.ToRun(), nil
}

func (r *runRepository) List(ctx context.Context, filters RunFilters) ([]*models.PipelineRun, error) {
	query := r.db.WithContext(ctx).Model(&PipelineRunModel{})

	if filters.PipelineVersionID != "" {
		versionID, err := uuid.Parse(filters.PipelineVersionID)
		if err != nil {
			return nil, invalidID("version", filters.PipelineVersionID)
		}
		query = query.Where("pipeline_version_id = ?", versionID)
	}

	if filters.Status != nil {
		query = query.Where("status = ?", string(*filters.Status))
	}

	query = query.Order("started_at DESC")

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var runModels []PipelineRunModel
	if err := query.Find(&runModels).Error; err != nil {
		return nil, translate(err, "list pipeline runs")
	}

	runs := make([]*models.PipelineRun, len(runModels))
	for i := range runModels {
		runs[i] = runModels[i].ToRun()
	}

	return runs, nil
}

// Update writes the mutable fields of a run: status, end time, failed node and
// the per-node summary
func (r *runRepository) Update(ctx context.Context, run *models.PipelineRun) error {
	runID, err := uuid.Parse(run.ID)
	if err != nil {
		return invalidID("run", run.ID)
	}

	result := r.db.WithContext(ctx).
		Model(&PipelineRunModel{ID: runID}).
		Select("Status", "EndedAt", "FailedNode", "Nodes", "UpdatedAt").
		Updates(&PipelineRunModel{
			Status:     string(run.Status),
			EndedAt:    run.EndedAt,
			FailedNode: run.FailedNode,
			Nodes:      run.Nodes,
			UpdatedAt:  r.db.NowFunc(),
		})
	if result.Error != nil {
		return translate(result.Error, "update pipeline run")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to update pipeline run: %w", ErrNotFound)
	}

	return nil
}

func (r *runRepository) CountByVersion(ctx context.Context, versionID string) (int64, error) {
	id, err := uuid.Parse(versionID)
	if err != nil {
		return 0, invalidID("version", versionID)
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&PipelineRunModel{}).
		Where("pipeline_version_id = ?", id).
		Count(&count).Error; err != nil {
		return 0, translate(err, "count pipeline runs")
	}

	return count, nil
}
