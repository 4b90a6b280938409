package storage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

type pipelineRepository struct {
	db *gorm.DB
}

// NewPipelineRepository creates a new pipeline repository
func NewPipelineRepository(db *gorm.DB) PipelineRepository {
	return &pipelineRepository{db: db}
}

func (r *pipelineRepository) Create(ctx context.Context, pipeline *models.PipelineDefinition) error {
	model, err := FromPipeline(pipeline)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translate(err, "create pipeline")
	}

	pipeline.ID = model.ID.String()
	pipeline.CreatedAt = model.CreatedAt
	pipeline.UpdatedAt = model.UpdatedAt

	return nil
}

func (r *pipelineRepository) Get(ctx context.Context, id string) (*models.PipelineDefinition, error) {
	pipelineID, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidID("pipeline", id)
	}

	var model PipelineModel
	if err := r.db.WithContext(ctx).Where("id = ?", pipelineID).First(&model).Error; err != nil {
		return nil, translate(err, "get pipeline")
	}

	return model.ToPipeline(), nil
}

func (r *pipelineRepository) GetByName(ctx context.Context, name string) (*models.PipelineDefinition, error) {
	var model PipelineModel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&model).Error; err != nil {
		return nil, translate(err, "get pipeline by name")
	}

	return model.ToPipeline(), nil
}

func (r *pipelineRepository) List(ctx context.Context, filters PipelineFilters) ([]*models.PipelineDefinition, error) {
	query := r.db.WithContext(ctx).Model(&PipelineModel{})

	if filters.ScheduledOnly {
		query = query.Where("schedule <> ''")
	}

	query = query.Order("name ASC")

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var pipelineModels []PipelineModel
	if err := query.Find(&pipelineModels).Error; err != nil {
		return nil, translate(err, "list pipelines")
	}

	pipelines := make([]*models.PipelineDefinition, len(pipelineModels))
	for i := range pipelineModels {
		pipelines[i] = pipelineModels[i].ToPipeline()
	}

	return pipelines, nil
}
