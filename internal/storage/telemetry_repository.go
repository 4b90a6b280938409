package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

type telemetryRepository struct {
	db *gorm.DB
}

// NewTelemetryRepository creates a new step run telemetry repository
func NewTelemetryRepository(db *gorm.DB) TelemetryRepository {
	return &telemetryRepository{db: db}
}

// SaveStepRun writes the StepRun, its IR artifact and its metric results in a
// single transaction so a StepRun is never visible with partial telemetry
func (r *telemetryRepository) SaveStepRun(ctx context.Context, telemetry *models.StepRunTelemetry) error {
	stepRun, err := FromStepRun(&telemetry.StepRun)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("PipelineRun").Create(stepRun).Error; err != nil {
			return translate(err, "create step run")
		}
		telemetry.StepRun.ID = stepRun.ID.String()

		if a := telemetry.Artifact; a != nil {
			id, err := parseID(a.ID)
			if err != nil {
				return err
			}
			artifact := &IRArtifactModel{
				ID:               id,
				StepRunID:        stepRun.ID,
				IR:               a.IR,
				SchemaID:         a.SchemaID,
				IsValid:          a.IsValid,
				ValidationErrors: StringArray(a.ValidationErrors),
			}
			if err := tx.Create(artifact).Error; err != nil {
				return translate(err, "create IR artifact")
			}
			a.ID = artifact.ID.String()
			a.StepRunID = telemetry.StepRun.ID
		}

		if len(telemetry.Metrics) == 0 {
			return nil
		}
		results := make([]MetricResultModel, len(telemetry.Metrics))
		for i, m := range telemetry.Metrics {
			id, err := parseID(m.ID)
			if err != nil {
				return err
			}
			results[i] = MetricResultModel{
				ID:        id,
				StepRunID: stepRun.ID,
				MetricKey: m.MetricKey,
				Value:     m.Value,
				Passed:    m.Passed,
				Details:   JSONB(m.Details),
			}
		}
		if err := tx.Create(&results).Error; err != nil {
			return translate(err, "create metric results")
		}
		for i := range telemetry.Metrics {
			telemetry.Metrics[i].ID = results[i].ID.String()
			telemetry.Metrics[i].StepRunID = telemetry.StepRun.ID
		}
		return nil
	})
}

func (r *telemetryRepository) CreateOutputLinks(ctx context.Context, links []models.OutputLink) error {
	if len(links) == 0 {
		return nil
	}

	rows := make([]OutputLinkModel, len(links))
	for i, l := range links {
		id, err := parseID(l.ID)
		if err != nil {
			return err
		}
		stepRunID, err := uuid.Parse(l.StepRunID)
		if err != nil {
			return invalidID("step run", l.StepRunID)
		}
		rows[i] = OutputLinkModel{
			ID:         id,
			StepRunID:  stepRunID,
			TargetType: l.TargetType,
			TargetID:   l.TargetID,
		}
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return translate(err, "create output links")
	}

	return nil
}

func (r *telemetryRepository) ListByRun(ctx context.Context, runID string) ([]models.StepRunTelemetry, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, invalidID("run", runID)
	}

	db := r.db.WithContext(ctx)

	var stepRuns []StepRunModel
	if err := db.Where("pipeline_run_id = ?", id).Order("completed_at ASC").Find(&stepRuns).Error; err != nil {
		return nil, translate(err, "list step runs")
	}
	if len(stepRuns) == 0 {
		return []models.StepRunTelemetry{}, nil
	}

	stepRunIDs := make([]uuid.UUID, len(stepRuns))
	for i := range stepRuns {
		stepRunIDs[i] = stepRuns[i].ID
	}

	var artifacts []IRArtifactModel
	if err := db.Where("step_run_id IN ?", stepRunIDs).Find(&artifacts).Error; err != nil {
		return nil, translate(err, "list IR artifacts")
	}
	var results []MetricResultModel
	if err := db.Where("step_run_id IN ?", stepRunIDs).Order("created_at ASC").Find(&results).Error; err != nil {
		return nil, translate(err, "list metric results")
	}
	var links []OutputLinkModel
	if err := db.Where("step_run_id IN ?", stepRunIDs).Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, translate(err, "list output links")
	}

	out := make([]models.StepRunTelemetry, len(stepRuns))
	index := make(map[uuid.UUID]int, len(stepRuns))
	for i := range stepRuns {
		out[i].StepRun = stepRuns[i].ToStepRun()
		index[stepRuns[i].ID] = i
	}
	for i := range artifacts {
		if j, ok := index[artifacts[i].StepRunID]; ok {
			out[j].Artifact = artifacts[i].ToArtifact()
		}
	}
	for i := range results {
		if j, ok := index[results[i].StepRunID]; ok {
			out[j].Metrics = append(out[j].Metrics, results[i].ToMetricResult())
		}
	}
	for i := range links {
		if j, ok := index[links[i].StepRunID]; ok {
			out[j].Links = append(out[j].Links, links[i].ToOutputLink())
		}
	}

	return out, nil
}

// IsNotFound reports whether err is a storage not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
