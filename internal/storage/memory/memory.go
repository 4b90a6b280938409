// Package memory provides in-process implementations of the storage
// repositories, used by the CLI and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// Store holds every record in maps guarded by one lock
type Store struct {
	mu        sync.RWMutex
	pipelines map[string]models.PipelineDefinition
	versions  map[string]models.PipelineVersion
	runs      map[string]models.PipelineRun
	stepRuns  map[string][]models.StepRunTelemetry // by run ID, insertion order
	linkIndex map[string]string                    // step run ID -> run ID
	now       func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		pipelines: make(map[string]models.PipelineDefinition),
		versions:  make(map[string]models.PipelineVersion),
		runs:      make(map[string]models.PipelineRun),
		stepRuns:  make(map[string][]models.StepRunTelemetry),
		linkIndex: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Repositories returns the store behind every repository interface
func (s *Store) Repositories() *storage.Repositories {
	return &storage.Repositories{
		Pipelines: pipelineRepo{s},
		Versions:  versionRepo{s},
		Runs:      runRepo{s},
		Telemetry: telemetryRepo{s},
	}
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

type pipelineRepo struct{ s *Store }

func (r pipelineRepo) Create(ctx context.Context, p *models.PipelineDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.pipelines {
		if existing.Name == p.Name {
			return fmt.Errorf("pipeline %q: %w", p.Name, storage.ErrAlreadyExists)
		}
	}
	if _, ok := r.s.pipelines[p.ID]; ok && p.ID != "" {
		return fmt.Errorf("pipeline %s: %w", p.ID, storage.ErrAlreadyExists)
	}

	p.ID = newID(p.ID)
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.pipelines[p.ID] = *p
	return nil
}

func (r pipelineRepo) Get(ctx context.Context, id string) (*models.PipelineDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.pipelines[id]
	if !ok {
		return nil, notFound("pipeline", id)
	}
	return &p, nil
}

func (r pipelineRepo) GetByName(ctx context.Context, name string) (*models.PipelineDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.pipelines {
		if p.Name == name {
			out := p
			return &out, nil
		}
	}
	return nil, notFound("pipeline", name)
}

func (r pipelineRepo) List(ctx context.Context, filters storage.PipelineFilters) ([]*models.PipelineDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*models.PipelineDefinition, 0, len(r.s.pipelines))
	for _, p := range r.s.pipelines {
		if filters.ScheduledOnly && p.Schedule == "" {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, filters.Offset, filters.Limit), nil
}

type versionRepo struct{ s *Store }

func copyVersion(v models.PipelineVersion) *models.PipelineVersion {
	v.DAG = v.DAG.Clone()
	v.Config = models.CloneMap(v.Config)
	return &v
}

func (r versionRepo) Create(ctx context.Context, v *models.PipelineVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.pipelines[v.PipelineID]; !ok {
		return notFound("pipeline", v.PipelineID)
	}
	for _, existing := range r.s.versions {
		if existing.PipelineID == v.PipelineID && existing.Version == v.Version {
			return fmt.Errorf("version %q: %w", v.Version, storage.ErrAlreadyExists)
		}
	}

	v.ID = newID(v.ID)
	v.IsActive = false
	v.CreatedAt = r.s.now()
	v.UpdatedAt = v.CreatedAt
	r.s.versions[v.ID] = *copyVersion(*v)
	return nil
}

func (r versionRepo) Get(ctx context.Context, id string) (*models.PipelineVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	v, ok := r.s.versions[id]
	if !ok {
		return nil, notFound("version", id)
	}
	return copyVersion(v), nil
}

func (r versionRepo) ListByPipeline(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*models.PipelineVersion{}
	for _, v := range r.s.versions {
		if v.PipelineID == pipelineID {
			out = append(out, copyVersion(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version < out[j].Version
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r versionRepo) GetActive(ctx context.Context, pipelineID string) (*models.PipelineVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, v := range r.s.versions {
		if v.PipelineID == pipelineID && v.IsActive {
			return copyVersion(v), nil
		}
	}
	return nil, notFound("active version of pipeline", pipelineID)
}

func (r versionRepo) UpdateDefinition(ctx context.Context, v *models.PipelineVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.versions[v.ID]
	if !ok {
		return notFound("version", v.ID)
	}
	for _, run := range r.s.runs {
		if run.PipelineVersionID == v.ID {
			return fmt.Errorf("failed to update version %s: %w", v.ID, storage.ErrVersionExecuted)
		}
	}
	existing.DAG = v.DAG.Clone()
	existing.Config = models.CloneMap(v.Config)
	existing.UpdatedAt = r.s.now()
	r.s.versions[v.ID] = existing
	return nil
}

func (r versionRepo) Activate(ctx context.Context, pipelineID, versionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	target, ok := r.s.versions[versionID]
	if !ok || target.PipelineID != pipelineID {
		return notFound("version", versionID)
	}
	for id, v := range r.s.versions {
		if v.PipelineID != pipelineID {
			continue
		}
		v.IsActive = id == versionID
		r.s.versions[id] = v
	}
	return nil
}

type runRepo struct{ s *Store }

func copyRun(r models.PipelineRun) *models.PipelineRun {
	r.Nodes = append([]models.NodeSummary(nil), r.Nodes...)
	if r.EndedAt != nil {
		t := *r.EndedAt
		r.EndedAt = &t
	}
	return &r
}

func (r runRepo) Create(ctx context.Context, run *models.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.versions[run.PipelineVersionID]; !ok {
		return notFound("version", run.PipelineVersionID)
	}
	run.ID = newID(run.ID)
	if _, ok := r.s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrAlreadyExists)
	}
	r.s.runs[run.ID] = *copyRun(*run)
	return nil
}

func (r runRepo) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	run, ok := r.s.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	return copyRun(run), nil
}

func (r runRepo) List(ctx context.Context, filters storage.RunFilters) ([]*models.PipelineRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*models.PipelineRun{}
	for _, run := range r.s.runs {
		if filters.PipelineVersionID != "" && run.PipelineVersionID != filters.PipelineVersionID {
			continue
		}
		if filters.Status != nil && run.Status != *filters.Status {
			continue
		}
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, filters.Offset, filters.Limit), nil
}

func (r runRepo) Update(ctx context.Context, run *models.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.runs[run.ID]
	if !ok {
		return notFound("run", run.ID)
	}
	updated := copyRun(*run)
	existing.Status = updated.Status
	existing.EndedAt = updated.EndedAt
	existing.FailedNode = updated.FailedNode
	existing.Nodes = updated.Nodes
	r.s.runs[run.ID] = existing
	return nil
}

func (r runRepo) CountByVersion(ctx context.Context, versionID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, run := range r.s.runs {
		if run.PipelineVersionID == versionID {
			n++
		}
	}
	return n, nil
}

type telemetryRepo struct{ s *Store }

func (r telemetryRepo) SaveStepRun(ctx context.Context, t *models.StepRunTelemetry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	runID := t.StepRun.PipelineRunID
	if _, ok := r.s.runs[runID]; !ok {
		return notFound("run", runID)
	}
	for _, existing := range r.s.stepRuns[runID] {
		if existing.StepRun.NodeKey == t.StepRun.NodeKey {
			return fmt.Errorf("step run %s/%s: %w", runID, t.StepRun.NodeKey, storage.ErrAlreadyExists)
		}
	}

	now := r.s.now()
	t.StepRun.ID = newID(t.StepRun.ID)
	if t.Artifact != nil {
		t.Artifact.ID = newID(t.Artifact.ID)
		t.Artifact.StepRunID = t.StepRun.ID
		t.Artifact.CreatedAt = now
	}
	for i := range t.Metrics {
		t.Metrics[i].ID = newID(t.Metrics[i].ID)
		t.Metrics[i].StepRunID = t.StepRun.ID
		t.Metrics[i].CreatedAt = now
	}

	stored := models.StepRunTelemetry{
		StepRun: t.StepRun,
		Metrics: append([]models.MetricResult(nil), t.Metrics...),
	}
	if t.Artifact != nil {
		a := *t.Artifact
		stored.Artifact = &a
	}
	r.s.stepRuns[runID] = append(r.s.stepRuns[runID], stored)
	r.s.linkIndex[t.StepRun.ID] = runID
	return nil
}

func (r telemetryRepo) CreateOutputLinks(ctx context.Context, links []models.OutputLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range links {
		runID, ok := r.s.linkIndex[l.StepRunID]
		if !ok {
			return notFound("step run", l.StepRunID)
		}
		rows := r.s.stepRuns[runID]
		for i := range rows {
			if rows[i].StepRun.ID != l.StepRunID {
				continue
			}
			duplicate := false
			for _, existing := range rows[i].Links {
				if existing.TargetType == l.TargetType && existing.TargetID == l.TargetID {
					duplicate = true
					break
				}
			}
			if !duplicate {
				l.ID = newID(l.ID)
				l.CreatedAt = r.s.now()
				rows[i].Links = append(rows[i].Links, l)
			}
		}
	}
	return nil
}

func (r telemetryRepo) ListByRun(ctx context.Context, runID string) ([]models.StepRunTelemetry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows := r.s.stepRuns[runID]
	out := make([]models.StepRunTelemetry, len(rows))
	for i, row := range rows {
		out[i] = models.StepRunTelemetry{
			StepRun: row.StepRun,
			Metrics: append([]models.MetricResult(nil), row.Metrics...),
			Links:   append([]models.OutputLink(nil), row.Links...),
		}
		if row.Artifact != nil {
			a := *row.Artifact
			out[i].Artifact = &a
		}
	}
	return out, nil
}

// Count returns the number of step runs, IR artifacts, metric results and
// output links stored for a run
func (s *Store) Count(runID string) (stepRuns, artifacts, metrics, links int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.stepRuns[runID] {
		stepRuns++
		if row.Artifact != nil {
			artifacts++
		}
		metrics += len(row.Metrics)
		links += len(row.Links)
	}
	return stepRuns, artifacts, metrics, links
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
