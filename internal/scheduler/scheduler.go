// Package scheduler runs the active version of every pipeline that carries a
// cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/executor"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// ErrNoActiveVersion is returned when triggering a pipeline without an active version
var ErrNoActiveVersion = errors.New("pipeline has no active version")

// ErrOverlap is returned when the previous scheduled run is still executing
var ErrOverlap = errors.New("previous scheduled run still executing")

// Config holds scheduler configuration
type Config struct {
	// SyncInterval is how often schedules are reloaded from storage
	SyncInterval time.Duration

	// Timezone is the location cron expressions are evaluated in
	Timezone string

	// AllowOverlap starts a new run even if the previous scheduled run of
	// the same pipeline has not finished
	AllowOverlap bool

	// TriggerTimeout bounds the storage calls of one trigger
	TriggerTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:   30 * time.Second,
		Timezone:       "UTC",
		AllowOverlap:   false,
		TriggerTimeout: 10 * time.Second,
	}
}

// Runner starts pipeline runs
type Runner interface {
	Start(ctx context.Context, versionID string, opts executor.Options) (*models.PipelineRun, error)
}

// Scheduler keeps cron entries in sync with stored pipeline schedules
type Scheduler struct {
	config    *Config
	pipelines storage.PipelineRepository
	versions  storage.VersionRepository
	runs      storage.RunRepository
	runner    Runner
	cron      *CronScheduler
	logger    logrus.FieldLogger

	mu      sync.Mutex
	running bool
	lastRun map[string]string // pipelineID -> run ID of the last scheduled run
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Scheduler instance
func New(config *Config, repos *storage.Repositories, runner Runner, logger logrus.FieldLogger) (*Scheduler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	s := &Scheduler{
		config:    config,
		pipelines: repos.Pipelines,
		versions:  repos.Versions,
		runs:      repos.Runs,
		runner:    runner,
		logger:    logger.WithField("component", "scheduler"),
		lastRun:   make(map[string]string),
	}
	s.cron = NewCronScheduler(location, s.onTick, s.logger)
	return s, nil
}

// Start loads schedules and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if err := s.Sync(ctx); err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.cron.Start()
	s.running = true

	s.wg.Add(1)
	go s.syncLoop(loopCtx)

	s.logger.WithField("pipelines", len(s.cron.Scheduled())).Info("scheduler started")
	return nil
}

// Stop stops the cron loop and waits for in-flight triggers
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.cron.Stop()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.WithError(err).Warn("failed to sync schedules")
			}
		}
	}
}

// Sync registers new schedules, updates changed ones and drops pipelines
// whose schedule was cleared
func (s *Scheduler) Sync(ctx context.Context) error {
	pipelines, err := s.pipelines.List(ctx, storage.PipelineFilters{ScheduledOnly: true})
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		if p.Schedule == "" {
			continue
		}
		wanted[p.ID] = true
		if err := s.cron.Update(p.ID, p.Schedule); err != nil {
			s.logger.WithError(err).WithField("pipeline_id", p.ID).Warn("invalid pipeline schedule")
		}
	}

	for _, id := range s.cron.Scheduled() {
		if !wanted[id] {
			s.cron.Remove(id)
		}
	}
	return nil
}

// Scheduled returns the IDs of the scheduled pipelines
func (s *Scheduler) Scheduled() []string {
	return s.cron.Scheduled()
}

// NextRun returns the next scheduled tick of a pipeline
func (s *Scheduler) NextRun(pipelineID string) (time.Time, error) {
	return s.cron.NextRun(pipelineID, time.Now())
}

func (s *Scheduler) onTick(pipelineID string, tick time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.TriggerTimeout)
	defer cancel()

	logger := s.logger.WithFields(logrus.Fields{"pipeline_id": pipelineID, "tick": tick})
	run, err := s.Trigger(ctx, pipelineID, models.TriggerSchedule)
	switch {
	case errors.Is(err, ErrNoActiveVersion):
		logger.Info("no active version, skipping scheduled run")
	case errors.Is(err, ErrOverlap):
		logger.Info("previous scheduled run still executing, skipping")
	case err != nil:
		logger.WithError(err).Warn("failed to start scheduled run")
	default:
		logger.WithField("run_id", run.ID).Info("scheduled run started")
	}
}

// Trigger starts a run of the pipeline's active version
func (s *Scheduler) Trigger(ctx context.Context, pipelineID, trigger string) (*models.PipelineRun, error) {
	version, err := s.versions.GetActive(ctx, pipelineID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveVersion
		}
		return nil, err
	}

	if trigger == models.TriggerSchedule && !s.config.AllowOverlap {
		if busy, err := s.previousRunning(ctx, pipelineID); err != nil {
			return nil, err
		} else if busy {
			return nil, ErrOverlap
		}
	}

	run, err := s.runner.Start(ctx, version.ID, executor.Options{Trigger: trigger})
	if err != nil {
		return nil, err
	}

	if trigger == models.TriggerSchedule {
		s.mu.Lock()
		s.lastRun[pipelineID] = run.ID
		s.mu.Unlock()
	}
	return run, nil
}

func (s *Scheduler) previousRunning(ctx context.Context, pipelineID string) (bool, error) {
	s.mu.Lock()
	runID, ok := s.lastRun[pipelineID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !run.Status.IsTerminal(), nil
}
