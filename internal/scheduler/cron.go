package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TriggerFunc is called on every tick of a pipeline's schedule
type TriggerFunc func(pipelineID string, tick time.Time)

// CronScheduler manages one cron entry per scheduled pipeline. Schedules
// use the standard five-field syntax and descriptors such as @hourly.
type CronScheduler struct {
	cron     *cron.Cron
	location *time.Location
	trigger  TriggerFunc
	entries  map[string]entry // pipelineID -> entry
	logger   logrus.FieldLogger
	mu       sync.RWMutex
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// NewCronScheduler creates a new cron scheduler
func NewCronScheduler(location *time.Location, trigger TriggerFunc, logger logrus.FieldLogger) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CronScheduler{
		cron:     cron.New(cron.WithLocation(location)),
		location: location,
		trigger:  trigger,
		entries:  make(map[string]entry),
		logger:   logger,
	}
}

// Start starts the cron scheduler
func (cs *CronScheduler) Start() {
	cs.cron.Start()
}

// Stop stops the cron scheduler and waits for running triggers
func (cs *CronScheduler) Stop() {
	ctx := cs.cron.Stop()
	<-ctx.Done()
}

// Add registers a pipeline schedule
func (cs *CronScheduler) Add(pipelineID, schedule string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.entries[pipelineID]; exists {
		return fmt.Errorf("pipeline %s is already scheduled", pipelineID)
	}
	return cs.add(pipelineID, schedule)
}

func (cs *CronScheduler) add(pipelineID, schedule string) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression %s: %w", schedule, err)
	}

	id := cs.cron.Schedule(sched, cron.FuncJob(func() {
		cs.trigger(pipelineID, time.Now().In(cs.location))
	}))
	cs.entries[pipelineID] = entry{id: id, schedule: schedule}

	cs.logger.WithFields(logrus.Fields{
		"pipeline_id": pipelineID,
		"schedule":    schedule,
	}).Debug("pipeline scheduled")
	return nil
}

// Remove unregisters a pipeline
func (cs *CronScheduler) Remove(pipelineID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if e, exists := cs.entries[pipelineID]; exists {
		cs.cron.Remove(e.id)
		delete(cs.entries, pipelineID)
	}
}

// Update replaces the schedule of a pipeline, registering it if needed
func (cs *CronScheduler) Update(pipelineID, schedule string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if e, exists := cs.entries[pipelineID]; exists {
		if e.schedule == schedule {
			return nil
		}
		cs.cron.Remove(e.id)
		delete(cs.entries, pipelineID)
	}
	return cs.add(pipelineID, schedule)
}

// Schedule returns the registered schedule of a pipeline
func (cs *CronScheduler) Schedule(pipelineID string) (string, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	e, ok := cs.entries[pipelineID]
	return e.schedule, ok
}

// Scheduled returns the IDs of all scheduled pipelines, sorted
func (cs *CronScheduler) Scheduled() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	ids := make([]string, 0, len(cs.entries))
	for id := range cs.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextRun returns the next tick of a pipeline's schedule after from
func (cs *CronScheduler) NextRun(pipelineID string, from time.Time) (time.Time, error) {
	cs.mu.RLock()
	e, ok := cs.entries[pipelineID]
	cs.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("pipeline %s is not scheduled", pipelineID)
	}

	sched, err := cron.ParseStandard(e.schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from.In(cs.location)), nil
}
