// Package dlq keeps telemetry writes that could not be persisted so an
// operator can inspect and replay them.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when a dead letter does not exist
	ErrNotFound = errors.New("dead letter not found")

	// ErrReplayInProgress is returned when an entry is already being replayed
	ErrReplayInProgress = errors.New("dead letter replay in progress")
)

// DefaultMaxEntries bounds the queue when no size is given
const DefaultMaxEntries = 10000

// Reasons a write ends up in the queue
const (
	ReasonWriteFailed = "write_failed"
	ReasonQueueFull   = "queue_full"
	ReasonClosed      = "recorder_closed"
)

// ReplayFunc re-attempts the original write
type ReplayFunc func(ctx context.Context) error

// Entry is one dead telemetry write
type Entry struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	RunID        string     `json:"run_id"`
	Reason       string     `json:"reason"`
	Error        string     `json:"error,omitempty"`
	FailedAt     time.Time  `json:"failed_at"`
	Attempts     int        `json:"attempts"`
	LastReplayAt *time.Time `json:"last_replay_at,omitempty"`

	replay    ReplayFunc
	seq       uint64
	replaying bool
}

// Filters narrow List
type Filters struct {
	RunID  string
	Kind   string
	Limit  int
	Offset int
}

// Queue is a bounded in-memory dead letter queue. The oldest entry is
// evicted when the queue is full.
type Queue struct {
	maxEntries int
	logger     logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64
	evicted int
}

// NewQueue creates a queue holding at most maxEntries
func NewQueue(maxEntries int, logger logrus.FieldLogger) *Queue {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Queue{
		maxEntries: maxEntries,
		logger:     logger,
		entries:    make(map[string]*Entry),
	}
}

// Add stores a dead write and returns its entry
func (q *Queue) Add(kind, runID, reason string, cause error, replay ReplayFunc) Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxEntries {
		q.evictOldest()
	}

	q.seq++
	e := &Entry{
		ID:       uuid.New().String(),
		Kind:     kind,
		RunID:    runID,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
		Attempts: 1,
		replay:   replay,
		seq:      q.seq,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	q.entries[e.ID] = e
	return *e
}

func (q *Queue) evictOldest() {
	var oldest *Entry
	for _, e := range q.entries {
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	delete(q.entries, oldest.ID)
	q.evicted++
	q.logger.WithFields(logrus.Fields{
		"entry_id": oldest.ID,
		"run_id":   oldest.RunID,
		"kind":     oldest.Kind,
	}).Warn("dead letter queue full, evicting oldest entry")
}

// Get returns an entry by ID
func (q *Queue) Get(id string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *e, nil
}

// List returns entries oldest first
func (q *Queue) List(filters Filters) []Entry {
	q.mu.Lock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		if filters.RunID != "" && e.RunID != filters.RunID {
			continue
		}
		if filters.Kind != "" && e.Kind != filters.Kind {
			continue
		}
		out = append(out, *e)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return []Entry{}
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out
}

// Replay re-attempts an entry. A successful replay removes it; a failed one
// keeps it with the new error.
func (q *Queue) Replay(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.replaying {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReplayInProgress, id)
	}
	e.replaying = true
	replay := e.replay
	q.mu.Unlock()

	err := replay(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	e.replaying = false
	if _, ok := q.entries[id]; !ok {
		return err
	}
	if err == nil {
		delete(q.entries, id)
		return nil
	}
	now := time.Now().UTC()
	e.Attempts++
	e.Error = err.Error()
	e.LastReplayAt = &now
	return fmt.Errorf("replay of %s failed: %w", id, err)
}

// ReplayAll replays every entry oldest first and reports how many succeeded
func (q *Queue) ReplayAll(ctx context.Context) (int, error) {
	var (
		replayed int
		errs     []error
	)
	for _, e := range q.List(Filters{}) {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if err := q.Replay(ctx, e.ID); err != nil {
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrReplayInProgress) {
				errs = append(errs, err)
			}
			continue
		}
		replayed++
	}
	return replayed, errors.Join(errs...)
}

// Delete discards an entry
func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(q.entries, id)
	return nil
}

// Purge discards every entry and returns how many there were
func (q *Queue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = make(map[string]*Entry)
	return n
}

// Count returns the number of entries
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Evicted returns how many entries were pushed out by a full queue
func (q *Queue) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
