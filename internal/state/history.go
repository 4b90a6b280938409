package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// HistoryEntry represents a status change history entry
type HistoryEntry struct {
	ID         uuid.UUID              `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	EntityType string                 `gorm:"type:varchar(50);not null;index:idx_state_history_entity" json:"entity_type"`
	EntityID   string                 `gorm:"type:varchar(512);not null;index:idx_state_history_entity" json:"entity_id"`
	RunID      string                 `gorm:"type:varchar(64);not null;index:idx_state_history_run_id" json:"run_id"`
	OldState   string                 `gorm:"type:varchar(50)" json:"old_state"`
	NewState   string                 `gorm:"type:varchar(50);not null" json:"new_state"`
	ChangedAt  time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_state_history_changed_at" json:"changed_at"`
	Metadata   map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
}

// TableName specifies the table name for HistoryEntry
func (HistoryEntry) TableName() string {
	return "state_history"
}

// HistoryTracker tracks status changes in the database
type HistoryTracker struct {
	db *gorm.DB
}

// NewHistoryTracker creates a new history tracker
func NewHistoryTracker(db *gorm.DB) *HistoryTracker {
	return &HistoryTracker{db: db}
}

// Record records a status change to the history table
func (h *HistoryTracker) Record(ctx context.Context, event TransitionEvent) error {
	changedAt := event.OccurredAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}

	entry := HistoryEntry{
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		RunID:      event.RunID,
		OldState:   string(event.OldState),
		NewState:   string(event.NewState),
		ChangedAt:  changedAt,
		Metadata:   event.Metadata,
	}

	if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record state history: %w", err)
	}

	return nil
}

// ListByRun returns every transition of a run and its nodes, oldest first
func (h *HistoryTracker) ListByRun(ctx context.Context, runID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := h.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("changed_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get state history: %w", err)
	}

	return entries, nil
}

// HistoryPublisher publishes status changes to the history tracker
type HistoryPublisher struct {
	tracker *HistoryTracker
}

// NewHistoryPublisher creates a new history publisher
func NewHistoryPublisher(db *gorm.DB) *HistoryPublisher {
	return &HistoryPublisher{
		tracker: NewHistoryTracker(db),
	}
}

// Publish records a status change event to the history
func (p *HistoryPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return p.tracker.Record(ctx, event)
}

// Statuses returns the old and new status of an entry
func (h HistoryEntry) Statuses() (models.Status, models.Status) {
	return models.Status(h.OldState), models.Status(h.NewState)
}
