package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

var (
	// ErrInvalidTransition is returned when an invalid status transition is attempted
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Entity types carried on transition events
const (
	EntityPipelineRun = "pipeline_run"
	EntityNode        = "node"
)

// StateMachine validates status transitions against a fixed table
type StateMachine struct {
	validTransitions map[models.Status][]models.Status
}

// NewNodeStateMachine returns the transition table for DAG nodes
func NewNodeStateMachine() *StateMachine {
	return &StateMachine{
		validTransitions: map[models.Status][]models.Status{
			models.StatusPending: {
				models.StatusRunning,
				models.StatusSkipped,   // condition evaluated false
				models.StatusBlocked,   // no live predecessor or upstream failure
				models.StatusCancelled, // run cancelled before the node started
			},
			models.StatusRunning: {
				models.StatusCompleted,
				models.StatusFailed,
				models.StatusCancelled,
			},
			models.StatusSkipped:   {},
			models.StatusBlocked:   {},
			models.StatusFailed:    {},
			models.StatusCompleted: {},
			models.StatusCancelled: {},
		},
	}
}

// NewRunStateMachine returns the transition table for pipeline runs
func NewRunStateMachine() *StateMachine {
	return &StateMachine{
		validTransitions: map[models.Status][]models.Status{
			models.StatusPending: {
				models.StatusRunning,
				models.StatusCancelled,
			},
			models.StatusRunning: {
				models.StatusCompleted,
				models.StatusFailed,
				models.StatusCancelled,
			},
			models.StatusFailed:    {},
			models.StatusCompleted: {},
			models.StatusCancelled: {},
		},
	}
}

// CanTransition checks if a status transition is valid. Transitions to the
// same status are rejected so that every terminal status is written once.
func (sm *StateMachine) CanTransition(from, to models.Status) bool {
	validStates, exists := sm.validTransitions[from]
	if !exists {
		return false
	}

	for _, state := range validStates {
		if state == to {
			return true
		}
	}

	return false
}

// ValidateTransition validates a status transition and returns an error if invalid
func (sm *StateMachine) ValidateTransition(from, to models.Status) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// GetNextStates returns all valid next statuses from the current one
func (sm *StateMachine) GetNextStates(current models.Status) []models.Status {
	states, exists := sm.validTransitions[current]
	if !exists {
		return []models.Status{}
	}
	return states
}

// IsTerminalState checks if a status is terminal (no further transitions)
func (sm *StateMachine) IsTerminalState(status models.Status) bool {
	return len(sm.GetNextStates(status)) == 0
}

// TransitionEvent represents a status transition event
type TransitionEvent struct {
	EntityType string                 `json:"entity_type"` // "pipeline_run" or "node"
	EntityID   string                 `json:"entity_id"`   // run ID, or "<runID>/<nodeKey>" for nodes
	RunID      string                 `json:"run_id"`
	OldState   models.Status          `json:"old_state"`
	NewState   models.Status          `json:"new_state"`
	OccurredAt time.Time              `json:"occurred_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EventPublisher is an interface for publishing status change events
type EventPublisher interface {
	Publish(event TransitionEvent) error
}

// NoOpPublisher is a no-op event publisher for testing
type NoOpPublisher struct{}

// Publish does nothing
func (p *NoOpPublisher) Publish(event TransitionEvent) error {
	return nil
}

// Manager handles status transitions with event publishing
type Manager struct {
	nodes     *StateMachine
	runs      *StateMachine
	publisher EventPublisher
}

// NewManager creates a new state manager
func NewManager(publisher EventPublisher) *Manager {
	if publisher == nil {
		publisher = &NoOpPublisher{}
	}
	return &Manager{
		nodes:     NewNodeStateMachine(),
		runs:      NewRunStateMachine(),
		publisher: publisher,
	}
}

// NodeEntityID builds the entity ID of a node within a run
func NodeEntityID(runID, nodeKey string) string {
	return runID + "/" + nodeKey
}

// TransitionNode validates a node transition and publishes an event
func (m *Manager) TransitionNode(runID, nodeKey string, from, to models.Status, metadata map[string]interface{}) error {
	return m.transition(m.nodes, EntityNode, NodeEntityID(runID, nodeKey), runID, from, to, metadata)
}

// TransitionRun validates a run transition and publishes an event
func (m *Manager) TransitionRun(runID string, from, to models.Status, metadata map[string]interface{}) error {
	return m.transition(m.runs, EntityPipelineRun, runID, runID, from, to, metadata)
}

func (m *Manager) transition(sm *StateMachine, entityType, entityID, runID string, from, to models.Status, metadata map[string]interface{}) error {
	// Validate transition
	if err := sm.ValidateTransition(from, to); err != nil {
		return err
	}

	// Publish event
	event := TransitionEvent{
		EntityType: entityType,
		EntityID:   entityID,
		RunID:      runID,
		OldState:   from,
		NewState:   to,
		OccurredAt: time.Now().UTC(),
		Metadata:   metadata,
	}

	if err := m.publisher.Publish(event); err != nil {
		return fmt.Errorf("failed to publish state transition event: %w", err)
	}

	return nil
}

// CanTransitionNode delegates to the node state machine
func (m *Manager) CanTransitionNode(from, to models.Status) bool {
	return m.nodes.CanTransition(from, to)
}
