// Package executor runs pipeline versions. A run walks the planned waves in
// order; the nodes of one wave run concurrently on a bounded pool and the
// next wave starts only when every node of the current one is terminal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

var (
	// ErrStepNotFound is returned when no implementation exists for a step version
	ErrStepNotFound = errors.New("step implementation not found")

	// ErrStepTimeout is wrapped by attempts that exceeded the node timeout
	ErrStepTimeout = errors.New("step attempt timed out")

	// ErrRunNotActive is returned when cancelling a run that is not executing
	ErrRunNotActive = errors.New("run is not active")

	// ErrEngineClosed is returned by Start and Run after Shutdown
	ErrEngineClosed = errors.New("engine is shut down")
)

// StepInput is what a step implementation receives
type StepInput struct {
	RunID         string                 `json:"runId"`
	NodeKey       string                 `json:"nodeKey"`
	StepVersionID string                 `json:"stepVersionId"`
	Params        map[string]interface{} `json:"params"`
	Context       map[string]interface{} `json:"context"`
}

// StepResult is what a step implementation returns
type StepResult struct {
	IR      interface{}        `json:"ir"`
	Outputs []models.OutputRef `json:"outputs,omitempty"`
}

// StepFunc is a resolved step implementation. It must honour ctx.
type StepFunc func(ctx context.Context, in StepInput) (StepResult, error)

// Resolver finds the implementation of a step version
type Resolver interface {
	Resolve(stepVersionID string) (StepFunc, error)
}

// StepError describes one failed attempt
type StepError struct {
	NodeKey       string
	StepVersionID string
	Attempt       int
	Outcome       string
	Err           error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("node %s (%s) attempt %d: %s: %v", e.NodeKey, e.StepVersionID, e.Attempt, e.Outcome, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config holds engine settings
type Config struct {
	// MaxConcurrency bounds the nodes of one wave running at the same time
	MaxConcurrency int

	// ProgressTimeout bounds each write of the run record
	ProgressTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:  5,
		ProgressTimeout: 10 * time.Second,
	}
}

// Options are the per-run inputs of Start and Run
type Options struct {
	// Trigger records what started the run
	Trigger string

	// Params override the version's config.params for this run
	Params map[string]interface{}
}
