package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/condition"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/dag"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/flags"
	stepmetrics "github.com/therealutkarshpriyadarshi/pipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/observability"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/outputs"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/recorder"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/retry"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/state"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/validation"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

const telemetryKindStepRun = "step_run"

// IRValidator checks a step's IR
type IRValidator interface {
	Validate(ctx context.Context, stepVersionID string, params map[string]interface{}, ir interface{}) validation.Result
}

// MetricEvaluator runs advisory metric profiles
type MetricEvaluator interface {
	Evaluate(ctx context.Context, enabled bool, profileID string, in stepmetrics.Input) []models.MetricResult
}

// Dependencies are the collaborators of the engine. Versions, Runs and
// Resolver are required.
type Dependencies struct {
	Versions  storage.VersionRepository
	Runs      storage.RunRepository
	Telemetry storage.TelemetryRepository
	Resolver  Resolver

	Flags     flags.Provider
	Validator IRValidator
	Metrics   MetricEvaluator

	// Recorder queues telemetry writes. Nil writes them inline.
	Recorder *recorder.Recorder

	States        *state.Manager
	Observability *observability.Metrics
	Logger        logrus.FieldLogger
}

// Engine executes pipeline versions
type Engine struct {
	versions  storage.VersionRepository
	runs      storage.RunRepository
	telemetry storage.TelemetryRepository
	resolver  Resolver
	flags     flags.Provider
	validator IRValidator
	evaluator MetricEvaluator
	linker    *outputs.Linker
	recorder  *recorder.Recorder
	states    *state.Manager
	obs       *observability.Metrics
	logger    logrus.FieldLogger
	config    *Config

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an execution engine
func NewEngine(deps Dependencies, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Flags == nil {
		deps.Flags = flags.NewStaticProvider(false, flags.ModeOff)
	}
	if deps.States == nil {
		deps.States = state.NewManager(nil)
	}

	e := &Engine{
		versions:  deps.Versions,
		runs:      deps.Runs,
		telemetry: deps.Telemetry,
		resolver:  deps.Resolver,
		flags:     deps.Flags,
		validator: deps.Validator,
		evaluator: deps.Metrics,
		recorder:  deps.Recorder,
		states:    deps.States,
		obs:       deps.Observability,
		logger:    deps.Logger,
		config:    config,
		active:    make(map[string]context.CancelFunc),
	}
	if deps.Telemetry != nil {
		e.linker = outputs.NewLinker(deps.Telemetry, deps.Logger)
	}
	return e
}

// Plan validates a version's DAG and returns its execution plan without
// running anything
func (e *Engine) Plan(ctx context.Context, versionID string) (*models.ExecutionPlan, error) {
	version, err := e.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	plan, _, err := dag.Compile(&version.DAG)
	if err != nil {
		return nil, err
	}
	plan.PipelineVersionID = version.ID
	return plan, nil
}

// Start creates a run of the version and executes it in the background. The
// run outlives ctx; it stops on Cancel or Shutdown.
func (e *Engine) Start(ctx context.Context, versionID string, opts Options) (*models.PipelineRun, error) {
	exec, err := e.prepare(ctx, versionID, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := e.register(exec.run.ID, cancel); err != nil {
		cancel()
		e.abort(exec)
		return nil, err
	}
	snapshot := exec.summary()

	go func() {
		defer e.wg.Done()
		defer e.unregister(exec.run.ID)
		defer cancel()
		e.execute(runCtx, exec)
	}()

	return snapshot, nil
}

// Run creates a run of the version and executes it to completion. Cancelling
// ctx cancels the run.
func (e *Engine) Run(ctx context.Context, versionID string, opts Options) (*models.PipelineRun, error) {
	exec, err := e.prepare(ctx, versionID, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.register(exec.run.ID, cancel); err != nil {
		e.abort(exec)
		return nil, err
	}
	defer e.wg.Done()
	defer e.unregister(exec.run.ID)

	e.execute(runCtx, exec)
	return exec.summary(), nil
}

// Cancel stops an executing run. In-flight attempts see their context
// cancelled and every node not yet terminal ends Cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	cancel, ok := e.active[runID]
	e.mu.Unlock()

	if ok {
		cancel()
		e.logger.WithField("run_id", runID).Info("run cancellation requested")
		return nil
	}

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s is %s", ErrRunNotActive, runID, run.Status)
}

// ActiveRuns returns the number of runs currently executing
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Shutdown cancels every active run and waits for them to finish
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("execution engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for runs to stop: %w", ctx.Err())
	}
}

func (e *Engine) register(runID string, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.active[runID] = cancel
	e.wg.Add(1)
	return nil
}

func (e *Engine) unregister(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// nodeState is owned by the goroutine running the node until its wave ends
type nodeState struct {
	node      *models.DagNode
	summary   models.NodeSummary
	cause     BlockCause
	params    map[string]interface{}
	startedAt *time.Time
	endedAt   time.Time

	ir         interface{}
	hasIR      bool
	outputs    []models.OutputRef
	validation validation.Result
	metrics    []models.MetricResult
}

// execution is the state of one run
type execution struct {
	run     *models.PipelineRun
	version *models.PipelineVersion
	plan    *models.ExecutionPlan
	graph   *dag.Graph
	order   []string
	nodes   map[string]*nodeState
	rc      *RunContext
	logging bool
	logger  logrus.FieldLogger

	mu sync.Mutex
}

func (x *execution) summary() *models.PipelineRun {
	x.mu.Lock()
	defer x.mu.Unlock()

	run := *x.run
	run.Nodes = make([]models.NodeSummary, 0, len(x.order))
	for _, key := range x.order {
		s := x.nodes[key].summary
		s.Warnings = append([]string(nil), s.Warnings...)
		run.Nodes = append(run.Nodes, s)
	}
	if x.run.EndedAt != nil {
		t := *x.run.EndedAt
		run.EndedAt = &t
	}
	return &run
}

func (e *Engine) prepare(ctx context.Context, versionID string, opts Options) (*execution, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}

	version, err := e.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	plan, graph, err := dag.Compile(&version.DAG)
	if err != nil {
		return nil, err
	}
	plan.PipelineVersionID = version.ID

	trigger := opts.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}

	params := mergeParams(version.Params(), opts.Params)
	x := &execution{
		version: version,
		plan:    plan,
		graph:   graph,
		order:   plan.Keys(),
		nodes:   make(map[string]*nodeState, graph.Len()),
		rc:      NewRunContext(params),
		// Pinned for the whole run so a flag flip never splits one run
		logging: e.flags.LoggingEnabled(ctx),
	}

	for _, key := range x.order {
		node, _ := graph.Node(key)
		x.nodes[key] = &nodeState{
			node:       node,
			summary:    models.NodeSummary{Key: key, Status: models.StatusPending},
			params:     mergeParams(params, node.Params),
			validation: validation.Result{Mode: flags.ModeOff, IsValid: true},
		}
	}

	x.run = &models.PipelineRun{
		PipelineVersionID: version.ID,
		Status:            models.StatusPending,
		Trigger:           trigger,
		StartedAt:         time.Now().UTC(),
	}
	x.run.Nodes = x.summary().Nodes
	if err := e.runs.Create(ctx, x.run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	x.logger = e.logger.WithFields(logrus.Fields{
		"run_id":     x.run.ID,
		"version_id": version.ID,
	})
	e.obs.RunStarted()
	e.transitionRun(x, models.StatusRunning, nil)
	e.saveProgress(x)
	return x, nil
}

func (e *Engine) execute(ctx context.Context, x *execution) {
	x.logger.WithFields(logrus.Fields{
		"waves":   len(x.plan.Waves),
		"nodes":   len(x.order),
		"logging": x.logging,
	}).Info("run started")

	for _, wave := range x.plan.Waves {
		snapshot := x.rc.Snapshot()

		var g errgroup.Group
		g.SetLimit(e.config.MaxConcurrency)
		for _, key := range wave.Keys {
			ns := x.nodes[key]
			g.Go(func() error {
				e.runNode(ctx, x, ns, snapshot)
				return nil
			})
		}
		_ = g.Wait()

		e.saveProgress(x)
	}

	e.finish(x)
}

func (e *Engine) runNode(ctx context.Context, x *execution, ns *nodeState, snapshot map[string]interface{}) {
	node := ns.node
	logger := x.logger.WithFields(logrus.Fields{"node": node.Key, "step_version_id": node.StepVersionID})
	defer e.finishNode(x, ns, logger)

	if ctx.Err() != nil {
		e.settle(x, ns, models.StatusCancelled, "run cancelled")
		return
	}

	preds := x.graph.Predecessors(node.Key)
	view := make([]upstream, 0, len(preds))
	for _, p := range preds {
		ps := x.nodes[p]
		view = append(view, upstream{Key: p, Status: ps.summary.Status, Cause: ps.cause})
	}
	if decision := gate(view); !decision.Proceed {
		ns.cause = decision.Cause
		e.settle(x, ns, models.StatusBlocked, decision.Reason)
		return
	}

	if node.Condition != "" {
		ok, err := condition.Evaluate(node.Condition, snapshot)
		if err != nil {
			ns.summary.Warnings = append(ns.summary.Warnings, err.Error())
			logger.WithError(err).Warn("condition evaluation failed, skipping node")
		}
		if !ok {
			e.settle(x, ns, models.StatusSkipped, fmt.Sprintf("condition %q is false", node.Condition))
			return
		}
	}

	now := time.Now().UTC()
	ns.startedAt = &now
	e.transitionNode(x, ns, models.StatusRunning, "")

	fn, err := e.resolver.Resolve(node.StepVersionID)
	if err != nil {
		logger.WithError(err).Warn("step implementation not resolved")
		e.settle(x, ns, models.StatusFailed, err.Error())
		return
	}

	input := StepInput{
		RunID:         x.run.ID,
		NodeKey:       node.Key,
		StepVersionID: node.StepVersionID,
		Params:        ns.params,
	}

	policy := retry.NewPolicy(node.Retries).WithOnRetry(func(attempt int, err error) {
		logger.WithError(err).WithField("attempt", attempt).Warn("step attempt failed, retrying")
	})
	attempts, err := retry.Execute(ctx, policy, func(ctx context.Context, attempt int) error {
		input.Context = models.CloneMap(snapshot)
		input.Params = models.CloneMap(ns.params)
		return e.attempt(ctx, ns, fn, input, attempt)
	})
	ns.summary.Attempts = attempts

	switch {
	case err == nil:
		ns.metrics = e.evaluateMetrics(ctx, x, ns)
		e.settle(x, ns, models.StatusCompleted, "")
	case ctx.Err() != nil:
		e.settle(x, ns, models.StatusCancelled, "run cancelled")
	default:
		logger.WithError(err).WithField("attempts", attempts).Warn("node failed")
		e.settle(x, ns, models.StatusFailed, err.Error())
	}
}

// attempt invokes the step once under the node timeout, then validates the IR
func (e *Engine) attempt(ctx context.Context, ns *nodeState, fn StepFunc, in StepInput, attempt int) error {
	node := ns.node
	start := time.Now()

	// the artifact and outputs always come from the last attempt
	ns.ir, ns.hasIR, ns.outputs = nil, false, nil
	ns.validation = validation.Result{Mode: flags.ModeOff, IsValid: true}

	res, outcome, err := invoke(ctx, fn, in, node.Timeout())
	if err == nil {
		var ir interface{}
		ir, err = normalizeIR(res.IR)
		if err != nil {
			outcome = observability.OutcomeError
		} else {
			ns.ir, ns.hasIR, ns.outputs = ir, ir != nil, res.Outputs
			if e.validator != nil {
				ns.validation = e.validator.Validate(ctx, node.StepVersionID, ns.params, ir)
				if rejected := ns.validation.Err(); rejected != nil {
					outcome, err = observability.OutcomeRejected, rejected
				}
			}
		}
	}
	e.obs.Attempt(node.StepVersionID, outcome, time.Since(start))

	if err != nil {
		return &StepError{
			NodeKey:       node.Key,
			StepVersionID: node.StepVersionID,
			Attempt:       attempt,
			Outcome:       outcome,
			Err:           err,
		}
	}
	return nil
}

// invoke calls fn on its own goroutine so a step that ignores its context
// still cannot hold the node past the timeout
func invoke(ctx context.Context, fn StepFunc, in StepInput, timeout time.Duration) (StepResult, string, error) {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		res      StepResult
		err      error
		panicked bool
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r), panicked: true}
			}
		}()
		res, err := fn(actx, in)
		done <- result{res: res, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-actx.Done():
		r = result{err: actx.Err()}
	}

	switch {
	case r.panicked:
		return StepResult{}, observability.OutcomePanic, r.err
	case ctx.Err() != nil:
		return StepResult{}, observability.OutcomeError, ctx.Err()
	case r.err != nil && timeout > 0 && errors.Is(actx.Err(), context.DeadlineExceeded):
		return StepResult{}, observability.OutcomeTimeout, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
	case r.err != nil:
		return StepResult{}, observability.OutcomeError, r.err
	}
	return r.res, observability.OutcomeSuccess, nil
}

// normalizeIR round-trips the IR through JSON so conditions and telemetry
// see plain maps, slices, strings, float64 and bool
func normalizeIR(ir interface{}) (interface{}, error) {
	if ir == nil {
		return nil, nil
	}
	raw, err := json.Marshal(ir)
	if err != nil {
		return nil, fmt.Errorf("IR is not JSON serializable: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("IR is not JSON serializable: %w", err)
	}
	return out, nil
}

func (e *Engine) evaluateMetrics(ctx context.Context, x *execution, ns *nodeState) []models.MetricResult {
	if e.evaluator == nil || !x.logging {
		return nil
	}
	return e.evaluator.Evaluate(ctx, x.logging, ns.node.MetricProfileID, stepmetrics.Input{
		IR:      ns.ir,
		IRValid: ns.validation.IsValid,
	})
}

// settle moves the node to a terminal status
func (e *Engine) settle(x *execution, ns *nodeState, status models.Status, reason string) {
	e.transitionNode(x, ns, status, reason)
	ns.summary.Status = status
	ns.summary.Reason = reason
	ns.endedAt = time.Now().UTC()
}

func (e *Engine) transitionNode(x *execution, ns *nodeState, to models.Status, reason string) {
	from := ns.summary.Status
	var meta map[string]interface{}
	if reason != "" {
		meta = map[string]interface{}{"reason": reason}
	}
	if err := e.states.TransitionNode(x.run.ID, ns.node.Key, from, to, meta); err != nil {
		x.logger.WithError(err).WithField("node", ns.node.Key).Warn("node transition event not published")
	}
	ns.summary.Status = to
}

func (e *Engine) transitionRun(x *execution, to models.Status, meta map[string]interface{}) {
	if err := e.states.TransitionRun(x.run.ID, x.run.Status, to, meta); err != nil {
		x.logger.WithError(err).Warn("run transition event not published")
	}
	x.mu.Lock()
	x.run.Status = to
	x.mu.Unlock()
}

// finishNode publishes the node's slot and hands its telemetry to the recorder
func (e *Engine) finishNode(x *execution, ns *nodeState, logger logrus.FieldLogger) {
	slot := Slot{Status: ns.summary.Status}
	if ns.summary.Status == models.StatusCompleted {
		slot.IR = ns.ir
		slot.Outputs = outputs.ContextValue(ns.outputs)
		slot.Metrics = metricsSlot(ns.metrics)
	}
	if err := x.rc.Write(ns.node.Key, slot); err != nil {
		logger.WithError(err).Error("run context slot rejected")
	}

	e.obs.NodeFinished(string(ns.summary.Status))
	logger.WithFields(logrus.Fields{
		"status":   ns.summary.Status,
		"attempts": ns.summary.Attempts,
	}).Debug("node finished")

	if x.logging {
		e.recordNode(x, ns)
	}
}

func (e *Engine) recordNode(x *execution, ns *nodeState) {
	if e.telemetry == nil {
		return
	}

	t := &models.StepRunTelemetry{
		StepRun: models.StepRun{
			PipelineRunID: x.run.ID,
			StepVersionID: ns.node.StepVersionID,
			NodeKey:       ns.node.Key,
			Status:        ns.summary.Status,
			Attempts:      ns.summary.Attempts,
			Reason:        ns.summary.Reason,
			Warnings:      append([]string(nil), ns.summary.Warnings...),
			Params:        models.CloneMap(ns.params),
			StartedAt:     ns.startedAt,
			CompletedAt:   ns.endedAt,
		},
		Metrics: ns.metrics,
	}
	if ns.hasIR {
		t.Artifact = &models.IRArtifact{
			IR:               ns.ir,
			SchemaID:         ns.validation.SchemaID,
			IsValid:          ns.validation.IsValid,
			ValidationErrors: ns.validation.Errors,
		}
	}
	var refs []models.OutputRef
	if ns.summary.Status == models.StatusCompleted {
		refs = ns.outputs
	}

	write := func(ctx context.Context) error {
		if err := e.telemetry.SaveStepRun(ctx, t); err != nil {
			return fmt.Errorf("failed to save step run %s: %w", t.StepRun.NodeKey, err)
		}
		if e.linker != nil {
			e.linker.Link(ctx, t.StepRun.ID, refs)
		}
		return nil
	}

	if e.recorder != nil {
		e.recorder.Enqueue(telemetryKindStepRun, x.run.ID, write)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.ProgressTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		e.obs.Telemetry(telemetryKindStepRun, observability.TelemetryFailed)
		x.logger.WithError(err).Warn("telemetry write failed")
		return
	}
	e.obs.Telemetry(telemetryKindStepRun, observability.TelemetryWritten)
}

// saveProgress persists the per-node summary after each wave. The run record
// is written regardless of the logging flag.
func (e *Engine) saveProgress(x *execution) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.ProgressTimeout)
	defer cancel()
	if err := e.runs.Update(ctx, x.summary()); err != nil {
		x.logger.WithError(err).Warn("failed to save run progress")
	}
}

// abort cancels a prepared run that never started executing
func (e *Engine) abort(x *execution) {
	for _, key := range x.order {
		e.settle(x, x.nodes[key], models.StatusCancelled, ErrEngineClosed.Error())
	}
	e.finish(x)
}

func (e *Engine) finish(x *execution) {
	status := models.StatusCompleted
	failedNode := ""
	for _, key := range x.order {
		switch x.nodes[key].summary.Status {
		case models.StatusCancelled:
			status = models.StatusCancelled
		case models.StatusFailed:
			if failedNode == "" {
				failedNode = key
			}
		}
	}
	if status != models.StatusCancelled && failedNode != "" {
		status = models.StatusFailed
	}

	ended := time.Now().UTC()
	x.mu.Lock()
	x.run.EndedAt = &ended
	x.run.FailedNode = failedNode
	x.mu.Unlock()

	var meta map[string]interface{}
	if failedNode != "" {
		meta = map[string]interface{}{"failed_node": failedNode}
	}
	e.transitionRun(x, status, meta)
	e.saveProgress(x)
	e.obs.RunFinished(string(status))

	entry := x.logger.WithFields(logrus.Fields{
		"status":   status,
		"duration": ended.Sub(x.run.StartedAt).String(),
	})
	if failedNode != "" {
		entry = entry.WithField("failed_node", failedNode)
	}
	entry.Info("run finished")
}
