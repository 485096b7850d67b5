// Package orchestrator drives workflow executions through their phases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agentroute/internal/domain"
	"agentroute/internal/infra/tracer"
)

// Milestones are the progress percentages announced once per workflow.
var Milestones = []int{25, 50, 75, 90}

// DefaultPhaseTimeout bounds a single phase when Config leaves it unset.
const DefaultPhaseTimeout = 30 * time.Minute

// AgentRouter picks an agent for phases planned with the "auto" agent.
type AgentRouter interface {
	RouteWithFallback(ctx context.Context, kinds []domain.StrategyKind, rc domain.RoutingContext) (domain.RoutingDecision, error)
}

// Config holds orchestrator policy.
type Config struct {
	Strategy     domain.StrategyKind
	Fallback     []domain.StrategyKind
	PhaseTimeout time.Duration
	Gates        []domain.QualityGate
}

// Orchestrator owns the workflow state machine. Every transition is
// persisted through the store and mutations are serialized per workflow.
type Orchestrator struct {
	store     domain.WorkflowStore
	directory domain.AgentDirectory
	router    AgentRouter
	pool      *Pool
	notifier  domain.Notifier
	cfg       Config
	locks     *workflowLocker
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel    context.CancelFunc
	requested bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides workflow and task id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New creates an orchestrator. notifier may be nil.
func New(
	store domain.WorkflowStore,
	directory domain.AgentDirectory,
	router AgentRouter,
	pool *Pool,
	notifier domain.Notifier,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	if cfg.Strategy == "" {
		cfg.Strategy = domain.StrategyContextAware
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = DefaultPhaseTimeout
	}
	o := &Orchestrator{
		store:     store,
		directory: directory,
		router:    router,
		pool:      pool,
		notifier:  notifier,
		cfg:       cfg,
		locks:     newWorkflowLocker(),
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
		logger:    discardLogger(),
		active:    make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create validates plan and persists a PENDING workflow built from it.
func (o *Orchestrator) Create(ctx context.Context, plan domain.Plan) (*domain.WorkflowExecution, error) {
	if err := o.validatePlan(ctx, plan); err != nil {
		return nil, err
	}

	now := o.now()
	wf := &domain.WorkflowExecution{
		ID:             o.newID(),
		TaskName:       plan.Title,
		Description:    plan.Description,
		Status:         domain.WorkflowPending,
		Priority:       plan.Priority,
		Complexity:     plan.Complexity,
		Tasks:          make([]domain.AgentTask, 0, len(plan.Phases)),
		EstimatedHours: plan.TotalHours(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if wf.Priority == 0 {
		wf.Priority = domain.PriorityMedium
	}
	if wf.Complexity == 0 {
		wf.Complexity = domain.ComplexityModerate
	}
	for _, ph := range plan.Phases {
		agent := strings.TrimSpace(ph.Agent)
		if domain.IsAutoAgent(agent) {
			agent = domain.AutoAgent
		}
		wf.Tasks = append(wf.Tasks, domain.AgentTask{
			ID:             o.newID(),
			WorkflowID:     wf.ID,
			AgentName:      agent,
			Title:          ph.Name,
			Description:    ph.Description,
			EstimatedHours: ph.EstimatedHours,
			Status:         domain.TaskPending,
			CreatedAt:      now,
		})
	}

	if err := o.persist(ctx, wf); err != nil {
		return nil, err
	}
	o.logger.Info("workflow created", "workflow_id", wf.ID, "task", wf.TaskName, "phases", len(wf.Tasks))
	return wf.Clone(), nil
}

func (o *Orchestrator) validatePlan(ctx context.Context, plan domain.Plan) error {
	if strings.TrimSpace(plan.Title) == "" {
		return &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	for i, ph := range plan.Phases {
		field := fmt.Sprintf("phases[%d]", i)
		if strings.TrimSpace(ph.Name) == "" {
			return &domain.ValidationError{Field: field + ".name", Reason: "must not be empty"}
		}
		if ph.EstimatedHours < 0 {
			return &domain.ValidationError{Field: field + ".estimated_hours", Reason: "must not be negative"}
		}
		agent := strings.TrimSpace(ph.Agent)
		if domain.IsAutoAgent(agent) {
			continue
		}
		if _, err := o.directory.Get(ctx, agent); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.ValidationError{Field: field + ".agent", Reason: fmt.Sprintf("unknown agent %q", agent)}
			}
			return domain.WrapOp("validate plan", err)
		}
	}
	return nil
}

// Start moves a PENDING workflow to RUNNING. A workflow without phases
// completes immediately.
func (o *Orchestrator) Start(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	unlock, err := o.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	wf, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.start(ctx, wf); err != nil {
		return wf.Clone(), err
	}
	return wf.Clone(), nil
}

func (o *Orchestrator) start(ctx context.Context, wf *domain.WorkflowExecution) error {
	if wf.Status != domain.WorkflowPending {
		return fmt.Errorf("start workflow %s in status %s: %w", wf.ID, wf.Status, domain.ErrInvalidTransition)
	}

	now := o.now()
	wf.Status = domain.WorkflowRunning
	wf.StartedAt = &now
	wf.UpdatedAt = now
	wf.CurrentTaskIndex = 0
	if err := o.persist(ctx, wf); err != nil {
		return err
	}
	o.emit(ctx, domain.EventWorkflowStarted, wf.ID, o.workflowPayload(wf, nil))
	o.logger.Info("workflow started", "workflow_id", wf.ID, "phases", len(wf.Tasks))

	if len(wf.Tasks) == 0 {
		return o.complete(ctx, wf)
	}
	return nil
}

// Run executes phases from CurrentTaskIndex until the workflow is terminal,
// starting it first if it is still PENDING.
//
// When the phase agent is busy or offline Run returns an AgentUnavailable
// error and leaves the workflow RUNNING with the phase pending; call Run
// again later to resume. Routing failures behave the same way. Execution
// and blocking quality gate failures are terminal and are returned after
// the workflow has been persisted as FAILED.
func (o *Orchestrator) Run(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	unlock, err := o.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	wf, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := o.register(id, cancel)
	defer o.unregister(id)
	defer cancel()

	if wf.Status.Terminal() {
		return wf.Clone(), fmt.Errorf("run workflow %s in status %s: %w", wf.ID, wf.Status, domain.ErrInvalidTransition)
	}
	if wf.Status == domain.WorkflowPending {
		if err := o.start(ctx, wf); err != nil {
			return wf.Clone(), err
		}
	}

	for wf.Status == domain.WorkflowRunning && wf.CurrentTask() != nil {
		if runCtx.Err() != nil {
			return o.interrupted(ctx, wf, run)
		}
		if err := o.runPhase(runCtx, wf); err != nil {
			if runCtx.Err() != nil && !wf.Status.Terminal() {
				return o.interrupted(ctx, wf, run)
			}
			return wf.Clone(), err
		}
	}
	return wf.Clone(), nil
}

// interrupted handles a run whose context was cancelled. An explicit Cancel
// finalizes the workflow as CANCELLED. Any other cancellation (caller
// deadline, disconnect, shutdown) leaves it RUNNING with the current phase
// pending so a later Run resumes it.
func (o *Orchestrator) interrupted(ctx context.Context, wf *domain.WorkflowExecution, run *activeRun) (*domain.WorkflowExecution, error) {
	o.mu.Lock()
	requested := run.requested
	o.mu.Unlock()

	persistCtx := context.WithoutCancel(ctx)
	if requested {
		if err := o.cancel(persistCtx, wf, "cancelled"); err != nil {
			return wf.Clone(), err
		}
		return wf.Clone(), nil
	}

	wf.UpdatedAt = o.now()
	if err := o.persist(persistCtx, wf); err != nil {
		return wf.Clone(), err
	}
	o.logger.Info("workflow run interrupted", "workflow_id", wf.ID, "task_index", wf.CurrentTaskIndex, "error", ctx.Err())
	return wf.Clone(), ctx.Err()
}

// runPhase executes the current task. A nil error means the phase finished
// (successfully or with a persisted terminal failure reported separately).
func (o *Orchestrator) runPhase(ctx context.Context, wf *domain.WorkflowExecution) (err error) {
	task := wf.CurrentTask()
	ctx, span := tracer.StartSpan(ctx, "orchestrator.phase")
	span.SetAttributes(tracer.WorkflowAttrs(wf.ID, wf.CurrentTaskIndex, task.Title)...)
	defer func() { tracer.End(span, err) }()

	planned := task.AgentName
	agent, err := o.resolveAgent(ctx, wf)
	if err != nil {
		o.logger.Info("phase routing deferred", "workflow_id", wf.ID, "task", task.Title, "error", err)
		return err
	}
	span.SetAttributes(tracer.AgentAttr(agent))

	if err := o.directory.AdjustWorkload(ctx, agent, 1); err != nil {
		var unavailable *domain.AgentUnavailable
		if errors.As(err, &unavailable) {
			o.logger.Info("phase deferred", "workflow_id", wf.ID, "task", task.Title, "agent", agent, "reason", unavailable.Reason)
			return err
		}
		return o.fail(ctx, wf, err)
	}

	started := o.now()
	task.AgentName = agent
	task.Status = domain.TaskRunning
	task.StartedAt = &started
	wf.UpdatedAt = started
	if err := o.persist(ctx, wf); err != nil {
		o.release(ctx, agent)
		return err
	}
	o.emit(ctx, domain.EventTaskStarted, wf.ID, o.taskPayload(wf, task))
	o.logger.Info("phase started", "workflow_id", wf.ID, "task", task.Title, "agent", agent)

	result, execErr := o.execute(ctx, *task)
	o.release(ctx, agent)
	finished := o.now()
	elapsed := finished.Sub(started).Hours()

	if execErr != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: the phase goes back to pending and
			// Run decides between CANCELLED and resumable.
			task.Status = domain.TaskPending
			task.StartedAt = nil
			task.AgentName = planned
			return execErr
		}
		o.recordOutcome(ctx, agent, false, elapsed)
		task.Status = domain.TaskFailed
		task.CompletedAt = &finished
		task.ActualHours = elapsed
		task.Error = execErr.Error()
		o.emit(ctx, domain.EventTaskFailed, wf.ID, o.taskPayload(wf, task))
		return o.fail(ctx, wf, execErr)
	}

	hours := result.ActualHours
	if hours <= 0 {
		hours = elapsed
	}
	task.Status = domain.TaskCompleted
	task.CompletedAt = &finished
	task.ActualHours = hours
	task.Output = result.Output
	task.QualityScore = result.QualityScore
	task.BusinessValue = result.BusinessValue

	gateErr := o.checkGates(wf, task)
	o.recordOutcome(ctx, agent, gateErr == nil, hours)
	if gateErr != nil {
		task.Status = domain.TaskFailed
		task.Error = gateErr.Error()
		o.emit(ctx, domain.EventTaskFailed, wf.ID, o.taskPayload(wf, task))
		return o.fail(ctx, wf, gateErr)
	}

	o.emit(ctx, domain.EventTaskCompleted, wf.ID, o.taskPayload(wf, task))
	o.logger.Info("phase completed", "workflow_id", wf.ID, "task", task.Title, "agent", agent, "quality", task.QualityScore)

	wf.ActualHours += hours
	wf.Progress = float64(wf.CompletedTasks()) / float64(len(wf.Tasks)) * 100
	milestone := nextMilestone(wf.LastMilestone, wf.Progress)
	if milestone > 0 {
		wf.LastMilestone = milestone
	}
	wf.CurrentTaskIndex++
	wf.UpdatedAt = finished

	if wf.CurrentTask() == nil {
		if milestone > 0 {
			o.emitMilestone(ctx, wf, milestone)
		}
		return o.complete(ctx, wf)
	}
	if err := o.persist(ctx, wf); err != nil {
		return err
	}
	if milestone > 0 {
		o.emitMilestone(ctx, wf, milestone)
	}
	return nil
}

// nextMilestone returns the lowest milestone above last that progress has
// reached, or 0.
func nextMilestone(last int, progress float64) int {
	for _, m := range Milestones {
		if m > last && progress >= float64(m) {
			return m
		}
	}
	return 0
}

// resolveAgent returns the planned agent or routes "auto" phases.
func (o *Orchestrator) resolveAgent(ctx context.Context, wf *domain.WorkflowExecution) (string, error) {
	task := wf.CurrentTask()
	if !domain.IsAutoAgent(task.AgentName) {
		return task.AgentName, nil
	}
	if o.router == nil {
		return "", &domain.RoutingFailure{Strategy: o.cfg.Strategy, Err: domain.ErrNoAgentAvailable}
	}

	rc := domain.RoutingContext{
		Title:          task.Title,
		Description:    strings.TrimSpace(task.Description + " " + wf.TaskName),
		Priority:       wf.Priority,
		Complexity:     wf.Complexity,
		EstimatedHours: task.EstimatedHours,
	}
	if i := wf.CurrentTaskIndex - 1; i >= 0 {
		rc.PreviousAgent = wf.Tasks[i].AgentName
	}

	kinds := append([]domain.StrategyKind{o.cfg.Strategy}, o.cfg.Fallback...)
	decision, err := o.router.RouteWithFallback(ctx, kinds, rc)
	if err != nil {
		return "", err
	}
	o.logger.Debug("phase routed", "workflow_id", wf.ID, "task", task.Title,
		"agent", decision.Agent, "strategy", string(decision.Score.Strategy), "score", decision.Score.Final)
	return decision.Agent, nil
}

// execute submits the task to the pool and waits under the phase timeout.
func (o *Orchestrator) execute(ctx context.Context, task domain.AgentTask) (*domain.PhaseResult, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout)
	defer cancel()

	future, err := o.pool.Submit(phaseCtx, task)
	if err == nil {
		var res *domain.PhaseResult
		res, err = future.Wait(phaseCtx)
		if err == nil {
			return res, nil
		}
	}

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) && phaseCtx.Err() != nil:
		err = domain.NewSubSystemError("phase", "Orchestrator.execute", domain.ErrTimeout,
			fmt.Sprintf("exceeded %s", o.cfg.PhaseTimeout))
	}
	return nil, &domain.ExecutionFailure{Agent: task.AgentName, Task: task.Title, Err: err}
}

// checkGates evaluates every gate matching the task. The first failing
// blocking gate is returned; non-blocking misses are only logged.
func (o *Orchestrator) checkGates(wf *domain.WorkflowExecution, task *domain.AgentTask) error {
	for _, g := range o.cfg.Gates {
		if !g.Matches(task.Title, task.Description) {
			continue
		}
		if task.QualityScore >= g.Threshold {
			continue
		}
		failure := &domain.QualityGateFailure{
			Gate: g.Name, Threshold: g.Threshold, Score: task.QualityScore, Blocking: g.Blocking,
		}
		if g.Blocking {
			return failure
		}
		o.logger.Warn("quality gate not met", "workflow_id", wf.ID, "task", task.Title,
			"gate", g.Name, "threshold", g.Threshold, "score", task.QualityScore)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, wf *domain.WorkflowExecution) error {
	now := o.now()
	wf.Status = domain.WorkflowCompleted
	wf.Progress = 100
	wf.CompletedAt = &now
	wf.UpdatedAt = now
	if err := o.persist(ctx, wf); err != nil {
		return err
	}
	o.emit(ctx, domain.EventWorkflowCompleted, wf.ID, o.workflowPayload(wf, nil))
	o.logger.Info("workflow completed", "workflow_id", wf.ID, "actual_hours", wf.ActualHours)
	return nil
}

// fail marks the workflow FAILED, persists it and returns cause.
func (o *Orchestrator) fail(ctx context.Context, wf *domain.WorkflowExecution, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := o.now()
	if task := wf.CurrentTask(); task != nil && (task.Status == domain.TaskPending || task.Status == domain.TaskRunning) {
		task.Status = domain.TaskFailed
		task.CompletedAt = &now
		task.Error = cause.Error()
	}
	wf.Status = domain.WorkflowFailed
	wf.Error = cause.Error()
	wf.CompletedAt = &now
	wf.UpdatedAt = now
	if err := o.persist(ctx, wf); err != nil {
		o.logger.Error("persist failed workflow", "workflow_id", wf.ID, "error", err)
	}
	o.emit(ctx, domain.EventWorkflowFailed, wf.ID, o.workflowPayload(wf, cause))
	o.logger.Warn("workflow failed", "workflow_id", wf.ID, "error", cause, "code", domain.ErrorCodeOf(cause))
	return cause
}

// cancel marks the current task and the workflow CANCELLED.
func (o *Orchestrator) cancel(ctx context.Context, wf *domain.WorkflowExecution, reason string) error {
	now := o.now()
	if task := wf.CurrentTask(); task != nil && (task.Status == domain.TaskRunning || task.Status == domain.TaskPending) {
		task.Status = domain.TaskCancelled
		task.CompletedAt = &now
		task.Error = reason
	}
	wf.Status = domain.WorkflowCancelled
	wf.Error = reason
	wf.CompletedAt = &now
	wf.UpdatedAt = now
	if err := o.persist(ctx, wf); err != nil {
		return err
	}
	o.emit(ctx, domain.EventWorkflowCancelled, wf.ID, o.workflowPayload(wf, nil))
	o.logger.Info("workflow cancelled", "workflow_id", wf.ID, "reason", reason)
	return nil
}

// Cancel stops a workflow. An in-flight phase has its context cancelled and
// the running Run call finalizes the workflow; otherwise the transition is
// applied here. Cancelling a terminal workflow is an invalid transition.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	o.mu.Lock()
	if run, ok := o.active[id]; ok {
		run.requested = true
		run.cancel()
	}
	o.mu.Unlock()

	unlock, err := o.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	wf, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status == domain.WorkflowCancelled {
		return wf.Clone(), nil
	}
	if wf.Status.Terminal() {
		return wf.Clone(), fmt.Errorf("cancel workflow %s in status %s: %w", wf.ID, wf.Status, domain.ErrInvalidTransition)
	}
	if err := o.cancel(ctx, wf, "cancelled"); err != nil {
		return nil, err
	}
	return wf.Clone(), nil
}

// Get returns the stored workflow.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	return o.load(ctx, id)
}

// List returns stored workflows matching filter.
func (o *Orchestrator) List(ctx context.Context, filter domain.ListFilter) ([]domain.WorkflowExecution, error) {
	wfs, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, domain.WrapOp("list workflows", err)
	}
	return wfs, nil
}

// Delete removes a terminal workflow from storage.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	unlock, err := o.locks.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	wf, err := o.load(ctx, id)
	if err != nil {
		return err
	}
	if !wf.Status.Terminal() {
		return fmt.Errorf("delete workflow %s in status %s: %w", wf.ID, wf.Status, domain.ErrInvalidTransition)
	}
	return domain.WrapOp("delete workflow", o.store.Delete(ctx, id))
}

// Active reports whether a Run call is currently driving the workflow.
func (o *Orchestrator) Active(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

func (o *Orchestrator) register(id string, cancel context.CancelFunc) *activeRun {
	run := &activeRun{cancel: cancel}
	o.mu.Lock()
	o.active[id] = run
	o.mu.Unlock()
	return run
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

func (o *Orchestrator) load(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	wf, err := o.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewSubSystemError("workflow", "Orchestrator.load", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("load workflow %s: %w: %w", id, domain.ErrStorage, err)
	}
	return wf, nil
}

func (o *Orchestrator) persist(ctx context.Context, wf *domain.WorkflowExecution) error {
	if err := o.store.Save(context.WithoutCancel(ctx), wf.Clone()); err != nil {
		return fmt.Errorf("save workflow %s: %w: %w", wf.ID, domain.ErrStorage, err)
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, agent string) {
	if err := o.directory.AdjustWorkload(context.WithoutCancel(ctx), agent, -1); err != nil {
		o.logger.Error("release agent", "agent", agent, "error", err)
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, agent string, success bool, hours float64) {
	if err := o.directory.RecordOutcome(context.WithoutCancel(ctx), agent, success, hours); err != nil {
		o.logger.Warn("record agent outcome", "agent", agent, "error", err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, t domain.EventType, workflowID string, payload any) {
	if o.notifier == nil {
		return
	}
	ev, err := domain.NewEvent(t, workflowID, payload, o.now())
	if err != nil {
		o.logger.Error("build event", "type", string(t), "error", err)
		return
	}
	o.notifier.Publish(context.WithoutCancel(ctx), ev)
}

func (o *Orchestrator) emitMilestone(ctx context.Context, wf *domain.WorkflowExecution, milestone int) {
	o.logger.Info("milestone reached", "workflow_id", wf.ID, "milestone", milestone, "progress", wf.Progress)
	o.emit(ctx, domain.EventMilestoneReached, wf.ID, domain.MilestonePayload{
		WorkflowID: wf.ID, Milestone: milestone, Progress: wf.Progress,
	})
}

func (o *Orchestrator) workflowPayload(wf *domain.WorkflowExecution, cause error) domain.WorkflowPayload {
	p := domain.WorkflowPayload{
		WorkflowID:     wf.ID,
		TaskName:       wf.TaskName,
		Status:         wf.Status,
		TotalTasks:     len(wf.Tasks),
		CompletedTasks: wf.CompletedTasks(),
		EstimatedHours: wf.EstimatedHours,
		ActualHours:    wf.ActualHours,
		Progress:       wf.Progress,
		Error:          wf.Error,
	}
	if cause != nil {
		p.ErrorCode = domain.ErrorCodeOf(cause)
	}
	return p
}

func (o *Orchestrator) taskPayload(wf *domain.WorkflowExecution, task *domain.AgentTask) domain.TaskPayload {
	return domain.TaskPayload{
		WorkflowID:     wf.ID,
		TaskID:         task.ID,
		TaskIndex:      wf.CurrentTaskIndex,
		Agent:          task.AgentName,
		Title:          task.Title,
		EstimatedHours: task.EstimatedHours,
		ActualHours:    task.ActualHours,
		QualityScore:   task.QualityScore,
		BusinessValue:  task.BusinessValue,
		Error:          task.Error,
	}
}
