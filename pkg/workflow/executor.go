// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/forge/pkg/observability"
)

const (
	// defaultMaxSteps caps ExecuteUntilComplete when the workflow does not
	// declare its own limit.
	defaultMaxSteps = 100

	// completedRunRetention bounds the completed-runs history.
	completedRunRetention = 50
)

var (
	// ErrUnknownWorkflow is returned when a workflow id is not registered.
	ErrUnknownWorkflow = errors.New("workflow not found")

	// ErrUnknownRun is returned when a run id is not active.
	ErrUnknownRun = errors.New("run not found")
)

// ActionExecutor performs the actual work of a step. It may block and may
// take unbounded time; a returned error becomes a failure StepResult and
// the run proceeds on the failure branch.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error)
}

// ActionExecutorFunc adapts a function to the ActionExecutor interface.
type ActionExecutorFunc func(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error)

// Execute implements ActionExecutor.
func (f ActionExecutorFunc) Execute(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error) {
	return f(ctx, action, step, wctx)
}

// ExecutorConfig configures the workflow engine.
type ExecutorConfig struct {
	// Actions performs step work. Required.
	Actions ActionExecutor

	// Tracer for observability. Default: no-op.
	Tracer observability.Tracer

	// Logger. Default: no-op.
	Logger *zap.Logger
}

// Executor owns the workflow registry, active runs, and the bounded
// completed-run history. Different runs advance in parallel; advancement of
// a single run is serialized by a per-run lock.
type Executor struct {
	mu sync.RWMutex

	workflows     map[string]*Workflow
	activeRuns    map[string]*Run
	completedRuns []*Run

	runLocks sync.Map // run id -> *sync.Mutex

	listeners map[string]Listener

	actions ActionExecutor
	tracer  observability.Tracer
	logger  *zap.Logger
}

// NewExecutor creates a workflow engine.
func NewExecutor(config ExecutorConfig) (*Executor, error) {
	if config.Actions == nil {
		return nil, fmt.Errorf("action executor is required")
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Executor{
		workflows:  make(map[string]*Workflow),
		activeRuns: make(map[string]*Run),
		listeners:  make(map[string]Listener),
		actions:    config.Actions,
		tracer:     config.Tracer,
		logger:     config.Logger,
	}, nil
}

// ============================================================================
// Registry
// ============================================================================

// RegisterWorkflow validates and stores a workflow definition.
func (e *Executor) RegisterWorkflow(w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.workflows[w.ID] = w
	e.mu.Unlock()

	e.logger.Info("registered workflow",
		zap.String("workflow_id", w.ID),
		zap.String("name", w.Name),
		zap.Int("steps", len(w.Steps)))
	return nil
}

// UnregisterWorkflow removes a workflow definition. Unknown ids are a no-op.
func (e *Executor) UnregisterWorkflow(id string) {
	e.mu.Lock()
	delete(e.workflows, id)
	e.mu.Unlock()
}

// GetWorkflow looks up a workflow by id.
func (e *Executor) GetWorkflow(id string) (*Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[id]
	return w, ok
}

// GetAllWorkflows returns a snapshot of registered workflows.
func (e *Executor) GetAllWorkflows() []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Workflow, 0, len(e.workflows))
	for _, w := range e.workflows {
		out = append(out, w)
	}
	return out
}

// GetWorkflowsForTrigger returns workflows carrying at least one trigger of
// the given type.
func (e *Executor) GetWorkflowsForTrigger(t TriggerType) []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Workflow
	for _, w := range e.workflows {
		for _, trig := range w.Triggers {
			if trig.Type == t {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// ============================================================================
// Run lifecycle
// ============================================================================

// StartWorkflow creates a run positioned on the first step and emits
// WorkflowStarted. The returned run is a snapshot.
func (e *Executor) StartWorkflow(workflowID string, vars map[string]string) (*Run, error) {
	e.mu.RLock()
	w, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}

	runID := fmt.Sprintf("run-%s", uuid.New().String()[:8])
	projectPath := ""
	if p, ok := vars["project_path"]; ok {
		projectPath = p
	}

	wctx := NewContext(w.ID, runID, projectPath, vars)
	wctx.setCurrentStep(w.Steps[0].ID)

	run := &Run{
		ID:           runID,
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		Status:       StatusRunning,
		Context:      wctx,
		CurrentStep:  w.Steps[0].ID,
		StartedAt:    time.Now(),
	}

	e.mu.Lock()
	e.activeRuns[runID] = run
	e.mu.Unlock()

	e.logger.Info("workflow started",
		zap.String("run_id", runID),
		zap.String("workflow_id", w.ID))
	e.emit(WorkflowStarted{RunID: runID, WorkflowID: w.ID, Name: w.Name})

	return run.snapshot(), nil
}

// ExecuteNextStep advances a run by one step. Returns the recorded result,
// or nil when the step suspended on user input or the run cannot advance.
func (e *Executor) ExecuteNextStep(ctx context.Context, runID string) (*StepResult, error) {
	lock := e.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	run, ok := e.activeRuns[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if run.Status != StatusRunning {
		return nil, nil
	}

	w, ok := e.GetWorkflow(run.WorkflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, run.WorkflowID)
	}

	step, ok := w.Step(run.CurrentStep)
	if !ok {
		// Dangling position; treat as completion.
		e.finalize(run, StatusCompleted)
		return nil, nil
	}

	// Condition gate: skipped steps record a synthetic success and advance
	// along the success edge without step events.
	if step.Condition != nil && !step.Condition.Evaluate(run.Context) {
		result := StepResult{
			StepID:  step.ID,
			Action:  step.Action,
			Success: true,
			Output:  "Skipped due to condition",
		}
		e.record(run, result)
		e.advance(run, w, step, true)
		return &result, nil
	}

	// User checkpoint: suspend without a result.
	if step.Action.RequiresUserInteraction() {
		e.mu.Lock()
		run.Status = StatusWaitingUser
		e.mu.Unlock()
		prompt := ""
		if p, ok := step.Config["prompt"].(string); ok {
			prompt = p
		}
		e.emit(UserInputRequired{RunID: run.ID, StepID: step.ID, Prompt: prompt})
		return nil, nil
	}

	e.emit(StepStarted{RunID: run.ID, StepID: step.ID, Action: step.Action})

	spanCtx, span := e.tracer.StartSpan(ctx, "workflow.step",
		observability.WithSpanKind("internal"),
		observability.WithAttribute("workflow.run_id", run.ID),
		observability.WithAttribute("workflow.step_id", step.ID))

	start := time.Now()
	result, err := e.actions.Execute(spanCtx, step.Action, step, run.Context)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		result = StepResult{
			StepID:  step.ID,
			Action:  step.Action,
			Success: false,
			Error:   err.Error(),
		}
	}
	e.tracer.EndSpan(span)

	result.StepID = step.ID
	result.Action = step.Action
	result.DurationMs = elapsed.Milliseconds()

	e.record(run, result)
	e.emit(StepCompleted{RunID: run.ID, StepID: step.ID, Result: result})

	e.advance(run, w, step, result.Success)
	return &result, nil
}

// ExecuteUntilComplete advances a run until it leaves the running state or
// hits the workflow's step cap. Returns the final run snapshot.
func (e *Executor) ExecuteUntilComplete(ctx context.Context, runID string) (*Run, error) {
	e.mu.RLock()
	run, ok := e.activeRuns[runID]
	var maxSteps int
	if ok {
		if w, found := e.workflows[run.WorkflowID]; found && w.MaxSteps > 0 {
			maxSteps = w.MaxSteps
		}
	}
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if maxSteps == 0 {
		maxSteps = defaultMaxSteps
	}

	for i := 0; i < maxSteps; i++ {
		snapshot, found := e.GetRun(runID)
		if !found || snapshot.Status != StatusRunning {
			break
		}
		if _, err := e.ExecuteNextStep(ctx, runID); err != nil {
			return nil, err
		}
	}

	snapshot, _ := e.GetRun(runID)
	return snapshot, nil
}

// ContinueAfterUserInput resumes a run suspended on an ask-user step. A
// synthetic result is recorded for the checkpoint step, success iff proceed.
// Declining with no failure branch cancels the run.
func (e *Executor) ContinueAfterUserInput(runID string, proceed bool) (*Run, error) {
	lock := e.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	run, ok := e.activeRuns[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if run.Status != StatusWaitingUser {
		return run.snapshot(), nil
	}

	w, ok := e.GetWorkflow(run.WorkflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, run.WorkflowID)
	}
	step, ok := w.Step(run.CurrentStep)
	if !ok {
		e.finalize(run, StatusCompleted)
		return run.snapshot(), nil
	}

	output := "User approved"
	if !proceed {
		output = "User declined"
	}
	result := StepResult{
		StepID:  step.ID,
		Action:  step.Action,
		Success: proceed,
		Output:  output,
	}
	e.record(run, result)
	e.emit(StepCompleted{RunID: run.ID, StepID: step.ID, Result: result})

	if !proceed && step.OnFailure == "" {
		e.finalize(run, StatusCancelled)
		return run.snapshot(), nil
	}

	e.mu.Lock()
	run.Status = StatusRunning
	e.mu.Unlock()
	e.advance(run, w, step, proceed)
	return run.snapshot(), nil
}

// PauseWorkflow transitions running → paused. Any other state is a no-op.
func (e *Executor) PauseWorkflow(runID string) (*Run, error) {
	return e.transition(runID, StatusRunning, StatusPaused)
}

// ResumeWorkflow transitions paused → running. Any other state is a no-op.
func (e *Executor) ResumeWorkflow(runID string) (*Run, error) {
	return e.transition(runID, StatusPaused, StatusRunning)
}

// CancelWorkflow moves an active run to cancelled. Idempotent; cancelling a
// terminal run is a no-op.
func (e *Executor) CancelWorkflow(runID string) (*Run, error) {
	lock := e.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	run, ok := e.activeRuns[runID]
	e.mu.RUnlock()
	if !ok {
		// Already finished runs stay as they are.
		if snapshot, found := e.GetRun(runID); found {
			return snapshot, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	e.finalize(run, StatusCancelled)
	e.logger.Info("workflow cancelled", zap.String("run_id", runID))
	return run.snapshot(), nil
}

// ProcessTrigger starts every workflow with a trigger matching the event
// and returns the started runs.
func (e *Executor) ProcessTrigger(event TriggerEvent) []*Run {
	e.mu.RLock()
	var matched []string
	for _, w := range e.workflows {
		for _, trig := range w.Triggers {
			if trig.Matches(event) {
				matched = append(matched, w.ID)
				break
			}
		}
	}
	e.mu.RUnlock()

	var runs []*Run
	for _, id := range matched {
		run, err := e.StartWorkflow(id, nil)
		if err != nil {
			e.logger.Warn("trigger failed to start workflow",
				zap.String("workflow_id", id),
				zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	if len(runs) > 0 {
		e.logger.Debug("trigger started workflows",
			zap.String("trigger", string(event.Type)),
			zap.Int("runs", len(runs)))
	}
	return runs
}

// GetRun returns a snapshot of an active or completed run.
func (e *Executor) GetRun(runID string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if run, ok := e.activeRuns[runID]; ok {
		return run.snapshot(), true
	}
	for _, run := range e.completedRuns {
		if run.ID == runID {
			return run.snapshot(), true
		}
	}
	return nil, false
}

// GetActiveRuns returns snapshots of all runs that can still advance.
func (e *Executor) GetActiveRuns() []*Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Run, 0, len(e.activeRuns))
	for _, run := range e.activeRuns {
		out = append(out, run.snapshot())
	}
	return out
}

// GetCompletedRuns returns snapshots of the retained completed runs, oldest
// first.
func (e *Executor) GetCompletedRuns() []*Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Run, 0, len(e.completedRuns))
	for _, run := range e.completedRuns {
		out = append(out, run.snapshot())
	}
	return out
}

// ============================================================================
// Listeners
// ============================================================================

// AddListener subscribes to run events and returns a removal token.
func (e *Executor) AddListener(fn Listener) string {
	id := uuid.New().String()
	e.mu.Lock()
	e.listeners[id] = fn
	e.mu.Unlock()
	return id
}

// RemoveListener unsubscribes a listener by its token.
func (e *Executor) RemoveListener(id string) {
	e.mu.Lock()
	delete(e.listeners, id)
	e.mu.Unlock()
}

// emit delivers an event to a snapshot of listeners. A panicking listener
// is isolated; it cannot corrupt engine state.
func (e *Executor) emit(event Event) {
	e.mu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("workflow listener panicked", zap.Any("panic", r))
				}
			}()
			fn(event)
		}()
	}
}

// ============================================================================
// Internals
// ============================================================================

func (e *Executor) lockRun(runID string) *sync.Mutex {
	lock, _ := e.runLocks.LoadOrStore(runID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// record appends a result to the run and its context. Caller holds the
// per-run lock.
func (e *Executor) record(run *Run, result StepResult) {
	run.Context.RecordResult(result)
	e.mu.Lock()
	run.CompletedSteps = append(run.CompletedSteps, result)
	e.mu.Unlock()
}

// advance moves the run to the next step along the success/failure edge, or
// finalizes it when the edge is absent. Caller holds the per-run lock.
func (e *Executor) advance(run *Run, w *Workflow, step *Step, success bool) {
	next := step.OnSuccess
	if !success {
		next = step.OnFailure
	}

	if next == "" {
		if success {
			e.finalize(run, StatusCompleted)
			return
		}
		var errMsg string
		if r, ok := run.Context.Result(step.ID); ok {
			errMsg = r.Error
		}
		e.mu.Lock()
		run.Error = errMsg
		e.mu.Unlock()
		e.finalize(run, StatusFailed)
		e.emit(WorkflowFailed{RunID: run.ID, Error: errMsg, FailedStepID: step.ID})
		return
	}

	e.mu.Lock()
	run.CurrentStep = next
	e.mu.Unlock()
	run.Context.setCurrentStep(next)
}

// finalize moves a run out of activeRuns into the bounded completed list.
// Caller holds the per-run lock.
func (e *Executor) finalize(run *Run, status RunStatus) {
	now := time.Now()

	e.mu.Lock()
	run.Status = status
	run.CurrentStep = ""
	run.EndedAt = &now
	delete(e.activeRuns, run.ID)
	e.completedRuns = append(e.completedRuns, run)
	if len(e.completedRuns) > completedRunRetention {
		e.completedRuns = e.completedRuns[len(e.completedRuns)-completedRunRetention:]
	}
	stepsCompleted := len(run.CompletedSteps)
	e.mu.Unlock()

	e.runLocks.Delete(run.ID)

	if status == StatusCompleted {
		e.emit(WorkflowCompleted{
			RunID:          run.ID,
			Success:        true,
			StepsCompleted: stepsCompleted,
			DurationMs:     now.Sub(run.StartedAt).Milliseconds(),
		})
	}
	e.logger.Info("workflow finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Int("steps", stepsCompleted))
}

// transition applies a guarded status change under the per-run lock.
func (e *Executor) transition(runID string, from, to RunStatus) (*Run, error) {
	lock := e.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	run, ok := e.activeRuns[runID]
	if ok && run.Status == from {
		run.Status = to
	}
	e.mu.Unlock()
	if !ok {
		if snapshot, found := e.GetRun(runID); found {
			return snapshot, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return run.snapshot(), nil
}
