// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflow implements a branching step-graph engine: workflows are
// registered once, runs advance step by step through success/failure edges,
// honoring conditions, user checkpoints, pause/resume/cancel, and triggers.
package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Actions
// ============================================================================

// Action is the verb tag of a step; it identifies which executor logic runs.
type Action string

const (
	ActionAskUser        Action = "ask-user"
	ActionAnalyzeCode    Action = "analyze-code"
	ActionGenerateCode   Action = "generate-code"
	ActionApplyChanges   Action = "apply-changes"
	ActionRunTests       Action = "run-tests"
	ActionSearchCodebase Action = "search-codebase"
	ActionCreateFile     Action = "create-file"
	ActionModifyFile     Action = "modify-file"
	ActionCommitChanges  Action = "commit-changes"
	ActionRunCommand     Action = "run-command"
	ActionWait           Action = "wait"
	ActionBranch         Action = "branch"
	ActionSetVariable    Action = "set-variable"
	ActionLog            Action = "log"
	ActionNotify         Action = "notify"
)

// RequiresUserInteraction reports whether the action suspends the run until
// the user answers.
func (a Action) RequiresUserInteraction() bool {
	return a == ActionAskUser
}

// ModifiesCode reports whether the action writes to the project tree.
func (a Action) ModifiesCode() bool {
	switch a {
	case ActionApplyChanges, ActionCreateFile, ActionModifyFile, ActionCommitChanges:
		return true
	}
	return false
}

// ============================================================================
// Conditions
// ============================================================================

// ConditionType selects how a step condition is evaluated.
type ConditionType string

const (
	ConditionVariableSet    ConditionType = "variable-set"
	ConditionVariableEquals ConditionType = "variable-equals"
	ConditionPrevSuccess    ConditionType = "previous-success"
	ConditionPrevFailure    ConditionType = "previous-failure"
	ConditionAlways         ConditionType = "always"
	ConditionNever          ConditionType = "never"
)

// Condition gates a step. A step whose condition evaluates to false is
// skipped with a synthetic success result.
type Condition struct {
	Type ConditionType `json:"type" yaml:"type"`

	// Value is the variable name for variable-set, or "name=value" for
	// variable-equals. Unused otherwise.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Evaluate resolves the condition against the run context.
func (c Condition) Evaluate(ctx *Context) bool {
	switch c.Type {
	case ConditionVariableSet:
		_, ok := ctx.GetVariable(c.Value)
		return ok
	case ConditionVariableEquals:
		name, want, found := strings.Cut(c.Value, "=")
		if !found {
			return false
		}
		got, ok := ctx.GetVariable(name)
		return ok && got == want
	case ConditionPrevSuccess:
		return ctx.LastStepSuccess()
	case ConditionPrevFailure:
		return !ctx.LastStepSuccess()
	case ConditionNever:
		return false
	default:
		// always, and unknown types, pass
		return true
	}
}

// ============================================================================
// Triggers
// ============================================================================

// TriggerType tags the external event source a trigger listens to.
type TriggerType string

const (
	TriggerManual        TriggerType = "manual"
	TriggerFileSave      TriggerType = "file-save"
	TriggerErrorDetected TriggerType = "error-detected"
	TriggerCommand       TriggerType = "command"
	TriggerSchedule      TriggerType = "schedule"
	TriggerWebhook       TriggerType = "webhook"
	TriggerGitHook       TriggerType = "git-hook"
)

// Trigger declares that a workflow starts when a matching event arrives.
type Trigger struct {
	Type TriggerType `json:"type" yaml:"type"`

	// Pattern narrows matching: regex for file-save/git-hook, substring
	// for error-detected, exact match otherwise. Empty matches any event
	// of the same type.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// TriggerEvent is handed in by external event sources.
type TriggerEvent struct {
	Type      TriggerType
	Data      string
	Timestamp time.Time
}

// Matches reports whether the event satisfies this trigger.
func (t Trigger) Matches(event TriggerEvent) bool {
	if t.Type != event.Type {
		return false
	}
	if t.Pattern == "" {
		return true
	}
	switch t.Type {
	case TriggerFileSave, TriggerGitHook:
		matched, err := regexp.MatchString(t.Pattern, event.Data)
		return err == nil && matched
	case TriggerErrorDetected:
		return strings.Contains(event.Data, t.Pattern)
	default:
		return event.Data == t.Pattern
	}
}

// ============================================================================
// Workflow definition
// ============================================================================

// Step is one node of the workflow graph.
type Step struct {
	// ID is unique within the workflow.
	ID string `json:"id" yaml:"id"`

	Action Action `json:"action" yaml:"action"`

	// Config carries opaque per-step settings handed to the executor
	// verbatim (prompt, command, timeout enforcement inputs, ...).
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`

	// OnSuccess names the next step when this one succeeds. Empty means
	// the run completes.
	OnSuccess string `json:"on_success,omitempty" yaml:"on_success,omitempty"`

	// OnFailure names the next step when this one fails. Empty means the
	// run aborts.
	OnFailure string `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// TimeoutMs and Retries are declarative; the engine passes them to
	// the action executor and does not enforce them itself.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retries   int `json:"retries,omitempty" yaml:"retries,omitempty"`

	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Workflow is an immutable definition of a step graph.
type Workflow struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step                 `json:"steps" yaml:"steps"`
	Triggers    []Trigger              `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Version     string                 `json:"version,omitempty" yaml:"version,omitempty"`

	// MaxSteps caps executeUntilComplete. Zero uses the engine default.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
}

// Step returns the step with the given id.
func (w *Workflow) Step(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// InvalidWorkflowError reports every validation failure at once.
type InvalidWorkflowError struct {
	Reasons []string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", strings.Join(e.Reasons, "; "))
}

// Validate checks the definition at registration time.
func (w *Workflow) Validate() error {
	var reasons []string
	if w.ID == "" {
		reasons = append(reasons, "workflow id is empty")
	}
	if w.Name == "" {
		reasons = append(reasons, "workflow name is empty")
	}
	if len(w.Steps) == 0 {
		reasons = append(reasons, "workflow has no steps")
	}

	ids := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if ids[s.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
	}
	for _, s := range w.Steps {
		if s.OnSuccess != "" && !ids[s.OnSuccess] {
			reasons = append(reasons, fmt.Sprintf("step %q on_success references unknown step %q", s.ID, s.OnSuccess))
		}
		if s.OnFailure != "" && !ids[s.OnFailure] {
			reasons = append(reasons, fmt.Sprintf("step %q on_failure references unknown step %q", s.ID, s.OnFailure))
		}
	}

	if len(reasons) > 0 {
		return &InvalidWorkflowError{Reasons: reasons}
	}
	return nil
}

// ============================================================================
// Run state
// ============================================================================

// StepResult is the immutable outcome of one step execution.
type StepResult struct {
	StepID     string
	Action     Action
	Success    bool
	Output     string
	Error      string
	DurationMs int64
	Outputs    map[string]string
}

// Context is the mutable, run-scoped state shared with the action executor.
// All accessors are safe under concurrent callers.
type Context struct {
	WorkflowID  string
	RunID       string
	ProjectPath string
	StartedAt   time.Time

	mu              sync.RWMutex
	variables       map[string]string
	results         map[string]StepResult
	currentStep     string
	lastStepSuccess bool
}

// NewContext creates a run context seeded with the given variables.
func NewContext(workflowID, runID, projectPath string, vars map[string]string) *Context {
	variables := make(map[string]string, len(vars))
	for k, v := range vars {
		variables[k] = v
	}
	return &Context{
		WorkflowID:      workflowID,
		RunID:           runID,
		ProjectPath:     projectPath,
		StartedAt:       time.Now(),
		variables:       variables,
		results:         make(map[string]StepResult),
		lastStepSuccess: true,
	}
}

// SetVariable writes a variable; executors use it to propagate data between
// steps.
func (c *Context) SetVariable(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// GetVariable reads a variable.
func (c *Context) GetVariable(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a copy of the variable map.
func (c *Context) Variables() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// RecordResult stores a step's result and updates the last-step flag.
func (c *Context) RecordResult(result StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result.StepID] = result
	c.lastStepSuccess = result.Success
}

// Result returns the recorded result for a step.
func (c *Context) Result(stepID string) (StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[stepID]
	return r, ok
}

// ResultCount returns the number of recorded step results.
func (c *Context) ResultCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// LastStepSuccess reports whether the most recent step succeeded. True
// before any step has run.
func (c *Context) LastStepSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastStepSuccess
}

// CurrentStep returns the id of the step the run is positioned on.
func (c *Context) CurrentStep() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentStep
}

func (c *Context) setCurrentStep(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentStep = id
}

// RunStatus is the lifecycle state of one run.
type RunStatus string

const (
	StatusPending     RunStatus = "pending"
	StatusRunning     RunStatus = "running"
	StatusWaitingUser RunStatus = "waiting-user"
	StatusPaused      RunStatus = "paused"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
	StatusCancelled   RunStatus = "cancelled"
	StatusTimeout     RunStatus = "timeout"
)

// IsActive reports whether the run can still advance.
func (s RunStatus) IsActive() bool {
	switch s {
	case StatusRunning, StatusWaitingUser, StatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Run is one execution of a workflow. Values returned by the executor are
// snapshots; the executor keeps the authoritative copy.
type Run struct {
	ID           string
	WorkflowID   string
	WorkflowName string
	Status       RunStatus
	Context      *Context

	// CompletedSteps lists results in execution order.
	CompletedSteps []StepResult

	// CurrentStep is empty once the run is terminal.
	CurrentStep string

	Error     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// snapshot returns a value copy safe to hand to callers. The context is
// shared; its accessors are individually synchronized.
func (r *Run) snapshot() *Run {
	out := *r
	out.CompletedSteps = make([]StepResult, len(r.CompletedSteps))
	copy(out.CompletedSteps, r.CompletedSteps)
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return &out
}
