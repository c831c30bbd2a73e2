// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

// Event is a tagged value delivered to run listeners. Listeners receive
// read-only views; mutating an event has no effect on engine state.
type Event interface {
	eventKind() string
}

// WorkflowStarted is emitted once per run, before any step event.
type WorkflowStarted struct {
	RunID      string
	WorkflowID string
	Name       string
}

// StepStarted is emitted before the action executor is invoked. Skipped
// steps emit no StepStarted.
type StepStarted struct {
	RunID  string
	StepID string
	Action Action
}

// StepCompleted carries the recorded result of a step.
type StepCompleted struct {
	RunID  string
	StepID string
	Result StepResult
}

// UserInputRequired is emitted when a run suspends on an ask-user step.
type UserInputRequired struct {
	RunID  string
	StepID string
	Prompt string
}

// WorkflowCompleted is emitted when a run reaches the end of its graph.
type WorkflowCompleted struct {
	RunID          string
	Success        bool
	StepsCompleted int
	DurationMs     int64
}

// WorkflowFailed is emitted when a failing step has no failure branch.
type WorkflowFailed struct {
	RunID        string
	Error        string
	FailedStepID string
}

func (WorkflowStarted) eventKind() string   { return "workflow-started" }
func (StepStarted) eventKind() string       { return "step-started" }
func (StepCompleted) eventKind() string     { return "step-completed" }
func (UserInputRequired) eventKind() string { return "user-input-required" }
func (WorkflowCompleted) eventKind() string { return "workflow-completed" }
func (WorkflowFailed) eventKind() string    { return "workflow-failed" }

// Listener receives run events synchronously in the caller's context.
type Listener func(Event)
