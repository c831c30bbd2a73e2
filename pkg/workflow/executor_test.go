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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// okActions returns success for every step.
var okActions = ActionExecutorFunc(func(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error) {
	return StepResult{Success: true, Output: "done"}, nil
})

func newTestExecutor(t *testing.T, actions ActionExecutor) *Executor {
	t.Helper()
	if actions == nil {
		actions = okActions
	}
	e, err := NewExecutor(ExecutorConfig{
		Actions: actions,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return e
}

// eventRecorder captures events in arrival order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func linearWorkflow() *Workflow {
	return &Workflow{
		ID:   "linear",
		Name: "Linear",
		Steps: []Step{
			{ID: "A", Action: ActionLog, OnSuccess: "B"},
			{ID: "B", Action: ActionLog, OnSuccess: "C"},
			{ID: "C", Action: ActionLog},
		},
	}
}

func TestExecutor_LinearWorkflow(t *testing.T) {
	e := newTestExecutor(t, nil)
	rec := &eventRecorder{}
	e.AddListener(rec.listen)

	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "A", run.CurrentStep)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.CompletedSteps, 3)
	assert.Equal(t, "A", final.CompletedSteps[0].StepID)
	assert.Equal(t, "B", final.CompletedSteps[1].StepID)
	assert.Equal(t, "C", final.CompletedSteps[2].StepID)

	var started, stepStarted, stepCompleted, completed int
	for _, ev := range rec.all() {
		switch ev := ev.(type) {
		case WorkflowStarted:
			started++
		case StepStarted:
			stepStarted++
		case StepCompleted:
			stepCompleted++
		case WorkflowCompleted:
			completed++
			assert.True(t, ev.Success)
			assert.Equal(t, 3, ev.StepsCompleted)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 3, stepStarted)
	assert.Equal(t, 3, stepCompleted)
	assert.Equal(t, 1, completed)

	// The run moved out of activeRuns into the completed history.
	assert.Empty(t, e.GetActiveRuns())
	completedRuns := e.GetCompletedRuns()
	require.Len(t, completedRuns, 1)
	assert.Equal(t, run.ID, completedRuns[0].ID)
}

func TestExecutor_EventOrdering(t *testing.T) {
	e := newTestExecutor(t, nil)
	rec := &eventRecorder{}
	e.AddListener(rec.listen)

	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)
	_, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)

	events := rec.all()
	require.NotEmpty(t, events)
	_, isStart := events[0].(WorkflowStarted)
	assert.True(t, isStart, "WorkflowStarted precedes any step event")
	_, isDone := events[len(events)-1].(WorkflowCompleted)
	assert.True(t, isDone, "WorkflowCompleted is last")
}

func TestExecutor_ConditionalSkip(t *testing.T) {
	var executed []string
	actions := ActionExecutorFunc(func(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error) {
		executed = append(executed, step.ID)
		return StepResult{Success: true}, nil
	})
	e := newTestExecutor(t, actions)
	rec := &eventRecorder{}
	e.AddListener(rec.listen)

	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:   "cond",
		Name: "Conditional",
		Steps: []Step{
			{ID: "X", Action: ActionRunTests, OnSuccess: "Y",
				Condition: &Condition{Type: ConditionVariableSet, Value: "needed"}},
			{ID: "Y", Action: ActionLog},
		},
	}))
	run, err := e.StartWorkflow("cond", nil)
	require.NoError(t, err)

	result, err := e.ExecuteNextStep(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "Skipped due to condition", result.Output)
	assert.Empty(t, executed, "skipped step never reaches the executor")

	for _, ev := range rec.all() {
		if ss, ok := ev.(StepStarted); ok {
			assert.NotEqual(t, "X", ss.StepID, "no StepStarted for a skipped step")
		}
	}

	snapshot, ok := e.GetRun(run.ID)
	require.True(t, ok)
	assert.Equal(t, "Y", snapshot.CurrentStep, "run advanced along the success edge")
}

func TestExecutor_UserCheckpointCancel(t *testing.T) {
	e := newTestExecutor(t, nil)
	rec := &eventRecorder{}
	e.AddListener(rec.listen)

	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:   "checkpoint",
		Name: "Checkpoint",
		Steps: []Step{
			{ID: "U", Action: ActionAskUser, OnSuccess: "done",
				Config: map[string]interface{}{"prompt": "apply these changes?"}},
			{ID: "done", Action: ActionLog},
		},
	}))
	run, err := e.StartWorkflow("checkpoint", nil)
	require.NoError(t, err)

	result, err := e.ExecuteNextStep(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, result, "checkpoint suspends without a result")

	snapshot, ok := e.GetRun(run.ID)
	require.True(t, ok)
	assert.Equal(t, StatusWaitingUser, snapshot.Status)

	var sawPrompt bool
	for _, ev := range rec.all() {
		if uir, ok := ev.(UserInputRequired); ok {
			sawPrompt = true
			assert.Equal(t, "U", uir.StepID)
			assert.Equal(t, "apply these changes?", uir.Prompt)
		}
	}
	assert.True(t, sawPrompt)

	// Declining with no failure branch cancels the run.
	final, err := e.ContinueAfterUserInput(run.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	assert.Empty(t, e.GetActiveRuns())
	completed := e.GetCompletedRuns()
	require.Len(t, completed, 1)
	assert.Equal(t, run.ID, completed[0].ID)
}

func TestExecutor_UserCheckpointProceed(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:   "checkpoint",
		Name: "Checkpoint",
		Steps: []Step{
			{ID: "U", Action: ActionAskUser, OnSuccess: "done"},
			{ID: "done", Action: ActionLog},
		},
	}))
	run, err := e.StartWorkflow("checkpoint", nil)
	require.NoError(t, err)

	_, err = e.ExecuteNextStep(context.Background(), run.ID)
	require.NoError(t, err)

	resumed, err := e.ContinueAfterUserInput(run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)
	assert.Equal(t, "done", resumed.CurrentStep)
	require.Len(t, resumed.CompletedSteps, 1)
	assert.True(t, resumed.CompletedSteps[0].Success)
	assert.Equal(t, "User approved", resumed.CompletedSteps[0].Output)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestExecutor_ContinueOnlyWhenWaiting(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)

	// Not waiting for input; the call is a state-guarded no-op.
	snapshot, err := e.ContinueAfterUserInput(run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snapshot.Status)
	assert.Empty(t, snapshot.CompletedSteps)
}

func TestExecutor_FailureBranch(t *testing.T) {
	actions := ActionExecutorFunc(func(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error) {
		if step.ID == "build" {
			return StepResult{}, errors.New("compile failed")
		}
		return StepResult{Success: true}, nil
	})
	e := newTestExecutor(t, actions)

	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:   "branchy",
		Name: "Branchy",
		Steps: []Step{
			{ID: "build", Action: ActionRunCommand, OnSuccess: "deploy", OnFailure: "report"},
			{ID: "deploy", Action: ActionRunCommand},
			{ID: "report", Action: ActionNotify},
		},
	}))
	run, err := e.StartWorkflow("branchy", nil)
	require.NoError(t, err)

	result, err := e.ExecuteNextStep(context.Background(), run.ID)
	require.NoError(t, err, "executor errors become failure results, not engine errors")
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, "compile failed", result.Error)

	snapshot, _ := e.GetRun(run.ID)
	assert.Equal(t, "report", snapshot.CurrentStep)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.CompletedSteps, 2)
	assert.Equal(t, "report", final.CompletedSteps[1].StepID)
}

func TestExecutor_FailureWithoutBranchFailsRun(t *testing.T) {
	actions := ActionExecutorFunc(func(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error) {
		return StepResult{}, errors.New("boom")
	})
	e := newTestExecutor(t, actions)
	rec := &eventRecorder{}
	e.AddListener(rec.listen)

	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:    "fragile",
		Name:  "Fragile",
		Steps: []Step{{ID: "only", Action: ActionRunCommand}},
	}))
	run, err := e.StartWorkflow("fragile", nil)
	require.NoError(t, err)

	_, err = e.ExecuteNextStep(context.Background(), run.ID)
	require.NoError(t, err)

	snapshot, ok := e.GetRun(run.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snapshot.Status)
	assert.Equal(t, "boom", snapshot.Error)

	var failed bool
	for _, ev := range rec.all() {
		if wf, ok := ev.(WorkflowFailed); ok {
			failed = true
			assert.Equal(t, "boom", wf.Error)
			assert.Equal(t, "only", wf.FailedStepID)
		}
	}
	assert.True(t, failed)
}

func TestExecutor_PauseResumeRoundTrip(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)

	paused, err := e.PauseWorkflow(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// A paused run does not advance.
	result, err := e.ExecuteNextStep(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, result)

	resumed, err := e.ResumeWorkflow(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)

	// Resume from running is a no-op.
	again, err := e.ResumeWorkflow(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, again.Status)
}

func TestExecutor_CancelIdempotent(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)

	first, err := e.CancelWorkflow(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)

	second, err := e.CancelWorkflow(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)

	assert.Len(t, e.GetCompletedRuns(), 1, "cancelled run appears exactly once")
}

func TestExecutor_UnknownIDs(t *testing.T) {
	e := newTestExecutor(t, nil)

	_, err := e.StartWorkflow("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	_, err = e.ExecuteNextStep(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRun)

	_, err = e.ContinueAfterUserInput("nope", true)
	assert.ErrorIs(t, err, ErrUnknownRun)

	_, ok := e.GetRun("nope")
	assert.False(t, ok)
}

func TestExecutor_RegisterUnregisterRoundTrip(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.Empty(t, e.GetAllWorkflows())

	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	require.Len(t, e.GetAllWorkflows(), 1)

	e.UnregisterWorkflow("linear")
	assert.Empty(t, e.GetAllWorkflows())
}

func TestExecutor_RejectsInvalidWorkflow(t *testing.T) {
	e := newTestExecutor(t, nil)
	err := e.RegisterWorkflow(&Workflow{ID: "bad", Name: "Bad"})
	require.Error(t, err)
	assert.Empty(t, e.GetAllWorkflows(), "registry unchanged on rejection")
}

func TestExecutor_ProcessTrigger(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:       "on-save",
		Name:     "On Save",
		Triggers: []Trigger{{Type: TriggerFileSave, Pattern: `\.go$`}},
		Steps:    []Step{{ID: "a", Action: ActionLog}},
	}))
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:       "on-deploy",
		Name:     "On Deploy",
		Triggers: []Trigger{{Type: TriggerCommand, Pattern: "deploy"}},
		Steps:    []Step{{ID: "a", Action: ActionLog}},
	}))

	runs := e.ProcessTrigger(TriggerEvent{Type: TriggerFileSave, Data: "pkg/x.go"})
	require.Len(t, runs, 1)
	assert.Equal(t, "on-save", runs[0].WorkflowID)

	runs = e.ProcessTrigger(TriggerEvent{Type: TriggerFileSave, Data: "README.md"})
	assert.Empty(t, runs)

	workflows := e.GetWorkflowsForTrigger(TriggerCommand)
	require.Len(t, workflows, 1)
	assert.Equal(t, "on-deploy", workflows[0].ID)
}

func TestExecutor_MaxStepsCap(t *testing.T) {
	// A two-step cycle never terminates on its own.
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:       "cycle",
		Name:     "Cycle",
		MaxSteps: 7,
		Steps: []Step{
			{ID: "a", Action: ActionLog, OnSuccess: "b"},
			{ID: "b", Action: ActionLog, OnSuccess: "a"},
		},
	}))
	run, err := e.StartWorkflow("cycle", nil)
	require.NoError(t, err)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, final.Status, "cap stops advancement, run stays active")
	assert.Len(t, final.CompletedSteps, 7)
}

func TestExecutor_CompletedRunRetention(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:    "quick",
		Name:  "Quick",
		Steps: []Step{{ID: "a", Action: ActionLog}},
	}))

	for i := 0; i < completedRunRetention+10; i++ {
		run, err := e.StartWorkflow("quick", nil)
		require.NoError(t, err)
		_, err = e.ExecuteUntilComplete(context.Background(), run.ID)
		require.NoError(t, err)
	}
	assert.Len(t, e.GetCompletedRuns(), completedRunRetention)
}

func TestExecutor_ResultsMatchContext(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, len(final.CompletedSteps), final.Context.ResultCount())
}

func TestExecutor_ListenerPanicIsolated(t *testing.T) {
	e := newTestExecutor(t, nil)
	e.AddListener(func(Event) { panic("bad listener") })
	rec := &eventRecorder{}
	e.AddListener(rec.listen)

	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.NotEmpty(t, rec.all(), "other listeners still receive events")
}

func TestExecutor_RemoveListener(t *testing.T) {
	e := newTestExecutor(t, nil)
	rec := &eventRecorder{}
	id := e.AddListener(rec.listen)
	e.RemoveListener(id)

	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))
	run, err := e.StartWorkflow("linear", nil)
	require.NoError(t, err)
	_, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.all())
}

func TestExecutor_ExecutorWritesVariables(t *testing.T) {
	actions := ActionExecutorFunc(func(ctx context.Context, action Action, step *Step, wctx *Context) (StepResult, error) {
		if step.ID == "produce" {
			wctx.SetVariable("artifact", "report.txt")
		}
		return StepResult{Success: true}, nil
	})
	e := newTestExecutor(t, actions)
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:   "vars",
		Name: "Vars",
		Steps: []Step{
			{ID: "produce", Action: ActionGenerateCode, OnSuccess: "consume"},
			{ID: "consume", Action: ActionLog,
				Condition: &Condition{Type: ConditionVariableSet, Value: "artifact"}},
		},
	}))
	run, err := e.StartWorkflow("vars", nil)
	require.NoError(t, err)

	final, err := e.ExecuteUntilComplete(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.Len(t, final.CompletedSteps, 2)
	assert.NotEqual(t, "Skipped due to condition", final.CompletedSteps[1].Output)
}

func TestExecutor_SnapshotsDuringCheckpoints(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(&Workflow{
		ID:   "gate",
		Name: "Gate",
		Steps: []Step{
			{ID: "ask", Action: ActionAskUser, OnSuccess: "ask"},
		},
	}))
	run, err := e.StartWorkflow("gate", nil)
	require.NoError(t, err)

	// Readers hammer the snapshot paths while the run bounces between
	// waiting-user and running.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if snap, ok := e.GetRun(run.ID); ok {
				_ = snap.Status
			}
			_ = e.GetActiveRuns()
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := e.ExecuteNextStep(context.Background(), run.ID)
		require.NoError(t, err)
		resumed, err := e.ContinueAfterUserInput(run.ID, true)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, resumed.Status)
	}
	close(done)
	wg.Wait()

	snapshot, ok := e.GetRun(run.ID)
	require.True(t, ok)
	assert.Len(t, snapshot.CompletedSteps, 50)
}

func TestExecutor_ConcurrentRuns(t *testing.T) {
	e := newTestExecutor(t, nil)
	require.NoError(t, e.RegisterWorkflow(linearWorkflow()))

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := e.StartWorkflow("linear", map[string]string{"i": fmt.Sprint(i)})
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = e.ExecuteUntilComplete(context.Background(), run.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "run %d", i)
	}
	assert.Len(t, e.GetCompletedRuns(), n)
}
