// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package bridge connects the provider manager to the workflow engine and
// the collaboration orchestrator: workflow steps and collaboration turns
// both resolve to chat calls against whichever provider is active.
package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/forge/pkg/llm"
	"github.com/teradata-labs/forge/pkg/types"
	"github.com/teradata-labs/forge/pkg/workflow"
)

// defaultWaitMs is the pause for a wait step that names no duration.
const defaultWaitMs = 1000

// ActionExecutor turns workflow steps into provider chat calls, shell
// invocations, and file edits. Control-flow actions are handled locally.
type ActionExecutor struct {
	manager *llm.Manager
	logger  *zap.Logger
}

// NewActionExecutor creates the bridge executor.
func NewActionExecutor(manager *llm.Manager, logger *zap.Logger) *ActionExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionExecutor{manager: manager, logger: logger}
}

var _ workflow.ActionExecutor = (*ActionExecutor)(nil)

// Execute dispatches one step. LLM-backed actions fail as a StepResult so
// the workflow can route along its failure branch; only context
// cancellation surfaces as an error.
func (e *ActionExecutor) Execute(ctx context.Context, action workflow.Action, step *workflow.Step, wctx *workflow.Context) (workflow.StepResult, error) {
	switch action {
	case workflow.ActionLog:
		return e.logStep(step, wctx), nil
	case workflow.ActionNotify:
		return e.notify(step, wctx), nil
	case workflow.ActionWait:
		return e.wait(ctx, step)
	case workflow.ActionSetVariable:
		return e.setVariable(step, wctx), nil
	case workflow.ActionBranch:
		// Routing happens through on_success / on_failure.
		return workflow.StepResult{Success: true, Output: "Branch evaluated"}, nil
	case workflow.ActionRunCommand, workflow.ActionRunTests:
		return e.runCommand(ctx, action, step, wctx)
	case workflow.ActionCreateFile, workflow.ActionModifyFile:
		return e.writeFile(step, wctx), nil
	case workflow.ActionCommitChanges:
		return e.commit(ctx, step, wctx)
	default:
		return e.chat(ctx, action, step, wctx)
	}
}

func (e *ActionExecutor) logStep(step *workflow.Step, wctx *workflow.Context) workflow.StepResult {
	message := expand(configString(step, "message"), wctx)
	e.logger.Info("workflow log step",
		zap.String("run_id", wctx.RunID),
		zap.String("step_id", step.ID),
		zap.String("message", message))
	return workflow.StepResult{Success: true, Output: message}
}

func (e *ActionExecutor) notify(step *workflow.Step, wctx *workflow.Context) workflow.StepResult {
	message := expand(configString(step, "message"), wctx)
	e.logger.Info("workflow notification",
		zap.String("run_id", wctx.RunID),
		zap.String("message", message))
	return workflow.StepResult{Success: true, Output: message}
}

func (e *ActionExecutor) wait(ctx context.Context, step *workflow.Step) (workflow.StepResult, error) {
	ms := configInt(step, "duration_ms")
	if ms <= 0 {
		ms = defaultWaitMs
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return workflow.StepResult{Success: true, Output: fmt.Sprintf("Waited %dms", ms)}, nil
	case <-ctx.Done():
		return workflow.StepResult{}, ctx.Err()
	}
}

func (e *ActionExecutor) setVariable(step *workflow.Step, wctx *workflow.Context) workflow.StepResult {
	name := configString(step, "name")
	if name == "" {
		return workflow.StepResult{Success: false, Error: "set-variable requires a name"}
	}
	value := expand(configString(step, "value"), wctx)
	wctx.SetVariable(name, value)
	return workflow.StepResult{
		Success: true,
		Output:  fmt.Sprintf("Set %s", name),
		Outputs: map[string]string{name: value},
	}
}

func (e *ActionExecutor) runCommand(ctx context.Context, action workflow.Action, step *workflow.Step, wctx *workflow.Context) (workflow.StepResult, error) {
	command := expand(configString(step, "command"), wctx)
	if command == "" && action == workflow.ActionRunTests {
		command = "go test ./..."
	}
	if command == "" {
		return workflow.StepResult{Success: false, Error: "run-command requires a command"}, nil
	}

	if step.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if wctx.ProjectPath != "" {
		cmd.Dir = wctx.ProjectPath
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return workflow.StepResult{
			Success: false,
			Output:  string(out),
			Error:   err.Error(),
		}, nil
	}
	return workflow.StepResult{Success: true, Output: string(out)}, nil
}

func (e *ActionExecutor) writeFile(step *workflow.Step, wctx *workflow.Context) workflow.StepResult {
	path := configString(step, "path")
	if path == "" {
		return workflow.StepResult{Success: false, Error: "file step requires a path"}
	}
	if !filepath.IsAbs(path) && wctx.ProjectPath != "" {
		path = filepath.Join(wctx.ProjectPath, path)
	}
	content := expand(configString(step, "content"), wctx)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return workflow.StepResult{Success: false, Error: err.Error()}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return workflow.StepResult{Success: false, Error: err.Error()}
	}
	return workflow.StepResult{
		Success: true,
		Output:  fmt.Sprintf("Wrote %s", path),
		Outputs: map[string]string{"path": path},
	}
}

func (e *ActionExecutor) commit(ctx context.Context, step *workflow.Step, wctx *workflow.Context) (workflow.StepResult, error) {
	message := expand(configString(step, "message"), wctx)
	if message == "" {
		message = fmt.Sprintf("workflow %s", wctx.WorkflowID)
	}

	for _, argv := range [][]string{
		{"git", "add", "-A"},
		{"git", "commit", "-m", message},
	} {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if wctx.ProjectPath != "" {
			cmd.Dir = wctx.ProjectPath
		}
		if out, err := cmd.CombinedOutput(); err != nil {
			return workflow.StepResult{
				Success: false,
				Output:  string(out),
				Error:   err.Error(),
			}, nil
		}
	}
	return workflow.StepResult{Success: true, Output: fmt.Sprintf("Committed: %s", message)}, nil
}

// chat handles the LLM-backed actions: the step config becomes a prompt and
// the active provider answers it.
func (e *ActionExecutor) chat(ctx context.Context, action workflow.Action, step *workflow.Step, wctx *workflow.Context) (workflow.StepResult, error) {
	prompt := expand(configString(step, "prompt"), wctx)
	if prompt == "" {
		prompt = fmt.Sprintf("Perform the %q step of an automated workflow.", action)
	}

	req := &types.ChatRequest{
		Model:        configString(step, "model"),
		SystemPrompt: systemPromptFor(action),
		Messages:     []types.ChatMessage{{Role: types.RoleUser, Content: prompt}},
	}

	if step.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := e.manager.Chat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return workflow.StepResult{}, ctx.Err()
		}
		return workflow.StepResult{Success: false, Error: err.Error()}, nil
	}
	return workflow.StepResult{Success: true, Output: resp.Content}, nil
}

// systemPromptFor shapes the model's behavior per action class.
func systemPromptFor(action workflow.Action) string {
	switch action {
	case workflow.ActionAnalyzeCode:
		return "You are a code analyst. Report findings concisely."
	case workflow.ActionGenerateCode:
		return "You are a code generator. Output only code unless asked otherwise."
	case workflow.ActionSearchCodebase:
		return "You locate relevant code. List matching files and symbols."
	case workflow.ActionApplyChanges:
		return "You apply the requested code changes and report what was modified."
	default:
		return "You are an automated development assistant."
	}
}

// configString reads a string value out of a step's config map.
func configString(step *workflow.Step, key string) string {
	if step.Config == nil {
		return ""
	}
	if v, ok := step.Config[key].(string); ok {
		return v
	}
	return ""
}

// configInt reads a numeric value out of a step's config map. YAML and
// JSON decoders produce different numeric types, so both are accepted.
func configInt(step *workflow.Step, key string) int {
	if step.Config == nil {
		return 0
	}
	switch v := step.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// expand substitutes {{var}} references with workflow context variables.
func expand(s string, wctx *workflow.Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for name, value := range wctx.Variables() {
		s = strings.ReplaceAll(s, "{{"+name+"}}", value)
	}
	return s
}
