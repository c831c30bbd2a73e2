// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/forge/pkg/bridge"
	"github.com/teradata-labs/forge/pkg/workflow"
)

var (
	workflowProject string
	workflowVars    []string
)

// workflowCmd represents the workflow command
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Validate and run YAML workflow definitions",
	Long: `Run trigger-driven developer workflows defined in YAML.

Examples:
  # Validate a workflow file
  forge workflow validate review.yaml

  # Run a workflow against the current project
  forge workflow run review.yaml --project .

  # List workflows in a directory
  forge workflow list ./workflows`,
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a workflow YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowValidate,
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a workflow to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowRun,
}

var workflowListCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List workflows in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWorkflowList,
}

func init() {
	workflowRunCmd.Flags().StringVar(&workflowProject, "project", ".", "project path the workflow operates on")
	workflowRunCmd.Flags().StringSliceVar(&workflowVars, "var", nil, "initial variables (name=value, repeatable)")
	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowListCmd)
	rootCmd.AddCommand(workflowCmd)
}

func runWorkflowValidate(cmd *cobra.Command, args []string) error {
	wf, err := workflow.LoadFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s (%s): %d steps, %d triggers\n",
		wf.Name, wf.ID, len(wf.Steps), len(wf.Triggers))
	return nil
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	wf, err := workflow.LoadFile(args[0])
	if err != nil {
		return err
	}

	manager, err := newManager(ctx, config, logger)
	if err != nil {
		return err
	}

	executor, err := workflow.NewExecutor(workflow.ExecutorConfig{
		Actions: bridge.NewActionExecutor(manager, logger),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := executor.RegisterWorkflow(wf); err != nil {
		return err
	}

	executor.AddListener(func(e workflow.Event) {
		switch ev := e.(type) {
		case workflow.WorkflowStarted:
			fmt.Printf("▶ %s (%s)\n", ev.Name, ev.RunID)
		case workflow.StepStarted:
			fmt.Printf("  → %s [%s]\n", ev.StepID, ev.Action)
		case workflow.StepCompleted:
			mark := "✓"
			if !ev.Result.Success {
				mark = "✗"
			}
			fmt.Printf("  %s %s (%dms)\n", mark, ev.StepID, ev.Result.DurationMs)
		case workflow.UserInputRequired:
			fmt.Printf("  ? %s: %s\n", ev.StepID, ev.Prompt)
		case workflow.WorkflowCompleted:
			fmt.Printf("■ done: %d steps in %dms\n", ev.StepsCompleted, ev.DurationMs)
		case workflow.WorkflowFailed:
			fmt.Printf("■ failed at %s: %s\n", ev.FailedStepID, ev.Error)
		}
	})

	vars := map[string]string{"project_path": workflowProject}
	for _, kv := range workflowVars {
		name, value, ok := cutVar(kv)
		if !ok {
			return fmt.Errorf("invalid --var %q, want name=value", kv)
		}
		vars[name] = value
	}

	run, err := executor.StartWorkflow(wf.ID, vars)
	if err != nil {
		return err
	}

	final, err := executor.ExecuteUntilComplete(ctx, run.ID)
	if err != nil {
		return err
	}
	if final.Status == workflow.StatusWaitingUser {
		return fmt.Errorf("workflow is waiting for user input; interactive checkpoints are not supported in one-shot mode")
	}
	if final.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow finished with status %s", final.Status)
	}
	return nil
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	dir := config.Workflows.Dir
	if len(args) > 0 {
		dir = args[0]
	}

	workflows, errs := workflow.LoadDir(dir)
	for _, wf := range workflows {
		fmt.Printf("%-24s %-32s steps=%d triggers=%d\n",
			wf.ID, wf.Name, len(wf.Steps), len(wf.Triggers))
	}
	for _, err := range errs {
		fmt.Printf("! %v\n", err)
	}
	if len(workflows) == 0 && len(errs) == 0 {
		fmt.Printf("no workflows in %s\n", dir)
	}
	return nil
}

func cutVar(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], i > 0
		}
	}
	return "", "", false
}
