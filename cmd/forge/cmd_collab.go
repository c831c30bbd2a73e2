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
	"github.com/teradata-labs/forge/pkg/collab"
)

var (
	collabProtocol string
	collabRoles    []string
	collabRounds   int
	collabModel    string
)

// collabCmd represents the collab command
var collabCmd = &cobra.Command{
	Use:   "collab <goal>",
	Short: "Run a multi-agent collaboration session",
	Long: `Run a collaboration session where role-bound agents work a goal
turn by turn under a protocol.

Examples:
  # Three-role round-robin design discussion
  forge collab "design the cache layer" --roles architect,implementer,reviewer

  # Two-role debate
  forge collab "pick an eviction policy" --protocol debate --roles architect,implementer

  # Consensus decision
  forge collab "approve the migration plan" --protocol consensus --roles architect,implementer,reviewer`,
	Args: cobra.ExactArgs(1),
	RunE: runCollab,
}

func init() {
	collabCmd.Flags().StringVar(&collabProtocol, "protocol", "round-robin", "turn-taking protocol (round-robin, debate, consensus, broadcast, leader-follower, voting, free-form)")
	collabCmd.Flags().StringSliceVar(&collabRoles, "roles", []string{"architect", "implementer", "reviewer"}, "participant roles in speaking order")
	collabCmd.Flags().IntVar(&collabRounds, "rounds", 3, "maximum protocol rounds")
	collabCmd.Flags().StringVar(&collabModel, "model", "", "model id (provider default when empty)")
	rootCmd.AddCommand(collabCmd)
}

func runCollab(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager, err := newManager(ctx, config, logger)
	if err != nil {
		return err
	}

	orchestrator, err := collab.NewOrchestrator(collab.OrchestratorConfig{
		Invoker:            bridge.NewAgentInvoker(manager, collabModel, logger),
		ConsensusThreshold: config.Collab.ConsensusThreshold,
		MaxTurns:           config.Collab.MaxTurns,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	orchestrator.AddListener(func(e collab.Event) {
		switch ev := e.(type) {
		case collab.MessageSent:
			fmt.Printf("  [%s] %s\n", ev.SenderRole, ev.MessageType)
		case collab.DecisionMade:
			fmt.Printf("  ! decision by %s: %s\n", ev.ByRole, ev.Description)
		case collab.ConsensusReached:
			fmt.Printf("  ! consensus at %.0f%% approval\n", ev.ApprovalPct*100)
		}
	})

	roles := make([]collab.Role, 0, len(collabRoles))
	for _, r := range collabRoles {
		roles = append(roles, collab.Role(r))
	}

	session := orchestrator.CreateSession(
		fmt.Sprintf("%s session", collabProtocol), args[0],
		roles, collab.Protocol(collabProtocol))
	fmt.Printf("▶ %s: %s\n", session.ID, args[0])

	result, err := orchestrator.ExecuteSession(ctx, session.ID, collabRounds)
	if err != nil {
		return err
	}

	fmt.Printf("\n■ %s\n", result.Outcome)
	fmt.Printf("  turns=%d messages=%d duration=%dms\n",
		result.TotalTurns, result.MessageCount, result.DurationMs)
	for _, d := range result.Decisions {
		fmt.Printf("  decision: %s (%s)\n", d.Description, d.ByRole)
	}

	final, _ := orchestrator.GetSession(session.ID)
	if final != nil {
		fmt.Println("\nTranscript:")
		for _, m := range final.Messages {
			fmt.Printf("[%s] %s\n", m.SenderRole, m.Content)
		}
	}
	return nil
}
