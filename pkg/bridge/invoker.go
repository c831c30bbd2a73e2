// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/forge/pkg/collab"
	"github.com/teradata-labs/forge/pkg/llm"
	"github.com/teradata-labs/forge/pkg/types"
)

// AgentInvoker answers collaboration turns through the provider manager.
// The agent's system prompt carries the role persona; the orchestrator's
// assembled prompt carries the conversation.
type AgentInvoker struct {
	manager *llm.Manager
	model   string
	logger  *zap.Logger
}

// NewAgentInvoker creates the bridge invoker. model may be empty to use
// each provider's default.
func NewAgentInvoker(manager *llm.Manager, model string, logger *zap.Logger) *AgentInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentInvoker{manager: manager, model: model, logger: logger}
}

var _ collab.AgentInvoker = (*AgentInvoker)(nil)

// Invoke implements collab.AgentInvoker.
func (i *AgentInvoker) Invoke(ctx context.Context, agent *collab.Agent, prompt string, session *collab.Session) (string, error) {
	req := &types.ChatRequest{
		Model:        i.model,
		SystemPrompt: agent.SystemPrompt,
		Messages:     []types.ChatMessage{{Role: types.RoleUser, Content: prompt}},
	}

	resp, err := i.manager.Chat(ctx, req)
	if err != nil {
		i.logger.Warn("agent invocation failed",
			zap.String("session_id", session.ID),
			zap.String("role", string(agent.Role)),
			zap.Error(err))
		return "", fmt.Errorf("invoke %s: %w", agent.Role, err)
	}
	return resp.Content, nil
}
