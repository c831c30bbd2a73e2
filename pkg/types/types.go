// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains the unified LLM types shared across the forge
// framework. This package breaks import cycles by providing common types
// that pkg/llm, the provider transports, and the orchestration layers all
// depend on.
package types

import (
	"context"
)

// ============================================================================
// Provider identity
// ============================================================================

// ProviderType identifies an LLM backend family.
type ProviderType string

const (
	ProviderOllama    ProviderType = "ollama"
	ProviderLMStudio  ProviderType = "lmstudio"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderAzure     ProviderType = "azure"
	ProviderCustom    ProviderType = "custom"
)

// ============================================================================
// Chat types
// ============================================================================

// Message roles understood by every provider transport.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Name optionally identifies the tool that produced a tool message
	Name string `json:"name,omitempty"`
}

// ToolProperty describes a single parameter of a tool schema.
type ToolProperty struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolParameters is a JSON-Schema-like object schema for tool inputs.
type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolCallRequest is a tool invocation requested by the model.
type ToolCallRequest struct {
	// ID is the provider-assigned identifier for this call
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Arguments contains the call arguments as a JSON string
	Arguments string `json:"arguments"`
}

// Usage reports token consumption for a single request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is the provider-independent chat request.
type ChatRequest struct {
	// Model is the model id to use
	Model string

	// Messages is the ordered conversation history
	Messages []ChatMessage

	// Temperature controls sampling randomness
	Temperature float64

	// MaxTokens caps the completion length (0 = provider default)
	MaxTokens int

	// SystemPrompt, if set, is prepended as a system message
	SystemPrompt string

	// Tools lists functions the model may call
	Tools []Tool

	// Stream requests token-by-token delivery
	Stream bool
}

// ChatResponse is the provider-independent chat response.
type ChatResponse struct {
	// Content is the assistant text, if any
	Content string

	// ToolCalls lists tool invocations requested by the model
	ToolCalls []ToolCallRequest

	// Usage reports token consumption, if the provider supplies it
	Usage *Usage

	// FinishReason is the provider's stop reason ("stop", "length",
	// "tool_calls", "error")
	FinishReason string

	// Model is the model that produced the response
	Model string

	// Error carries a downstream failure surfaced as a typed response
	Error string
}

// ErrorResponse builds a ChatResponse carrying a downstream failure.
func ErrorResponse(msg string) *ChatResponse {
	return &ChatResponse{FinishReason: "error", Error: msg}
}

// StreamChunk is a single delta of a streaming chat response.
// The stream channel is closed after the chunk with Done set.
type StreamChunk struct {
	// Content is the text delta
	Content string

	// Done marks the final chunk
	Done bool

	// Err reports a mid-stream failure; the channel closes afterwards
	Err error
}

// ============================================================================
// Model metadata
// ============================================================================

// ModelCapability tags what a model can do.
type ModelCapability string

const (
	CapabilityChat            ModelCapability = "chat"
	CapabilityCompletion      ModelCapability = "completion"
	CapabilityCode            ModelCapability = "code"
	CapabilityEmbedding       ModelCapability = "embedding"
	CapabilityFunctionCalling ModelCapability = "function-calling"
	CapabilityVision          ModelCapability = "vision"
)

// Model is the unified description of a model exposed by a provider.
type Model struct {
	// ID is the provider-scoped model identifier
	ID string

	// Provider is the backend that owns the model
	Provider ProviderType

	// Name is the human-readable display name
	Name string

	// ContextLength is the model's context window in tokens
	ContextLength int

	// Capabilities lists what the model supports
	Capabilities []ModelCapability

	// Loaded reports whether the model is resident in the backend
	Loaded bool

	// Metadata carries provider-specific extras (family, size, ...)
	Metadata map[string]string
}

// HasCapability reports whether the model carries the given capability.
func (m Model) HasCapability(c ModelCapability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ============================================================================
// Provider interface
// ============================================================================

// ProviderHealth is the result of a provider health check.
type ProviderHealth struct {
	// Healthy reports whether the backend answered
	Healthy bool

	// LatencyMs is the round-trip time of the probe
	LatencyMs int64

	// Error describes the failure when Healthy is false
	Error string

	// LoadedModel names the model currently resident, if reported
	LoadedModel string
}

// Provider is a capability-bearing handle on one LLM backend.
//
// Implementations must be safe for concurrent use. StreamChat returns a
// channel that is closed when the stream completes; callers cancel via ctx.
type Provider interface {
	// Name returns the provider instance name.
	Name() string

	// Type returns the backend family.
	Type() ProviderType

	// IsAvailable returns the latest availability snapshot without
	// performing network I/O.
	IsAvailable() bool

	// ListModels enumerates the models the backend currently serves.
	ListModels(ctx context.Context) ([]Model, error)

	// Chat sends a conversation and returns the complete response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChat sends a conversation and streams text deltas.
	// The returned channel is closed after the final chunk.
	StreamChat(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Embed computes an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// CheckHealth probes the backend and updates the availability snapshot.
	CheckHealth(ctx context.Context) ProviderHealth
}
