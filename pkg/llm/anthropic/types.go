// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package anthropic

import "encoding/json"

// Wire types for the Anthropic Messages API (api.anthropic.com/v1/messages).

// MessagesRequest is the request body for POST /v1/messages.
type MessagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	System      string    `json:"system,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// MessagesResponse is the non-streaming response body.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
	Error      *APIError      `json:"error,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single block inside a message. The API requires
// tool_use blocks to always carry "input", even when empty, which
// omitempty would drop, hence the custom marshaler.
type ContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

// MarshalJSON keeps "input" present on tool_use blocks.
func (cb ContentBlock) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"type": cb.Type}
	if cb.Text != "" {
		m["text"] = cb.Text
	}
	if cb.ID != "" {
		m["id"] = cb.ID
	}
	if cb.Name != "" {
		m["name"] = cb.Name
	}
	if cb.Type == "tool_use" {
		if len(cb.Input) == 0 {
			m["input"] = map[string]interface{}{}
		} else {
			m["input"] = cb.Input
		}
	} else if len(cb.Input) > 0 {
		m["input"] = cb.Input
	}
	if cb.ToolUseID != "" {
		m["tool_use_id"] = cb.ToolUseID
	}
	if cb.Content != "" {
		m["content"] = cb.Content
	}
	return json.Marshal(m)
}

// Tool is a tool definition in Anthropic's schema layout.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]SchemaProp  `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
	Extra      map[string]interface{} `json:"-"`
}

// SchemaProp is one property in a tool input schema.
type SchemaProp struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError is the error payload the API returns on failure.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StreamEvent is one SSE event in a streaming response.
type StreamEvent struct {
	Type    string           `json:"type"`
	Index   int              `json:"index,omitempty"`
	Delta   *StreamDelta     `json:"delta,omitempty"`
	Message *StreamMessage   `json:"message,omitempty"`
	Usage   *Usage           `json:"usage,omitempty"`
	Error   *APIError        `json:"error,omitempty"`
	Block   *StreamBlockInfo `json:"content_block,omitempty"`
}

// StreamDelta carries incremental content inside a stream event.
type StreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// StreamMessage is the envelope in a message_start event.
type StreamMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// StreamBlockInfo describes a content block opened mid-stream.
type StreamBlockInfo struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}
