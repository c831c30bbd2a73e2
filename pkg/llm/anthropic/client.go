// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package anthropic implements the unified provider interface on top of
// the Anthropic Messages API. It is a remote supplement to the local
// ollama and lmstudio backends; model listing and embeddings are not
// part of the Messages API and return ErrNotSupported.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/forge/pkg/types"
)

const (
	// DefaultEndpoint is the Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"

	// DefaultModel is used when the request does not name one.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultMaxTokens caps the response when the request does not.
	DefaultMaxTokens = 4096

	// DefaultTimeout bounds a complete non-streaming call.
	DefaultTimeout = 120 * time.Second

	apiVersion = "2023-06-01"
)

// ErrNotSupported is returned for operations the Messages API does not
// expose (model listing, embeddings).
var ErrNotSupported = errors.New("anthropic: operation not supported")

// Config configures an Anthropic client.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// Endpoint overrides DefaultEndpoint, for proxies and tests.
	Endpoint string

	// Model is the default model id.
	Model string

	// MaxTokens caps responses when the request does not set one.
	MaxTokens int

	// Timeout bounds non-streaming calls.
	Timeout time.Duration
}

// Client talks to the Anthropic Messages API.
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	maxTokens  int
	httpClient *http.Client

	available atomic.Bool
}

// New creates an Anthropic client. The client reports unavailable until
// the first health check sees an API key.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements types.Provider.
func (c *Client) Name() string { return "anthropic" }

// Type implements types.Provider.
func (c *Client) Type() types.ProviderType { return types.ProviderAnthropic }

// IsAvailable reports the latest health snapshot without network I/O.
func (c *Client) IsAvailable() bool { return c.available.Load() }

// ListModels is not part of the Messages API.
func (c *Client) ListModels(ctx context.Context) ([]types.Model, error) {
	return nil, fmt.Errorf("list models: %w", ErrNotSupported)
}

// Embed is not part of the Messages API.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embed: %w", ErrNotSupported)
}

// Chat sends a conversation and returns the complete response.
func (c *Client) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	wireReq := c.buildRequest(req, false)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var wireResp MessagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wireResp.Error != nil {
		return types.ErrorResponse(wireResp.Error.Message), nil
	}
	return convertResponse(&wireResp), nil
}

// StreamChat sends a conversation and streams text deltas over the
// returned channel. The channel is closed after the final chunk.
func (c *Client) StreamChat(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	wireReq := c.buildRequest(req, true)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, fmt.Errorf("anthropic API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)
		defer func() { _ = httpResp.Body.Close() }()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var event StreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				// Malformed events are skipped, not fatal.
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					select {
					case out <- types.StreamChunk{Content: event.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
				select {
				case out <- types.StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				select {
				case out <- types.StreamChunk{Err: errors.New(msg), Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- types.StreamChunk{Err: fmt.Errorf("read stream: %w", err), Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// CheckHealth reports whether the client is usable. The Messages API has
// no cheap probe endpoint, so health is key presence plus endpoint
// reachability is left to the first real call.
func (c *Client) CheckHealth(ctx context.Context) types.ProviderHealth {
	start := time.Now()
	health := types.ProviderHealth{LoadedModel: c.model}
	if c.apiKey == "" {
		health.Error = "no API key configured"
		c.available.Store(false)
		return health
	}
	health.Healthy = true
	health.LatencyMs = time.Since(start).Milliseconds()
	c.available.Store(true)
	return health
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	return resp, nil
}

// buildRequest maps the unified request onto the Messages API shape.
// System prompts move to the dedicated system field; consecutive
// messages keep their order.
func (c *Client) buildRequest(req *types.ChatRequest, stream bool) *MessagesRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		role := m.Role
		if role == types.RoleTool {
			// Tool results ride as user messages in the Messages API.
			role = types.RoleUser
		}
		messages = append(messages, Message{
			Role:    role,
			Content: []ContentBlock{{Type: "text", Text: m.Content}},
		})
	}

	wireReq := &MessagesRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      strings.Join(systemParts, "\n\n"),
		Stream:      stream,
	}
	for _, t := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, convertTool(t))
	}
	return wireReq
}

func convertTool(t types.Tool) Tool {
	schema := InputSchema{
		Type:     t.Parameters.Type,
		Required: t.Parameters.Required,
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	if len(t.Parameters.Properties) > 0 {
		schema.Properties = make(map[string]SchemaProp, len(t.Parameters.Properties))
		for name, p := range t.Parameters.Properties {
			schema.Properties[name] = SchemaProp{
				Type:        p.Type,
				Description: p.Description,
				Enum:        p.Enum,
			}
		}
	}
	return Tool{Name: t.Name, Description: t.Description, InputSchema: schema}
}

func convertResponse(resp *MessagesResponse) *types.ChatResponse {
	out := &types.ChatResponse{
		Model: resp.Model,
		Usage: &types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCallRequest{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	out.Content = text.String()

	switch resp.StopReason {
	case "tool_use":
		out.FinishReason = "tool_calls"
	case "max_tokens":
		out.FinishReason = "length"
	default:
		out.FinishReason = "stop"
	}
	return out
}

var _ types.Provider = (*Client)(nil)
