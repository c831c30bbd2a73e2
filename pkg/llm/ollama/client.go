// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package ollama implements the unified Provider interface for a local
// Ollama daemon.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/forge/pkg/types"
)

const (
	// DefaultEndpoint is the default Ollama daemon address.
	DefaultEndpoint = "http://localhost:11434"
	// DefaultTimeout is the request timeout for chat and embeddings.
	DefaultTimeout = 120 * time.Second
	// DefaultConnectTimeout bounds connection establishment and health
	// probes.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultModel is used when a request does not name one.
	DefaultModel = "llama3.1"
	// DefaultEmbedModel is used for embedding requests.
	DefaultEmbedModel = "nomic-embed-text"
)

// Config holds configuration for the Ollama client.
type Config struct {
	Endpoint       string        // Default: http://localhost:11434
	Model          string        // Default model for chat when unset on the request
	EmbedModel     string        // Default: nomic-embed-text
	Timeout        time.Duration // Default: 120s
	ConnectTimeout time.Duration // Default: 5s
}

// Client implements types.Provider for Ollama.
type Client struct {
	endpoint   string
	model      string
	embedModel string
	httpClient *http.Client
	available  atomic.Bool
}

// NewClient creates a new Ollama client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "ollama"
}

// Type returns the backend family.
func (c *Client) Type() types.ProviderType {
	return types.ProviderOllama
}

// IsAvailable returns the latest health snapshot.
func (c *Client) IsAvailable() bool {
	return c.available.Load()
}

// ============================================================================
// Wire format
// ============================================================================

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string               `json:"name"`
		Description string               `json:"description,omitempty"`
		Parameters  types.ToolParameters `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
}

type chatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Details struct {
			Family        string `json:"family"`
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// ============================================================================
// Provider operations
// ============================================================================

// ListModels enumerates models via GET /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]types.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]types.Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		model := types.InferModel(m.Name, types.ProviderOllama)
		model.Loaded = true
		if m.Details.Family != "" {
			model.Metadata["family"] = m.Details.Family
		}
		if m.Details.ParameterSize != "" {
			model.Metadata["parameter_size"] = m.Details.ParameterSize
		}
		models = append(models, model)
	}
	return models, nil
}

// Chat sends a conversation via POST /api/chat with stream=false.
func (c *Client) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	wireReq := c.buildChatRequest(req, false)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var wireResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return c.convertResponse(&wireResp), nil
}

// StreamChat sends a conversation via POST /api/chat with stream=true and
// forwards NDJSON deltas on the returned channel.
func (c *Client) StreamChat(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	wireReq := c.buildChatRequest(req, true)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama API call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var chunk chatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				// Skip malformed lines but continue processing
				continue
			}

			if chunk.Message.Content != "" {
				select {
				case out <- types.StreamChunk{Content: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				select {
				case out <- types.StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- types.StreamChunk{Err: fmt.Errorf("error reading stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Embed computes an embedding via POST /api/embeddings.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: c.embedModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var wireResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	vec := make([]float32, len(wireResp.Embedding))
	for i, v := range wireResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// CheckHealth probes GET /api/tags and updates the availability snapshot.
func (c *Client) CheckHealth(ctx context.Context) types.ProviderHealth {
	probeCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		c.available.Store(false)
		return types.ProviderHealth{Error: err.Error()}
	}

	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		c.available.Store(false)
		return types.ProviderHealth{LatencyMs: latency, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.available.Store(false)
		return types.ProviderHealth{
			LatencyMs: latency,
			Error:     fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var tags tagsResponse
	loaded := ""
	if err := json.NewDecoder(resp.Body).Decode(&tags); err == nil && len(tags.Models) > 0 {
		loaded = tags.Models[0].Name
	}

	c.available.Store(true)
	return types.ProviderHealth{
		Healthy:     true,
		LatencyMs:   latency,
		LoadedModel: loaded,
	}
}

// ============================================================================
// Conversions
// ============================================================================

// buildChatRequest converts a unified request to the Ollama wire format.
func (c *Client) buildChatRequest(req *types.ChatRequest, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	options := map[string]interface{}{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	wireReq := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options:  options,
	}
	for _, tool := range req.Tools {
		var wt ollamaTool
		wt.Type = "function"
		wt.Function.Name = tool.Name
		wt.Function.Description = tool.Description
		wt.Function.Parameters = tool.Parameters
		wireReq.Tools = append(wireReq.Tools, wt)
	}
	return wireReq
}

// convertResponse converts an Ollama response to the unified format.
func (c *Client) convertResponse(resp *chatResponse) *types.ChatResponse {
	var toolCalls []types.ToolCallRequest
	for _, tc := range resp.Message.ToolCalls {
		toolCalls = append(toolCalls, types.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}

	finish := resp.DoneReason
	if finish == "" {
		finish = "stop"
	}
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}

	return &types.ChatResponse{
		Content:   resp.Message.Content,
		ToolCalls: toolCalls,
		Usage: &types.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		FinishReason: finish,
		Model:        resp.Model,
	}
}
