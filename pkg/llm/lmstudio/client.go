// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package lmstudio implements the unified Provider interface for a local
// LM Studio server speaking the OpenAI-compatible API under /v1.
package lmstudio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/forge/pkg/types"
)

const (
	// DefaultEndpoint is the default LM Studio server base URL.
	DefaultEndpoint = "http://localhost:1234/v1"
	// DefaultTimeout is the request timeout for chat and embeddings.
	DefaultTimeout = 120 * time.Second
	// DefaultConnectTimeout bounds connection establishment and health
	// probes.
	DefaultConnectTimeout = 5 * time.Second
)

// Config holds configuration for the LM Studio client.
type Config struct {
	Endpoint       string        // Default: http://localhost:1234/v1
	Model          string        // Default model when a request names none
	EmbedModel     string        // Model used for embedding requests
	Timeout        time.Duration // Default: 120s
	ConnectTimeout time.Duration // Default: 5s
}

// Client implements types.Provider for LM Studio.
type Client struct {
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
	available  atomic.Bool
}

// NewClient creates a new LM Studio client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.Endpoint, "/"),
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
	return "lmstudio"
}

// Type returns the backend family.
func (c *Client) Type() types.ProviderType {
	return types.ProviderLMStudio
}

// IsAvailable returns the latest health snapshot.
func (c *Client) IsAvailable() bool {
	return c.available.Load()
}

// ListModels enumerates models via GET /v1/models.
func (c *Client) ListModels(ctx context.Context) ([]types.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lmstudio API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var listing ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]types.Model, 0, len(listing.Data))
	for _, entry := range listing.Data {
		model := types.InferModel(entry.ID, types.ProviderLMStudio)
		model.Loaded = true
		models = append(models, model)
	}
	return models, nil
}

// Chat sends a conversation via POST /v1/chat/completions.
func (c *Client) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	wireReq := c.buildRequest(req, false)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lmstudio API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var wireResp ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if wireResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", wireResp.Error.Message)
	}
	if len(wireResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	choice := wireResp.Choices[0]
	out := &types.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        wireResp.Model,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if wireResp.Usage != nil {
		out.Usage = &types.Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// StreamChat sends a conversation with stream=true and forwards SSE deltas
// on the returned channel.
func (c *Client) StreamChat(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	wireReq := c.buildRequest(req, true)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lmstudio API call failed: %w", err)
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
			line := strings.TrimSpace(scanner.Text())

			// SSE format: "data: <json>" or "data: [DONE]"
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				select {
				case out <- types.StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			var chunk ChatCompletionStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- types.StreamChunk{Content: delta}:
			case <-ctx.Done():
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

// Embed computes an embedding via POST /v1/embeddings.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(EmbeddingsRequest{Model: c.embedModel, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lmstudio API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var wireResp EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(wireResp.Data) == 0 {
		return nil, fmt.Errorf("empty response: no embeddings")
	}

	vec := make([]float32, len(wireResp.Data[0].Embedding))
	for i, v := range wireResp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// CheckHealth probes GET /v1/models and updates the availability snapshot.
func (c *Client) CheckHealth(ctx context.Context) types.ProviderHealth {
	probeCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/models", nil)
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

	var listing ModelsResponse
	loaded := ""
	if err := json.NewDecoder(resp.Body).Decode(&listing); err == nil && len(listing.Data) > 0 {
		loaded = listing.Data[0].ID
	}

	c.available.Store(true)
	return types.ProviderHealth{
		Healthy:     true,
		LatencyMs:   latency,
		LoadedModel: loaded,
	}
}

// buildRequest converts a unified request to the OpenAI wire format.
func (c *Client) buildRequest(req *types.ChatRequest, stream bool) ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, ChatMessage{Role: msg.Role, Content: msg.Content, Name: msg.Name})
	}

	wireReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	for _, tool := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return wireReq
}
