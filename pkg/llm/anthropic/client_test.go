// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/forge/pkg/types"
)

func TestClient_Identity(t *testing.T) {
	c := New(Config{APIKey: "sk-test"})
	assert.Equal(t, "anthropic", c.Name())
	assert.Equal(t, types.ProviderAnthropic, c.Type())
}

func TestClient_Chat(t *testing.T) {
	var gotReq MessagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{
			"id":"msg_1",
			"type":"message",
			"role":"assistant",
			"model":"claude-sonnet-4-5-20250929",
			"content":[{"type":"text","text":"hello there"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":9,"output_tokens":3}
		}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", Endpoint: srv.URL})
	resp, err := c.Chat(context.Background(), &types.ChatRequest{
		SystemPrompt: "be brief",
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: "extra system"},
			{Role: types.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.TotalTokens)

	// System content rides in the dedicated system field, not the messages.
	assert.Equal(t, "be brief\n\nextra system", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, types.RoleUser, gotReq.Messages[0].Role)
	assert.Equal(t, DefaultMaxTokens, gotReq.MaxTokens)
}

func TestClient_Chat_ToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id":"msg_2",
			"model":"claude-sonnet-4-5-20250929",
			"content":[
				{"type":"text","text":"reading it now"},
				{"type":"tool_use","id":"toolu_1","name":"read_file","input":{"path":"main.go"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":20,"output_tokens":15}
		}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", Endpoint: srv.URL})
	resp, err := c.Chat(context.Background(), &types.ChatRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "read main.go"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, "reading it now", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, resp.ToolCalls[0].Arguments)
}

func TestClient_Chat_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", Endpoint: srv.URL})
	_, err := c.Chat(context.Background(), &types.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestClient_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"id":"msg_3","model":"claude-sonnet-4-5-20250929","usage":{"input_tokens":5,"output_tokens":0}}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", Endpoint: srv.URL})
	ch, err := c.StreamChat(context.Background(), &types.ChatRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var content string
	var done bool
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		content += chunk.Content
		done = done || chunk.Done
	}
	assert.Equal(t, "hello", content)
	assert.True(t, done)
}

func TestClient_UnsupportedOperations(t *testing.T) {
	c := New(Config{APIKey: "sk-test"})

	_, err := c.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = c.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestClient_CheckHealth(t *testing.T) {
	noKey := New(Config{})
	health := noKey.CheckHealth(context.Background())
	assert.False(t, health.Healthy)
	assert.False(t, noKey.IsAvailable())

	withKey := New(Config{APIKey: "sk-test"})
	health = withKey.CheckHealth(context.Background())
	assert.True(t, health.Healthy)
	assert.True(t, withKey.IsAvailable())
	assert.Equal(t, DefaultModel, health.LoadedModel)
}
