// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/forge/pkg/types"
)

// stubProvider is a controllable in-memory provider for manager tests.
type stubProvider struct {
	name      string
	ptype     types.ProviderType
	healthy   atomic.Bool
	latencyMs int64
	chatCalls atomic.Int64
	chatErr   error
	models    []types.Model
}

func newStubProvider(name string, ptype types.ProviderType, healthy bool) *stubProvider {
	p := &stubProvider{name: name, ptype: ptype}
	p.healthy.Store(healthy)
	return p
}

func (p *stubProvider) Name() string             { return p.name }
func (p *stubProvider) Type() types.ProviderType { return p.ptype }
func (p *stubProvider) IsAvailable() bool        { return p.healthy.Load() }

func (p *stubProvider) ListModels(ctx context.Context) ([]types.Model, error) {
	return p.models, nil
}

func (p *stubProvider) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	p.chatCalls.Add(1)
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	return &types.ChatResponse{
		Content:      "reply from " + p.name,
		FinishReason: "stop",
		Usage:        &types.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	}, nil
}

func (p *stubProvider) StreamChat(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	out := make(chan types.StreamChunk, 2)
	out <- types.StreamChunk{Content: "reply from " + p.name}
	out <- types.StreamChunk{Done: true}
	close(out)
	return out, nil
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (p *stubProvider) CheckHealth(ctx context.Context) types.ProviderHealth {
	if !p.healthy.Load() {
		return types.ProviderHealth{Error: "down"}
	}
	return types.ProviderHealth{Healthy: true, LatencyMs: p.latencyMs}
}

func newTestManager(t *testing.T, store StateStore) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), ManagerConfig{
		Store:  store,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestManager_RegisterAndLookup(t *testing.T) {
	m := newTestManager(t, nil)

	a := newStubProvider("alpha", types.ProviderOllama, true)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)

	got, ok := m.GetProvider(types.ProviderOllama)
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name())

	all := m.GetAllProviders()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name(), "registration order is preserved")
	assert.Equal(t, "beta", all[1].Name())

	m.UnregisterProvider(types.ProviderOllama)
	_, ok = m.GetProvider(types.ProviderOllama)
	assert.False(t, ok)
	assert.Len(t, m.GetAllProviders(), 1)
}

func TestManager_UnregisterActiveClearsActive(t *testing.T) {
	m := newTestManager(t, nil)
	p := newStubProvider("alpha", types.ProviderOllama, true)
	m.RegisterProvider(p)

	require.NoError(t, m.SetActiveProvider(types.ProviderOllama))
	m.UnregisterProvider(types.ProviderOllama)

	_, ok := m.GetActiveProvider()
	assert.False(t, ok)
}

func TestManager_SetActiveProvider_Unregistered(t *testing.T) {
	m := newTestManager(t, nil)
	err := m.SetActiveProvider(types.ProviderOllama)
	assert.Error(t, err)
}

func TestManager_EnabledFiltering(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, true)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)

	m.SetProviderEnabled(types.ProviderOllama, false)

	enabled := m.GetEnabledProviders()
	require.Len(t, enabled, 1)
	assert.Equal(t, "beta", enabled[0].Name())

	// Disabled providers are skipped by selection.
	p, err := m.GetBestAvailableProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name())
}

func TestManager_FirstAvailableSkipsUnhealthy(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, false)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)

	p, err := m.GetBestAvailableProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name())
}

func TestManager_NoProvidersAvailable(t *testing.T) {
	m := newTestManager(t, nil)
	m.RegisterProvider(newStubProvider("alpha", types.ProviderOllama, false))

	_, err := m.GetBestAvailableProvider(context.Background())
	assert.ErrorIs(t, err, ErrNoProvidersAvailable)
}

func TestManager_LowestLatency(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("slow", types.ProviderOllama, true)
	a.latencyMs = 80
	b := newStubProvider("fast", types.ProviderLMStudio, true)
	b.latencyMs = 5
	m.RegisterProvider(a)
	m.RegisterProvider(b)

	m.SetStrategy(StrategyLowestLatency)
	p, err := m.GetBestAvailableProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fast", p.Name())
}

func TestManager_PreferredFallsBackWhenActiveUnhealthy(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, true)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)

	m.SetStrategy(StrategyPreferred)
	require.NoError(t, m.SetActiveProvider(types.ProviderOllama))

	p, err := m.GetBestAvailableProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Name(), "healthy active provider is preferred")

	a.healthy.Store(false)
	p, err = m.GetBestAvailableProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name(), "unhealthy active falls back to first available")
}

func TestManager_RoundRobinRotates(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, true)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)
	m.SetStrategy(StrategyRoundRobin)

	var seen []string
	for i := 0; i < 4; i++ {
		p, err := m.GetBestAvailableProvider(context.Background())
		require.NoError(t, err)
		seen = append(seen, p.Name())
	}
	assert.Equal(t, []string{"alpha", "beta", "alpha", "beta"}, seen)
}

func TestManager_RoundRobinSkipsUnavailable(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, false)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)
	m.SetStrategy(StrategyRoundRobin)

	for i := 0; i < 3; i++ {
		p, err := m.GetBestAvailableProvider(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "beta", p.Name())
	}
}

func TestManager_ChatRoutesToActive(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, true)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)
	require.NoError(t, m.SetActiveProvider(types.ProviderLMStudio))

	resp, err := m.Chat(context.Background(), &types.ChatRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "reply from beta", resp.Content)
	assert.Equal(t, int64(0), a.chatCalls.Load())
	assert.Equal(t, int64(1), b.chatCalls.Load())
}

func TestManager_ChatFallsBackWhenActiveUnhealthy(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, false)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)
	require.NoError(t, m.SetActiveProvider(types.ProviderOllama))

	resp, err := m.Chat(context.Background(), &types.ChatRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "reply from beta", resp.Content)
	assert.Equal(t, int64(0), a.chatCalls.Load())
}

func TestManager_ChatError(t *testing.T) {
	m := newTestManager(t, nil)
	p := newStubProvider("alpha", types.ProviderOllama, true)
	p.chatErr = errors.New("backend exploded")
	m.RegisterProvider(p)
	require.NoError(t, m.SetActiveProvider(types.ProviderOllama))

	_, err := m.Chat(context.Background(), &types.ChatRequest{})
	assert.ErrorContains(t, err, "backend exploded")
}

func TestManager_StreamChatRequiresActive(t *testing.T) {
	m := newTestManager(t, nil)
	m.RegisterProvider(newStubProvider("alpha", types.ProviderOllama, true))

	_, err := m.StreamChat(context.Background(), &types.ChatRequest{})
	assert.ErrorIs(t, err, ErrNoActiveProvider)

	require.NoError(t, m.SetActiveProvider(types.ProviderOllama))
	ch, err := m.StreamChat(context.Background(), &types.ChatRequest{})
	require.NoError(t, err)

	var content string
	for chunk := range ch {
		content += chunk.Content
	}
	assert.Equal(t, "reply from alpha", content)
}

func TestManager_ChatConsumesRateLimitPermit(t *testing.T) {
	m := newTestManager(t, nil)
	m.RegisterProvider(newStubProvider("alpha", types.ProviderOllama, true))
	require.NoError(t, m.SetActiveProvider(types.ProviderOllama))

	before := m.GetRateLimitStats().TotalRequests
	_, err := m.Chat(context.Background(), &types.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, before+1, m.GetRateLimitStats().TotalRequests)
}

func TestManager_PersistsAndRestoresState(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	m := newTestManager(t, store)
	a := newStubProvider("alpha", types.ProviderOllama, true)
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	m.RegisterProvider(a)
	m.RegisterProvider(b)
	require.NoError(t, m.SetActiveProvider(types.ProviderLMStudio))
	m.SetStrategy(StrategyRoundRobin)
	m.SetProviderEnabled(types.ProviderOllama, false)

	restored, err := NewManager(ctx, ManagerConfig{
		Store:  store,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	restored.RegisterProvider(newStubProvider("alpha", types.ProviderOllama, true))
	restored.RegisterProvider(newStubProvider("beta", types.ProviderLMStudio, true))

	assert.Equal(t, StrategyRoundRobin, restored.GetStrategy())
	active, ok := restored.GetActiveProvider()
	require.True(t, ok)
	assert.Equal(t, "beta", active.Name())

	enabled := restored.GetEnabledProviders()
	require.Len(t, enabled, 1)
	assert.Equal(t, "beta", enabled[0].Name(), "disabled flag survives a restart")
}

func TestManager_ListAllModels(t *testing.T) {
	m := newTestManager(t, nil)
	a := newStubProvider("alpha", types.ProviderOllama, true)
	a.models = []types.Model{{ID: "llama3", Provider: types.ProviderOllama}}
	b := newStubProvider("beta", types.ProviderLMStudio, true)
	b.models = []types.Model{{ID: "qwen-coder", Provider: types.ProviderLMStudio}}
	m.RegisterProvider(a)
	m.RegisterProvider(b)

	models := m.ListAllModels(context.Background())
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].ID)
	assert.Equal(t, "qwen-coder", models[1].ID)
}

func TestManager_CheckAllHealth(t *testing.T) {
	m := newTestManager(t, nil)
	m.RegisterProvider(newStubProvider("alpha", types.ProviderOllama, true))
	m.RegisterProvider(newStubProvider("beta", types.ProviderLMStudio, false))

	health := m.CheckAllHealth(context.Background())
	require.Len(t, health, 2)
	assert.True(t, health[types.ProviderOllama].Healthy)
	assert.False(t, health[types.ProviderLMStudio].Healthy)
}
