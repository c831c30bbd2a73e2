// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm provides the unified provider manager: a keyed registry of
// LLM backends, a pluggable selection strategy, and a sliding-window rate
// limiter gating every outbound call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/forge/pkg/llm/lmstudio"
	"github.com/teradata-labs/forge/pkg/llm/ollama"
	"github.com/teradata-labs/forge/pkg/observability"
	"github.com/teradata-labs/forge/pkg/types"
)

// SelectionStrategy decides which provider serves a request.
type SelectionStrategy string

const (
	// StrategyFirstAvailable returns the first enabled provider whose
	// health check passes.
	StrategyFirstAvailable SelectionStrategy = "first-available"

	// StrategyLowestLatency health-checks every enabled provider and
	// returns the fastest one.
	StrategyLowestLatency SelectionStrategy = "lowest-latency"

	// StrategyPreferred returns the active provider when healthy, falling
	// back to first-available.
	StrategyPreferred SelectionStrategy = "preferred"

	// StrategyRoundRobin rotates through available providers in
	// registration order.
	StrategyRoundRobin SelectionStrategy = "round-robin"
)

var (
	// ErrNoProvidersAvailable is returned when no registered provider can
	// serve a request.
	ErrNoProvidersAvailable = errors.New("no providers available")

	// ErrNoActiveProvider is returned by streaming calls when no active
	// provider is set.
	ErrNoActiveProvider = errors.New("no active provider set")
)

// ManagerConfig configures the provider manager.
type ManagerConfig struct {
	// Strategy is the initial selection strategy. Default: first-available.
	Strategy SelectionStrategy

	// RateLimiter configures the shared outbound rate limiter.
	RateLimiter RateLimiterConfig

	// Store persists manager state between runs (optional).
	Store StateStore

	// OllamaEndpoint overrides the built-in Ollama endpoint.
	OllamaEndpoint string

	// LMStudioEndpoint overrides the built-in LM Studio endpoint.
	LMStudioEndpoint string

	// Tracer for observability. Default: no-op.
	Tracer observability.Tracer

	// Logger. Default: no-op.
	Logger *zap.Logger
}

// Manager owns the provider registry, the selection strategy, and the
// single rate limiter all outbound calls pass through.
//
// Thread-safe: all methods can be called concurrently.
type Manager struct {
	mu sync.RWMutex

	providers map[types.ProviderType]types.Provider
	order     []types.ProviderType
	enabled   map[types.ProviderType]bool

	active   types.ProviderType
	strategy SelectionStrategy
	rrIndex  int

	// persisted enabled flags for providers not yet registered
	savedEnabled map[string]bool

	limiter     *RateLimiter
	store       StateStore
	tracer      observability.Tracer
	logger      *zap.Logger
	initialized bool

	ollamaEndpoint   string
	lmstudioEndpoint string
}

// NewManager creates a provider manager, reloading persisted state from the
// configured store when present.
func NewManager(ctx context.Context, config ManagerConfig) (*Manager, error) {
	if config.Strategy == "" {
		config.Strategy = StrategyFirstAvailable
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.RateLimiter == (RateLimiterConfig{}) {
		config.RateLimiter = DefaultRateLimiterConfig()
	}

	limiter, err := NewRateLimiter(config.RateLimiter)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		providers:        make(map[types.ProviderType]types.Provider),
		enabled:          make(map[types.ProviderType]bool),
		savedEnabled:     make(map[string]bool),
		strategy:         config.Strategy,
		limiter:          limiter,
		store:            config.Store,
		tracer:           config.Tracer,
		logger:           config.Logger,
		ollamaEndpoint:   config.OllamaEndpoint,
		lmstudioEndpoint: config.LMStudioEndpoint,
	}

	if m.store != nil {
		state, err := m.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load manager state: %w", err)
		}
		if state != nil {
			if state.Strategy != "" {
				m.strategy = SelectionStrategy(state.Strategy)
			}
			m.active = types.ProviderType(state.ActiveProvider)
			for name, on := range state.ProviderEnabled {
				m.savedEnabled[name] = on
			}
			m.logger.Info("restored provider manager state",
				zap.String("active", state.ActiveProvider),
				zap.String("strategy", string(m.strategy)))
		}
	}

	return m, nil
}

// Initialize registers the built-in local providers. Idempotent.
func (m *Manager) Initialize() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.mu.Unlock()

	m.RegisterProvider(ollama.NewClient(ollama.Config{Endpoint: m.ollamaEndpoint}))
	m.RegisterProvider(lmstudio.NewClient(lmstudio.Config{Endpoint: m.lmstudioEndpoint}))

	m.logger.Info("provider manager initialized",
		zap.Int("providers", len(m.GetAllProviders())))
}

// RegisterProvider adds a provider to the registry, replacing any previous
// provider of the same type.
func (m *Manager) RegisterProvider(p types.Provider) {
	m.mu.Lock()
	t := p.Type()
	if _, exists := m.providers[t]; !exists {
		m.order = append(m.order, t)
	}
	m.providers[t] = p

	enabled := true
	if saved, ok := m.savedEnabled[p.Name()]; ok {
		enabled = saved
	}
	m.enabled[t] = enabled
	m.mu.Unlock()

	m.persist()
	m.logger.Debug("registered provider",
		zap.String("name", p.Name()),
		zap.String("type", string(t)),
		zap.Bool("enabled", enabled))
}

// UnregisterProvider removes a provider. Unknown types are a no-op.
func (m *Manager) UnregisterProvider(t types.ProviderType) {
	m.mu.Lock()
	if _, ok := m.providers[t]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.providers, t)
	delete(m.enabled, t)
	for i, o := range m.order {
		if o == t {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == t {
		m.active = ""
	}
	m.mu.Unlock()
	m.persist()
}

// GetProvider looks up a provider by type.
func (m *Manager) GetProvider(t types.ProviderType) (types.Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[t]
	return p, ok
}

// GetAllProviders returns all registered providers in registration order.
func (m *Manager) GetAllProviders() []types.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Provider, 0, len(m.order))
	for _, t := range m.order {
		out = append(out, m.providers[t])
	}
	return out
}

// GetAvailableProviders returns providers whose latest availability
// snapshot is positive.
func (m *Manager) GetAvailableProviders() []types.Provider {
	var out []types.Provider
	for _, p := range m.GetAllProviders() {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}

// GetEnabledProviders returns providers not disabled by configuration.
func (m *Manager) GetEnabledProviders() []types.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Provider, 0, len(m.order))
	for _, t := range m.order {
		if m.enabled[t] {
			out = append(out, m.providers[t])
		}
	}
	return out
}

// SetProviderEnabled flips a provider's enabled flag.
func (m *Manager) SetProviderEnabled(t types.ProviderType, enabled bool) {
	m.mu.Lock()
	if _, ok := m.providers[t]; ok {
		m.enabled[t] = enabled
		if p := m.providers[t]; p != nil {
			m.savedEnabled[p.Name()] = enabled
		}
	}
	m.mu.Unlock()
	m.persist()
}

// SetActiveProvider selects the provider used first by chat and required
// by streaming calls.
func (m *Manager) SetActiveProvider(t types.ProviderType) error {
	m.mu.Lock()
	if _, ok := m.providers[t]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("provider %q not registered", t)
	}
	m.active = t
	m.mu.Unlock()
	m.persist()
	return nil
}

// GetActiveProvider returns the active provider, if set.
func (m *Manager) GetActiveProvider() (types.Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, false
	}
	p, ok := m.providers[m.active]
	return p, ok
}

// SetStrategy changes the selection strategy.
func (m *Manager) SetStrategy(s SelectionStrategy) {
	m.mu.Lock()
	m.strategy = s
	m.mu.Unlock()
	m.persist()
}

// GetStrategy returns the current selection strategy.
func (m *Manager) GetStrategy() SelectionStrategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

// GetBestAvailableProvider applies the current selection strategy.
func (m *Manager) GetBestAvailableProvider(ctx context.Context) (types.Provider, error) {
	m.mu.RLock()
	strategy := m.strategy
	m.mu.RUnlock()

	switch strategy {
	case StrategyLowestLatency:
		return m.lowestLatencyProvider(ctx)
	case StrategyPreferred:
		if active, ok := m.GetActiveProvider(); ok {
			if h := active.CheckHealth(ctx); h.Healthy {
				return active, nil
			}
		}
		return m.firstAvailableProvider(ctx)
	case StrategyRoundRobin:
		return m.nextRoundRobinProvider()
	default:
		return m.firstAvailableProvider(ctx)
	}
}

// firstAvailableProvider returns the first enabled provider whose health
// check passes.
func (m *Manager) firstAvailableProvider(ctx context.Context) (types.Provider, error) {
	for _, p := range m.GetEnabledProviders() {
		if h := p.CheckHealth(ctx); h.Healthy {
			return p, nil
		}
	}
	return nil, ErrNoProvidersAvailable
}

// lowestLatencyProvider health-checks all enabled providers in parallel and
// returns the fastest healthy one.
func (m *Manager) lowestLatencyProvider(ctx context.Context) (types.Provider, error) {
	candidates := m.GetEnabledProviders()
	if len(candidates) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	type probe struct {
		provider types.Provider
		health   types.ProviderHealth
	}
	results := make([]probe, len(candidates))

	var wg sync.WaitGroup
	for i, p := range candidates {
		wg.Add(1)
		go func(i int, p types.Provider) {
			defer wg.Done()
			results[i] = probe{provider: p, health: p.CheckHealth(ctx)}
		}(i, p)
	}
	wg.Wait()

	var best types.Provider
	var bestLatency int64
	for _, r := range results {
		if !r.health.Healthy {
			continue
		}
		if best == nil || r.health.LatencyMs < bestLatency {
			best = r.provider
			bestLatency = r.health.LatencyMs
		}
	}
	if best == nil {
		return nil, ErrNoProvidersAvailable
	}
	return best, nil
}

// nextRoundRobinProvider returns the next available enabled provider in
// registration order.
func (m *Manager) nextRoundRobinProvider() (types.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rotation []types.Provider
	for _, t := range m.order {
		if m.enabled[t] {
			rotation = append(rotation, m.providers[t])
		}
	}
	if len(rotation) == 0 {
		return nil, ErrNoProvidersAvailable
	}
	for i := 0; i < len(rotation); i++ {
		p := rotation[(m.rrIndex+i)%len(rotation)]
		if p.IsAvailable() {
			m.rrIndex = (m.rrIndex + i + 1) % len(rotation)
			return p, nil
		}
	}
	return nil, ErrNoProvidersAvailable
}

// selectForCall picks the provider for a non-streaming call:
// active when healthy, else the strategy's best available.
func (m *Manager) selectForCall(ctx context.Context) (types.Provider, error) {
	if active, ok := m.GetActiveProvider(); ok {
		if h := active.CheckHealth(ctx); h.Healthy {
			return active, nil
		}
		m.logger.Warn("active provider unhealthy, falling back",
			zap.String("provider", active.Name()))
	}
	return m.GetBestAvailableProvider(ctx)
}

// Chat acquires a rate-limit permit and delegates to the selected provider.
func (m *Manager) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	ctx, span := m.tracer.StartSpan(ctx, "llm.chat",
		observability.WithSpanKind("llm"),
		observability.WithAttribute("llm.model", req.Model))
	defer m.tracer.EndSpan(span)

	if err := m.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	p, err := m.selectForCall(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("llm.provider", p.Name())

	resp, err := p.Chat(ctx, applySystemPrompt(req))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.Usage != nil {
		m.tracer.RecordMetric("llm.tokens.total", float64(resp.Usage.TotalTokens),
			map[string]string{"provider": p.Name()})
	}
	return resp, nil
}

// StreamChat acquires a rate-limit permit before the stream begins and
// delegates to the active provider. Backpressure within the stream is the
// provider's concern.
func (m *Manager) StreamChat(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	active, ok := m.GetActiveProvider()
	if !ok {
		return nil, ErrNoActiveProvider
	}
	if err := m.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return active.StreamChat(ctx, applySystemPrompt(req))
}

// Embed acquires a rate-limit permit and delegates to the selected provider.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := m.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	p, err := m.selectForCall(ctx)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, text)
}

// ListAllModels flattens model listings across all providers, swallowing
// per-provider failures with a log.
func (m *Manager) ListAllModels(ctx context.Context) []types.Model {
	var out []types.Model
	for _, p := range m.GetAllProviders() {
		models, err := p.ListModels(ctx)
		if err != nil {
			m.logger.Warn("failed to list models",
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, models...)
	}
	return out
}

// ListAvailableModels flattens model listings across available providers.
func (m *Manager) ListAvailableModels(ctx context.Context) []types.Model {
	var out []types.Model
	for _, p := range m.GetAvailableProviders() {
		models, err := p.ListModels(ctx)
		if err != nil {
			m.logger.Warn("failed to list models",
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, models...)
	}
	return out
}

// CheckAllHealth probes every registered provider in parallel.
func (m *Manager) CheckAllHealth(ctx context.Context) map[types.ProviderType]types.ProviderHealth {
	providers := m.GetAllProviders()

	var wg sync.WaitGroup
	var mu sync.Mutex
	out := make(map[types.ProviderType]types.ProviderHealth, len(providers))

	for _, p := range providers {
		wg.Add(1)
		go func(p types.Provider) {
			defer wg.Done()
			h := p.CheckHealth(ctx)
			mu.Lock()
			out[p.Type()] = h
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}

// UpdateRateLimitConfig swaps the limiter configuration.
func (m *Manager) UpdateRateLimitConfig(config RateLimiterConfig) error {
	return m.limiter.UpdateConfig(config)
}

// GetRateLimitStats returns a snapshot of limiter counters.
func (m *Manager) GetRateLimitStats() RateLimiterStats {
	return m.limiter.Stats()
}

// GetRateLimitConfig returns the limiter configuration.
func (m *Manager) GetRateLimitConfig() RateLimiterConfig {
	return m.limiter.Config()
}

// ResetRateLimiter clears the limiter window and counters.
func (m *Manager) ResetRateLimiter() {
	m.limiter.Reset()
}

// persist snapshots manager state to the store, if configured.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}

	m.mu.RLock()
	state := &State{
		ActiveProvider:  string(m.active),
		Strategy:        string(m.strategy),
		ProviderEnabled: make(map[string]bool, len(m.enabled)),
	}
	for t, on := range m.enabled {
		if p := m.providers[t]; p != nil {
			state.ProviderEnabled[p.Name()] = on
		}
	}
	m.mu.RUnlock()

	if err := m.store.Save(context.Background(), state); err != nil {
		m.logger.Warn("failed to persist manager state", zap.Error(err))
	}
}

// applySystemPrompt prepends the request's system prompt as a system
// message, leaving the original request untouched.
func applySystemPrompt(req *types.ChatRequest) *types.ChatRequest {
	if req.SystemPrompt == "" {
		return req
	}
	out := *req
	out.Messages = make([]types.ChatMessage, 0, len(req.Messages)+1)
	out.Messages = append(out.Messages, types.ChatMessage{Role: types.RoleSystem, Content: req.SystemPrompt})
	out.Messages = append(out.Messages, req.Messages...)
	out.SystemPrompt = ""
	return &out
}
