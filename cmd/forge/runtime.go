// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teradata-labs/forge/pkg/llm"
	"github.com/teradata-labs/forge/pkg/llm/anthropic"
)

// newLogger builds the process logger from the logging config.
func newLogger(cfg *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Logging.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newManager builds the provider manager from config: local providers
// always, Anthropic when a key is present, state persisted to SQLite.
func newManager(ctx context.Context, cfg *Config, logger *zap.Logger) (*llm.Manager, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := llm.NewSQLiteStateStore(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	manager, err := llm.NewManager(ctx, llm.ManagerConfig{
		Strategy: llm.SelectionStrategy(cfg.LLM.Strategy),
		RateLimiter: llm.RateLimiterConfig{
			Enabled:              cfg.RateLimit.Enabled,
			MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			WindowSeconds:        cfg.RateLimit.WindowSeconds,
			BaseDelay:            500 * time.Millisecond,
			MaxDelay:             30 * time.Second,
			Logger:               logger,
		},
		Store:            store,
		OllamaEndpoint:   cfg.LLM.OllamaEndpoint,
		LMStudioEndpoint: cfg.LLM.LMStudioEndpoint,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	manager.Initialize()
	if cfg.LLM.AnthropicAPIKey != "" {
		manager.RegisterProvider(anthropic.New(anthropic.Config{
			APIKey: cfg.LLM.AnthropicAPIKey,
			Model:  cfg.LLM.AnthropicModel,
		}))
	}
	return manager, nil
}
