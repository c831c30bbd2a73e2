// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the name of the config file (without extension).
const DefaultConfigFileName = "forge"

// Config holds all configuration for the forge CLI.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the forge data directory. Set during initialization from
	// FORGE_DATA_DIR or ~/.forge; not loaded from the config file.
	DataDir string `mapstructure:"-"`

	// LLM provider configuration
	LLM LLMConfig `mapstructure:"llm"`

	// RateLimit configuration for outbound provider calls
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Workflow configuration
	Workflows WorkflowsConfig `mapstructure:"workflows"`

	// Collaboration configuration
	Collab CollabConfig `mapstructure:"collab"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// LLMConfig holds provider endpoints and selection policy.
type LLMConfig struct {
	// OllamaEndpoint overrides the default local Ollama endpoint
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`

	// LMStudioEndpoint overrides the default local LM Studio endpoint
	LMStudioEndpoint string `mapstructure:"lmstudio_endpoint"`

	// AnthropicAPIKey enables the Anthropic provider when set
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	// AnthropicModel overrides the default Anthropic model
	AnthropicModel string `mapstructure:"anthropic_model"`

	// Strategy selects among available providers
	Strategy string `mapstructure:"strategy"`
}

// RateLimitConfig holds the sliding-window limiter settings.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	WindowSeconds     int  `mapstructure:"window_seconds"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite database file
	Path string `mapstructure:"path"`
}

// WorkflowsConfig holds workflow engine settings.
type WorkflowsConfig struct {
	// Dir is scanned for workflow YAML definitions
	Dir string `mapstructure:"dir"`

	// WatchDirs are watched for file-save triggers
	WatchDirs []string `mapstructure:"watch_dirs"`
}

// CollabConfig holds collaboration orchestrator settings.
type CollabConfig struct {
	// MaxTurns caps turns per session
	MaxTurns int `mapstructure:"max_turns"`

	// ConsensusThreshold is the approval fraction a proposal needs
	ConsensusThreshold float64 `mapstructure:"consensus_threshold"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// forgeDataDir resolves the data directory: FORGE_DATA_DIR wins, then
// ~/.forge, then the working directory as a last resort.
func forgeDataDir() string {
	if dir := os.Getenv("FORGE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".forge")
}

// LoadConfig reads configuration from file, environment, and defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	dataDir := forgeDataDir()

	viper.SetDefault("llm.strategy", "first-available")
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_minute", 60)
	viper.SetDefault("rate_limit.window_seconds", 60)
	viper.SetDefault("database.path", filepath.Join(dataDir, "forge.db"))
	viper.SetDefault("workflows.dir", filepath.Join(dataDir, "workflows"))
	viper.SetDefault("collab.max_turns", 50)
	viper.SetDefault("collab.consensus_threshold", 0.66)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(dataDir)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("FORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{DataDir: dataDir}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The Anthropic SDK convention wins when the forge-specific key is
	// unset.
	if cfg.LLM.AnthropicAPIKey == "" {
		cfg.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg, nil
}
