// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/forge/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "Forge - local-first developer assistant orchestration core",
	Long:    `Forge routes chat traffic across local and remote LLM providers, runs multi-agent collaboration sessions, and executes trigger-driven developer workflows.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $FORGE_DATA_DIR/forge.yaml)")

	// Provider flags
	rootCmd.PersistentFlags().String("ollama-endpoint", "", "Ollama endpoint (default: http://localhost:11434)")
	rootCmd.PersistentFlags().String("lmstudio-endpoint", "", "LM Studio endpoint (default: http://localhost:1234/v1)")
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or ANTHROPIC_API_KEY env)")
	rootCmd.PersistentFlags().String("anthropic-model", "", "Anthropic model override")
	rootCmd.PersistentFlags().String("strategy", "first-available", "provider selection strategy (first-available, lowest-latency, preferred, round-robin)")

	// Rate limit flags
	rootCmd.PersistentFlags().Bool("rate-limit", true, "enable the outbound rate limiter")
	rootCmd.PersistentFlags().Int("rate-limit-rpm", 60, "max requests per window")

	// Database flags
	defaultDBPath := filepath.Join(forgeDataDir(), "forge.db")
	rootCmd.PersistentFlags().String("db", defaultDBPath, "SQLite database path")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("llm.ollama_endpoint", rootCmd.PersistentFlags().Lookup("ollama-endpoint"))
	_ = viper.BindPFlag("llm.lmstudio_endpoint", rootCmd.PersistentFlags().Lookup("lmstudio-endpoint"))
	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.anthropic_model", rootCmd.PersistentFlags().Lookup("anthropic-model"))
	_ = viper.BindPFlag("llm.strategy", rootCmd.PersistentFlags().Lookup("strategy"))

	_ = viper.BindPFlag("rate_limit.enabled", rootCmd.PersistentFlags().Lookup("rate-limit"))
	_ = viper.BindPFlag("rate_limit.requests_per_minute", rootCmd.PersistentFlags().Lookup("rate-limit-rpm"))

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
