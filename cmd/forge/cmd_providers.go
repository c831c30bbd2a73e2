// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/forge/pkg/types"
)

// providersCmd represents the providers command
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect and select LLM providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers and their health",
	RunE:  runProvidersList,
}

var providersUseCmd = &cobra.Command{
	Use:   "use <type>",
	Short: "Set the active provider (ollama, lmstudio, anthropic)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersUse,
}

var providersModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models across all available providers",
	RunE:  runProvidersModels,
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersUseCmd)
	providersCmd.AddCommand(providersModelsCmd)
	rootCmd.AddCommand(providersCmd)
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager, err := newManager(ctx, config, logger)
	if err != nil {
		return err
	}

	health := manager.CheckAllHealth(ctx)
	active, hasActive := manager.GetActiveProvider()

	for _, p := range manager.GetAllProviders() {
		marker := " "
		if hasActive && active.Type() == p.Type() {
			marker = "*"
		}
		h := health[p.Type()]
		status := "unhealthy"
		if h.Healthy {
			status = fmt.Sprintf("healthy (%dms)", h.LatencyMs)
		}
		detail := ""
		if h.Error != "" {
			detail = fmt.Sprintf("  %s", h.Error)
		}
		fmt.Printf("%s %-10s %-10s %s%s\n", marker, p.Name(), p.Type(), status, detail)
	}
	fmt.Printf("\nstrategy: %s\n", manager.GetStrategy())
	return nil
}

func runProvidersUse(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager, err := newManager(ctx, config, logger)
	if err != nil {
		return err
	}

	t := types.ProviderType(args[0])
	if err := manager.SetActiveProvider(t); err != nil {
		return err
	}
	fmt.Printf("active provider: %s\n", t)
	return nil
}

func runProvidersModels(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager, err := newManager(ctx, config, logger)
	if err != nil {
		return err
	}

	models := manager.ListAllModels(ctx)
	if len(models) == 0 {
		fmt.Println("no models available")
		return nil
	}
	for _, m := range models {
		fmt.Printf("%-40s %-10s ctx=%d\n", m.ID, m.Provider, m.ContextLength)
	}
	return nil
}
