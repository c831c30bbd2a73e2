// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/forge/pkg/types"
)

var (
	chatModel  string
	chatSystem string
	chatStream bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a one-shot prompt to the best available provider",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model id (provider default when empty)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream tokens as they arrive (requires an active provider)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
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

	req := &types.ChatRequest{
		Model:        chatModel,
		SystemPrompt: chatSystem,
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: strings.Join(args, " ")},
		},
	}

	if chatStream {
		chunks, err := manager.StreamChat(ctx, req)
		if err != nil {
			return err
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				return chunk.Err
			}
			fmt.Print(chunk.Content)
		}
		fmt.Println()
		return nil
	}

	resp, err := manager.Chat(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(resp.Content)
	if resp.Usage != nil {
		fmt.Printf("\n[%s, %d tokens]\n", resp.Model, resp.Usage.TotalTokens)
	}
	return nil
}
