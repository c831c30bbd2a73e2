// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "strings"

// Model families recognized by InferModel, checked in order. The first
// substring match wins, so "codellama" must precede "llama".
var modelFamilies = []string{
	"codellama",
	"llama",
	"mistral",
	"mixtral",
	"deepseek",
	"qwen",
	"phi",
	"gemma",
	"starcoder",
}

// InferModel builds a unified Model for backends that do not report
// capabilities, using substring heuristics on the model id.
func InferModel(id string, provider ProviderType) Model {
	lower := strings.ToLower(id)
	return Model{
		ID:            id,
		Provider:      provider,
		Name:          id,
		ContextLength: inferContextLength(lower),
		Capabilities:  inferCapabilities(lower),
		Metadata: map[string]string{
			"family": InferFamily(id),
		},
	}
}

// InferFamily maps a model id to a known family, or "other".
func InferFamily(id string) string {
	lower := strings.ToLower(id)
	for _, family := range modelFamilies {
		if strings.Contains(lower, family) {
			if family == "mixtral" {
				return "mistral"
			}
			return family
		}
	}
	return "other"
}

// inferContextLength guesses a context window from the model id.
// Local backends rarely report one, so these are conservative defaults.
func inferContextLength(id string) int {
	switch {
	case strings.Contains(id, "mixtral"):
		return 32768
	case strings.Contains(id, "codellama"):
		return 16384
	case strings.Contains(id, "llama3"), strings.Contains(id, "mistral"):
		return 8192
	default:
		return 4096
	}
}

// inferCapabilities derives a capability set from the model id.
// Chat and completion are always assumed.
func inferCapabilities(id string) []ModelCapability {
	caps := []ModelCapability{
		CapabilityChat,
		CapabilityCompletion,
	}
	if strings.Contains(id, "code") || strings.Contains(id, "coder") {
		caps = append(caps, CapabilityCode)
	}
	if strings.Contains(id, "instruct") || strings.Contains(id, "chat") {
		caps = append(caps, CapabilityFunctionCalling)
	}
	return caps
}
