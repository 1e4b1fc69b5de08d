// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider normalizes the chat-completion APIs of the supported LLM
// backends (Google, OpenAI, Anthropic, OpenRouter) behind one contract.
//
// Each backend has its own request envelope, auth scheme and response shape;
// the client maps a single ordered []Message into whatever the selected
// backend expects and parses the divergent responses into one ChatResult.
//
// # Key Types
//
//   - Client: HTTP client dispatching to the per-provider adapters
//   - Message: provider-neutral chat message
//   - ChatResult: unified response (assistant text + best-effort token count)
//   - Provider / ModelInfo: the static provider and model catalog
//
// # Usage
//
//	client := provider.NewClient()
//	res, err := client.SendChat(ctx, apiKey, "openai", "gpt-4o-mini", msgs)
//
// # Security
//
// API keys are attached per request and never logged; only method, path and
// status code reach the log.
package provider
