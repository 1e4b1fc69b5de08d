// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"sort"
)

// Provider identifiers.
const (
	Google     = "google"
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	OpenRouter = "openrouter"
)

// DefaultProvider is selected when no cached choice exists.
const DefaultProvider = Google

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider describes one LLM backend.
type Provider struct {
	ID         string
	Name       string
	APIBaseURL string

	// Models is the static model table. OpenRouter's table is empty; its
	// models are fetched from the catalog endpoint at runtime.
	Models []ModelInfo
}

// registry holds the supported providers, keyed by id.
var registry = map[string]Provider{
	Google: {
		ID:         Google,
		Name:       "Google",
		APIBaseURL: "https://generativelanguage.googleapis.com/v1beta/models/",
		Models: []ModelInfo{
			{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
			{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite"},
			{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
			{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
			{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite"},
			{ID: "gemini-2.0-pro", Name: "Gemini 2.0 Pro"},
			{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash"},
			{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
		},
	},
	OpenAI: {
		ID:         OpenAI,
		Name:       "OpenAI",
		APIBaseURL: "https://api.openai.com/v1/chat/completions",
		Models: []ModelInfo{
			{ID: "gpt-4o-mini", Name: "GPT-4o mini"},
			{ID: "gpt-4.1-nano", Name: "GPT-4.1 nano"},
			{ID: "o4-mini", Name: "o4-mini"},
			{ID: "o3-mini", Name: "o3-mini"},
			{ID: "o3", Name: "o3"},
		},
	},
	Anthropic: {
		ID:         Anthropic,
		Name:       "Anthropic",
		APIBaseURL: "https://api.anthropic.com/v1/messages",
		Models: []ModelInfo{
			{ID: "claude-opus-4-0", Name: "Claude Opus 4"},
			{ID: "claude-sonnet-4-0", Name: "Claude Sonnet 4"},
			{ID: "claude-3-7-sonnet-latest", Name: "Claude Sonnet 3.7"},
			{ID: "claude-3-5-sonnet-latest", Name: "Claude Sonnet 3.5"},
			{ID: "claude-3-5-haiku-latest", Name: "Claude Haiku 3.5"},
		},
	},
	OpenRouter: {
		ID:         OpenRouter,
		Name:       "OpenRouter",
		APIBaseURL: "https://openrouter.ai/api/v1",
	},
}

// Lookup returns the provider for id.
func Lookup(id string) (Provider, bool) {
	p, ok := registry[id]
	return p, ok
}

// IDs returns the provider ids sorted by display name.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return registry[ids[i]].Name < registry[ids[j]].Name
	})
	return ids
}

// ModelsSorted returns the provider's static models sorted by display name.
func (p Provider) ModelsSorted() []ModelInfo {
	models := make([]ModelInfo, len(p.Models))
	copy(models, p.Models)
	sort.Slice(models, func(i, j int) bool {
		return models[i].Name < models[j].Name
	})
	return models
}
