// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config defines the widget settings schema supplied by the host at
// initialization, with TOML load/save and a file watcher for hosts that keep
// settings in a file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Settings holds the host-configurable widget settings.
type Settings struct {
	// Owner is the GitHub username for the site repository. It also gates
	// credential entry: API keys and the GitHub token are encrypted with a
	// key derived from it.
	Owner string `toml:"owner" json:"owner"`

	// Repo is the repository containing the site content.
	Repo string `toml:"repo" json:"repo"`

	// Branch to fetch content from.
	Branch string `toml:"branch" json:"branch"`

	// ContentPath is where content lives inside the repository.
	ContentPath string `toml:"content_path" json:"contentPath"`

	// PostTypes are the content subdirectories to list.
	PostTypes []string `toml:"post_types" json:"postTypes"`

	// SitemapXMLPath locates the sitemap used when GitHub listing fails.
	SitemapXMLPath string `toml:"sitemap_xml_path" json:"sitemapXmlPath"`

	// ContentSelector is the class selector for extracting post text from
	// sitemap-discovered HTML pages.
	ContentSelector string `toml:"content_selector" json:"contentSelector"`

	// SystemPrompt is the initial instruction for the model.
	SystemPrompt string `toml:"system_prompt" json:"systemPrompt"`

	// Temperature controls response randomness (0.0 - 1.0).
	Temperature float64 `toml:"temperature" json:"temperature"`

	// MaxTokens caps the response length.
	MaxTokens int `toml:"max_tokens" json:"maxTokens"`
}

// FieldSpec describes one settings field for host-rendered settings forms.
type FieldSpec struct {
	Name    string
	Label   string
	Type    string // "string", "number" or "array"
	Default any
	Hint    string
}

// Schema returns the settings field descriptors in display order.
func Schema() []FieldSpec {
	return []FieldSpec{
		{Name: "owner", Label: "Site GitHub Owner", Type: "string",
			Hint: "Username for the website repo on GitHub"},
		{Name: "repo", Label: "Site Repository", Type: "string",
			Hint: "Name of the GitHub repo containing the site content"},
		{Name: "branch", Label: "Branch", Type: "string", Default: "main",
			Hint: "Repo branch to fetch content from"},
		{Name: "contentPath", Label: "Content Path", Type: "string", Default: "content",
			Hint: "Path in the repo where content is stored"},
		{Name: "postTypes", Label: "Post Types", Type: "array", Default: []string{"project", "blog"},
			Hint: "Types of posts to fetch from the repo or sitemap"},
		{Name: "sitemapXmlPath", Label: "Sitemap XML Path", Type: "string", Default: "../sitemap.xml",
			Hint: "Fallback path to sitemap XML in case GitHub is not used"},
		{Name: "contentSelector", Label: "HTML Content Selector", Type: "string", Default: ".post__content",
			Hint: "CSS selector to use when fetching posts from sitemap"},
		{Name: "systemPrompt", Label: "System Prompt", Type: "string",
			Default: "You are a helpful AI assistant. Please format your response in lightweight markdown (no HTML tags).",
			Hint:    "Initial system prompt for the AI model"},
		{Name: "temperature", Label: "Temperature (0.0 - 1.0)", Type: "number", Default: 0.7,
			Hint: "Randomness of the AI responses (0.0 = deterministic, 1.0 = very random)"},
		{Name: "maxTokens", Label: "Max Tokens", Type: "number", Default: 4000,
			Hint: "Maximum number of tokens in the AI response"},
	}
}

// Default returns settings with every schema default applied.
func Default() Settings {
	s := Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills unset fields with their schema defaults. Fields with no
// default (owner, repo) stay empty.
func (s *Settings) ApplyDefaults() {
	if s.Branch == "" {
		s.Branch = "main"
	}
	if s.ContentPath == "" {
		s.ContentPath = "content"
	}
	if len(s.PostTypes) == 0 {
		s.PostTypes = []string{"project", "blog"}
	}
	if s.SitemapXMLPath == "" {
		s.SitemapXMLPath = "../sitemap.xml"
	}
	if s.ContentSelector == "" {
		s.ContentSelector = ".post__content"
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = "You are a helpful AI assistant. Please format your response in lightweight markdown (no HTML tags)."
	}
	if s.Temperature == 0 {
		s.Temperature = 0.7
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = 4000
	}
}

// Load reads settings from a TOML file and applies defaults.
func Load(path string) (Settings, error) {
	var s Settings
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	s.ApplyDefaults()
	return s, nil
}

// Save writes settings to a TOML file, creating parent directories.
func Save(path string, s Settings) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}
