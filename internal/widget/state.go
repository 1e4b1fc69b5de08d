// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package widget

import (
	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
	"github.com/jeranaias/sitechat/internal/content"
	"github.com/jeranaias/sitechat/internal/provider"
)

// Tabs the widget can show.
const (
	TabChat     = "chat"
	TabContent  = "content"
	TabCode     = "code"
	TabSettings = "settings"
)

// Selection caps. Exceeding mutations are rejected, never truncated.
const (
	MaxSelectedPosts     = 3
	MaxSelectedCodeFiles = 10
)

// State is the single record holding every UI-visible field. It is mutated
// exclusively through Manager transition methods; the presentation layer is a
// pure function of a State snapshot.
type State struct {
	ActiveTab    string
	IsFullscreen bool
	IsCollapsed  bool

	// Chat tab.
	SelectedProvider    string
	SelectedModel       string
	APIKey              string
	APIKeyInput         string
	ShowAPIKeySection   bool
	Messages            []provider.Message
	CurrentMessage      string
	IsLoading           bool
	TotalTokenCount     int
	Error               string
	FocusedMessageIndex int
	ChatHistory         []cache.HistoryEntry
	OpenRouterModels    []provider.ModelInfo

	// Content tab.
	MetaPrompt        string
	IncludeMetaPrompt bool
	Posts             []content.PostSummary
	SelectedPosts     []string
	LoadingPosts      bool
	PostsError        string

	// Code tab.
	Username                 string
	GithubToken              string
	Repositories             []content.RepoSummary
	SelectedRepository       string
	CurrentPath              string
	RepositoryContent        []content.ContentItem
	SelectedCodeFiles        []string
	LoadingRepositories      bool
	RepositoriesError        string
	LoadingRepositoryContent bool
	RepositoryContentError   string
	IncludeForks             bool

	// Settings tab.
	WidgetSettings config.Settings
}

// InitialState returns the state the widget mounts with.
func InitialState() State {
	p, _ := provider.Lookup(provider.DefaultProvider)
	return State{
		ActiveTab:           TabChat,
		IsCollapsed:         true,
		SelectedProvider:    p.ID,
		SelectedModel:       p.Models[0].ID,
		ShowAPIKeySection:   true,
		FocusedMessageIndex: -1,
		IncludeMetaPrompt:   true,
		WidgetSettings:      config.Default(),
	}
}

// CredentialsUnlocked reports whether credential inputs (API key, GitHub
// token) may be used. The owner setting doubles as the encryption-key source
// for credentials at rest, so nothing can be stored until it is populated.
func (s State) CredentialsUnlocked() bool {
	return s.WidgetSettings.Owner != ""
}
