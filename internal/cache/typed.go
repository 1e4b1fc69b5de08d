// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"sort"
	"strings"

	"github.com/jeranaias/sitechat/internal/config"
	"github.com/jeranaias/sitechat/internal/provider"
)

// ChatSession is one conversation, live or archived. Its identity for dedup
// on restore is the timestamp.
type ChatSession struct {
	Messages        []provider.Message `json:"messages"`
	TotalTokenCount int                `json:"totalTokenCount"`
	Timestamp       int64              `json:"timestamp"`
}

// SelectedModel is the provider/model choice remembered per post.
type SelectedModel struct {
	Provider string `json:"selectedProvider"`
	Model    string `json:"selectedLLM"`
}

// CodeSession is the persisted snapshot of the code-browsing state.
type CodeSession struct {
	Username           string   `json:"username"`
	SelectedRepository string   `json:"selectedRepository"`
	CurrentPath        string   `json:"currentPath"`
	SelectedCodeFiles  []string `json:"selectedCodeFiles"`
	IncludeForks       bool     `json:"includeForks"`
	UsernameEdited     bool     `json:"usernameEdited"`
}

// ChatBucket forms the history/snapshot partition key for one provider/model
// pair on one post.
func ChatBucket(providerID, modelID, postKey string) string {
	return providerID + "_" + modelID + "_" + postKey
}

// =============================================================================
// WIDGET SETTINGS
// =============================================================================

// WidgetSettings returns the cached settings blob, or false when absent.
func (c *Cache) WidgetSettings() (config.Settings, bool) {
	var s config.Settings
	ok := c.GetJSON(NSWidgetSettings, &s)
	return s, ok
}

// SetWidgetSettings persists the settings blob.
func (c *Cache) SetWidgetSettings(s config.Settings) {
	c.SetJSON(NSWidgetSettings, s)
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// apiKeys returns the provider -> stored-key map.
func (c *Cache) apiKeys() map[string]string {
	keys := make(map[string]string)
	c.GetJSON(nsAPIKeys, &keys)
	return keys
}

// APIKey returns the key for a provider, decrypted when stored encrypted.
func (c *Cache) APIKey(providerID string) string {
	return c.openCredential(c.apiKeys()[providerID])
}

// SetAPIKey stores the key for a provider, encrypted when the credential
// cipher is available.
func (c *Cache) SetAPIKey(providerID, apiKey string) {
	keys := c.apiKeys()
	keys[providerID] = c.sealCredential(apiKey)
	c.SetJSON(nsAPIKeys, keys)
}

// GithubToken returns the stored GitHub personal-access token, or "".
func (c *Cache) GithubToken() string {
	raw, ok := c.Get(nsGithubToken)
	if !ok {
		return ""
	}
	return c.openCredential(raw)
}

// SetGithubToken stores the GitHub token.
func (c *Cache) SetGithubToken(token string) {
	c.Set(nsGithubToken, c.sealCredential(token))
}

// =============================================================================
// META PROMPT
// =============================================================================

// MetaPrompt returns the stored meta-prompt text, or "".
func (c *Cache) MetaPrompt() string {
	raw, _ := c.Get(nsMetaPrompt)
	return raw
}

// SetMetaPrompt stores the meta-prompt text.
func (c *Cache) SetMetaPrompt(text string) {
	c.Set(nsMetaPrompt, text)
}

// IncludeMetaPrompt reports whether meta-prompt injection is enabled.
// Defaults to true when never stored.
func (c *Cache) IncludeMetaPrompt() bool {
	raw, ok := c.Get(nsIncludeMetaPrompt)
	if !ok {
		return true
	}
	return raw == "true"
}

// SetIncludeMetaPrompt stores the inclusion flag.
func (c *Cache) SetIncludeMetaPrompt(include bool) {
	if include {
		c.Set(nsIncludeMetaPrompt, "true")
	} else {
		c.Set(nsIncludeMetaPrompt, "false")
	}
}

// =============================================================================
// OPENROUTER MODEL CATALOG
// =============================================================================

// OpenRouterModels returns the cached dynamic catalog while unexpired.
func (c *Cache) OpenRouterModels() ([]provider.ModelInfo, bool) {
	if c.IsExpired(TimeIDOpenRouterModels) {
		return nil, false
	}
	var models []provider.ModelInfo
	if !c.GetJSON(NSOpenRouterModels, &models) {
		return nil, false
	}
	return models, true
}

// SetOpenRouterModels caches the dynamic catalog and refreshes its expiry.
func (c *Cache) SetOpenRouterModels(models []provider.ModelInfo) {
	c.SetJSON(NSOpenRouterModels, models)
	c.Touch(TimeIDOpenRouterModels)
}

// =============================================================================
// CHAT SNAPSHOT AND HISTORY
// =============================================================================

// ChatSnapshot returns the live conversation stored for a bucket.
func (c *Cache) ChatSnapshot(bucket string) (ChatSession, bool) {
	var s ChatSession
	ok := c.GetJSON(NSChatResponses, &s, bucket)
	return s, ok && len(s.Messages) > 0
}

// SetChatSnapshot persists the live conversation for a bucket.
func (c *Cache) SetChatSnapshot(bucket string, s ChatSession) {
	c.SetJSON(NSChatResponses, s, bucket)
}

// ClearChatSnapshot drops the live conversation for a bucket.
func (c *Cache) ClearChatSnapshot(bucket string) {
	c.Delete(NSChatResponses, bucket)
}

// ChatHistory returns the archived sessions for a bucket, newest first.
func (c *Cache) ChatHistory(bucket string) []ChatSession {
	var history []ChatSession
	c.GetJSON(NSChatHistory, &history, bucket)
	return history
}

// SetChatHistory replaces the archived sessions for a bucket.
func (c *Cache) SetChatHistory(bucket string, history []ChatSession) {
	c.SetJSON(NSChatHistory, history, bucket)
}

// AddChatToHistory head-inserts a session into the bucket's history, evicting
// past MaxHistoryItems. Empty sessions are not archived.
func (c *Cache) AddChatToHistory(bucket string, s ChatSession) {
	if len(s.Messages) == 0 {
		return
	}
	history := append([]ChatSession{s}, c.ChatHistory(bucket)...)
	if len(history) > MaxHistoryItems {
		history = history[:MaxHistoryItems]
	}
	c.SetChatHistory(bucket, history)
}

// ClearChatHistory drops the bucket's archive.
func (c *Cache) ClearChatHistory(bucket string) {
	c.Delete(NSChatHistory, bucket)
}

// HistoryEntry is one archived session tagged with the bucket it lives in, so
// a restore or delete can address the right partition.
type HistoryEntry struct {
	ChatSession
	Bucket string `json:"bucket"`
}

// AllChatHistory aggregates the archived sessions of every provider/model
// bucket belonging to one post, newest first.
func (c *Cache) AllChatHistory(postKey string) []HistoryEntry {
	suffix := "_" + postKey
	var entries []HistoryEntry
	for _, k := range c.store.Keys() {
		if !strings.HasPrefix(k, NSChatHistory) || !strings.HasSuffix(k, suffix) {
			continue
		}
		bucket := strings.TrimPrefix(k, NSChatHistory)
		for _, s := range c.ChatHistory(bucket) {
			entries = append(entries, HistoryEntry{ChatSession: s, Bucket: bucket})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return entries
}

// RemoveChatFromHistory drops the session with the given timestamp from a
// bucket's archive.
func (c *Cache) RemoveChatFromHistory(bucket string, timestamp int64) {
	history := c.ChatHistory(bucket)
	kept := history[:0]
	for _, s := range history {
		if s.Timestamp != timestamp {
			kept = append(kept, s)
		}
	}
	c.SetChatHistory(bucket, kept)
}

// ClearAllChatData removes every chat snapshot and history bucket.
func (c *Cache) ClearAllChatData() {
	c.Clear(NSChatResponses, NSChatHistory)
}

// =============================================================================
// SELECTED MODEL
// =============================================================================

// SelectedModelFor returns the remembered provider/model for a post.
func (c *Cache) SelectedModelFor(postKey string) (SelectedModel, bool) {
	var m SelectedModel
	ok := c.GetJSON(NSSelectedModel, &m, postKey)
	return m, ok && m.Provider != ""
}

// SetSelectedModelFor remembers the provider/model for a post.
func (c *Cache) SetSelectedModelFor(postKey string, m SelectedModel) {
	c.SetJSON(NSSelectedModel, m, postKey)
}

// =============================================================================
// CODE SESSION
// =============================================================================

// CodeSessionSnapshot returns the persisted code-browsing state while
// unexpired.
func (c *Cache) CodeSessionSnapshot() (CodeSession, bool) {
	if c.IsExpired(TimeIDCodeSession) {
		return CodeSession{}, false
	}
	var s CodeSession
	ok := c.GetJSON(NSCodeSession, &s)
	return s, ok
}

// SetCodeSessionSnapshot persists the code-browsing state and refreshes its
// expiry.
func (c *Cache) SetCodeSessionSnapshot(s CodeSession) {
	c.SetJSON(NSCodeSession, s)
	c.Touch(TimeIDCodeSession)
}

// =============================================================================
// GROUP CLEARS
// =============================================================================

// ClearPosts removes all post list and content entries from both sources and
// expires their groups.
func (c *Cache) ClearPosts() {
	c.Clear(NSPostsList, NSPostContent)
	c.ClearTime(PostsTimeID("github"))
	c.ClearTime(PostsTimeID("sitemap"))
}

// ClearCodeAndSession removes repository listings, contents and the code
// session snapshot for a user, and expires their groups.
func (c *Cache) ClearCodeAndSession(user string) {
	c.Clear(NSRepositoriesList, NSRepositoryContent, NSCodeSession)
	c.ClearTime(TimeIDCodeSession)
	c.ClearTime(RepositoriesTimeID(user, true))
	c.ClearTime(RepositoriesTimeID(user, false))
}
