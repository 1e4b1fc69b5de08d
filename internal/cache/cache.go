// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/sitechat/internal/kvstore"
)

// ExpiryHours is how long a cached resource group stays fresh.
const ExpiryHours = 24

// MaxHistoryItems caps each chat-history bucket.
const MaxHistoryItems = 20

// Key namespaces in the flat store. The store has no native namespacing, so
// grouping lives in these prefixes; Clear walks all keys and prefix-matches.
const (
	NSWidgetSettings    = "ai_chat_widget_settings"
	nsTimestamps        = "ai_chat_timestamps"
	NSSelectedModel     = "ai_chat_selected_model_"
	nsAPIKeys           = "ai_chat_api_keys"
	NSOpenRouterModels  = "ai_chat_openrouter_models"
	nsGithubToken       = "ai_chat_github_token"
	NSPostsList         = "ai_chat_posts_list_"
	NSPostContent       = "ai_chat_post_content_"
	NSChatResponses     = "ai_chat_responses_"
	NSChatHistory       = "ai_chat_history_"
	nsMetaPrompt        = "ai_chat_meta_prompt"
	nsIncludeMetaPrompt = "ai_chat_include_meta_prompt"
	NSRepositoriesList  = "ai_chat_repositories_list_"
	NSRepositoryContent = "ai_chat_repository_content_"
	NSCodeSession       = "ai_chat_code_settings_cache_"
	nsKeySalt           = "ai_chat_key_salt"
)

// Timestamp-table ids for the logical resource groups.
const (
	TimeIDPostsPrefix        = "posts_"
	TimeIDRepositoriesPrefix = "repositories_"
	TimeIDCodeSession        = "code_settings"
	TimeIDOpenRouterModels   = "openrouter_models"
)

// PostsTimeID returns the expiry id for a post list source ("github" or
// "sitemap").
func PostsTimeID(source string) string {
	return TimeIDPostsPrefix + source
}

// RepositoriesTimeID returns the expiry id for a user's repository list.
func RepositoriesTimeID(user string, includeForks bool) string {
	if includeForks {
		return TimeIDRepositoriesPrefix + user + "_all"
	}
	return TimeIDRepositoriesPrefix + user + "_owner"
}

// EncodeKeyPart derives a store-safe key part from an arbitrary string (post
// URL, file path) by base64-encoding it and stripping non-alphanumerics.
//
// Known limitation: the strip step is not collision-free; two distinct inputs
// whose encodings differ only in stripped characters alias to the same key.
// Kept for compatibility with existing cached entries.
func EncodeKeyPart(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	var b strings.Builder
	b.Grow(len(enc))
	for _, r := range enc {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// =============================================================================
// CACHE
// =============================================================================

// Cache wraps a kvstore.Store with namespacing, expiry and serialization.
type Cache struct {
	store kvstore.Store
	crypt *crypt

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a cache over the given store.
func New(store kvstore.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// key joins a namespace and key parts. Parts are concatenated without a
// separator; callers include their own separators where the layout needs them.
func key(namespace string, keyParts ...string) string {
	if len(keyParts) == 0 {
		return namespace
	}
	return namespace + strings.Join(keyParts, "")
}

// Get returns the raw value under a namespaced key.
func (c *Cache) Get(namespace string, keyParts ...string) (string, bool) {
	return c.store.Get(key(namespace, keyParts...))
}

// Set writes a raw value under a namespaced key. Store faults are logged and
// absorbed.
func (c *Cache) Set(namespace, value string, keyParts ...string) {
	if err := c.store.Set(key(namespace, keyParts...), value); err != nil {
		log.Printf("cache: failed to write %s: %v", namespace, err)
	}
}

// GetJSON unmarshals the value under a namespaced key into v. A missing or
// corrupt entry is a miss.
func (c *Cache) GetJSON(namespace string, v any, keyParts ...string) bool {
	raw, ok := c.store.Get(key(namespace, keyParts...))
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Printf("cache: corrupt entry under %s: %v", namespace, err)
		return false
	}
	return true
}

// SetJSON marshals v under a namespaced key. Faults are logged and absorbed.
func (c *Cache) SetJSON(namespace string, v any, keyParts ...string) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("cache: failed to marshal %s: %v", namespace, err)
		return
	}
	c.Set(namespace, string(raw), keyParts...)
}

// Delete removes a namespaced key.
func (c *Cache) Delete(namespace string, keyParts ...string) {
	c.store.Delete(key(namespace, keyParts...))
}

// Clear removes every key matching one of the given prefixes.
func (c *Cache) Clear(prefixes ...string) {
	var toRemove []string
	for _, k := range c.store.Keys() {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				toRemove = append(toRemove, k)
				break
			}
		}
	}
	for _, k := range toRemove {
		c.store.Delete(k)
	}
}

// =============================================================================
// EXPIRY TABLE
// =============================================================================

// timestamps returns the expiry table. A missing or corrupt table is empty.
func (c *Cache) timestamps() map[string]string {
	ts := make(map[string]string)
	c.GetJSON(nsTimestamps, &ts)
	return ts
}

// IsExpired reports whether the resource group was cached more than
// ExpiryHours ago. A missing id, missing table or parse failure counts as
// expired, failing safe toward a refetch.
func (c *Cache) IsExpired(timestampID string) bool {
	if timestampID == "" {
		return true
	}
	ts := c.timestamps()
	raw, ok := ts[timestampID]
	if !ok {
		return true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("cache: bad timestamp for %s: %v", timestampID, err)
		return true
	}
	age := c.now().Sub(time.UnixMilli(ms))
	return age > ExpiryHours*time.Hour
}

// Touch records now as the resource group's cache time.
func (c *Cache) Touch(timestampID string) {
	ts := c.timestamps()
	ts[timestampID] = strconv.FormatInt(c.now().UnixMilli(), 10)
	c.SetJSON(nsTimestamps, ts)
}

// ClearTime drops the resource group's cache time, expiring it.
func (c *Cache) ClearTime(timestampID string) {
	ts := c.timestamps()
	if _, ok := ts[timestampID]; !ok {
		return
	}
	delete(ts, timestampID)
	c.SetJSON(nsTimestamps, ts)
}
