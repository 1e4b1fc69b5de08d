// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
	"github.com/jeranaias/sitechat/internal/content"
	"github.com/jeranaias/sitechat/internal/provider"
)

// ErrNoAPIKey is returned from SendMessage before any state change when no
// key is configured for the active provider.
var ErrNoAPIKey = errors.New("no API key configured")

// attachmentRequest captures everything needed to compose the context prefix
// of an outgoing message, taken from state in one locked read.
type attachmentRequest struct {
	metaPrompt        string
	includeMetaPrompt bool
	posts             []content.PostSummary
	selectedPosts     []string
	repository        string
	repositoryContent []content.ContentItem
	selectedCodeFiles []string
	settings          config.Settings
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage runs one chat turn: the user message is appended optimistically,
// attachment content is resolved in parallel and prefixed onto the outgoing
// payload only (the stored message keeps the plain text), the provider is
// called, and on success the assistant reply and token usage land in state
// and the conversation is snapshotted to cache. On failure the error is
// surfaced without discarding the user's message or the prior conversation.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	m.mu.Lock()
	if m.state.IsLoading {
		m.mu.Unlock()
		return nil
	}
	if m.state.APIKey == "" {
		m.mu.Unlock()
		return ErrNoAPIKey
	}

	priorCount := len(m.state.Messages)
	prior := make([]provider.Message, priorCount)
	copy(prior, m.state.Messages)

	req := attachmentRequest{
		metaPrompt:        m.state.MetaPrompt,
		includeMetaPrompt: m.state.IncludeMetaPrompt,
		posts:             m.state.Posts,
		selectedPosts:     m.state.SelectedPosts,
		repository:        m.state.SelectedRepository,
		repositoryContent: m.state.RepositoryContent,
		selectedCodeFiles: m.state.SelectedCodeFiles,
		settings:          m.state.WidgetSettings,
	}
	providerID := m.state.SelectedProvider
	modelID := m.state.SelectedModel
	apiKey := m.state.APIKey

	userMsg := provider.NewUserMessage(text)
	m.state.Messages = append(m.state.Messages, userMsg)
	m.state.CurrentMessage = ""
	m.state.IsLoading = true
	m.state.Error = ""
	m.state.FocusedMessageIndex = len(m.state.Messages)
	m.mu.Unlock()
	m.notify()

	prefix, att, err := m.composeAttachments(ctx, req, priorCount)
	if err == nil {
		outgoing := append(prior, provider.Message{
			Role:      "user",
			Content:   prefix + text,
			Timestamp: userMsg.Timestamp,
		})

		var result *provider.ChatResult
		result, err = m.chat.SendChat(ctx, apiKey, providerID, modelID, outgoing)
		if err == nil {
			m.mu.Lock()
			if att != nil && priorCount < len(m.state.Messages) {
				m.state.Messages[priorCount].Attachments = att
			}
			m.state.Messages = append(m.state.Messages, provider.NewAssistantMessage(result.AssistantMessage))
			m.state.TotalTokenCount += result.TotalTokenCount
			m.state.IsLoading = false
			m.state.FocusedMessageIndex = len(m.state.Messages)

			snapshot := cache.ChatSession{
				Messages:        append([]provider.Message(nil), m.state.Messages...),
				TotalTokenCount: m.state.TotalTokenCount,
				Timestamp:       time.Now().UnixMilli(),
			}
			m.cache.SetChatSnapshot(m.bucketLocked(), snapshot)
			m.mu.Unlock()
			m.notify()
			return nil
		}
	}

	m.mu.Lock()
	m.state.IsLoading = false
	m.state.Error = err.Error()
	m.mu.Unlock()
	m.notify()
	return err
}

// composeAttachments builds the context prefix for an outgoing message in
// deterministic order: meta-prompt, then writing samples, then code samples.
// Per-item content is fetched in parallel and joined; empty content is
// filtered out. A writing-sample fetch error fails the whole composition; a
// code-sample fetch error only drops that file.
func (m *Manager) composeAttachments(ctx context.Context, req attachmentRequest, priorCount int) (string, *provider.Attachments, error) {
	var sections []string
	att := &provider.Attachments{}
	attached := false

	if req.includeMetaPrompt && req.metaPrompt != "" && priorCount == 0 {
		sections = append(sections, req.metaPrompt+"\n\n")
		att.MetaPrompt = true
		attached = true
	}

	if len(req.selectedPosts) > 0 {
		block, names, err := m.composePostSamples(ctx, req)
		if err != nil {
			return "", nil, err
		}
		sections = append(sections, block)
		att.Posts = names
		attached = true
	}

	if len(req.selectedCodeFiles) > 0 && req.repository != "" {
		block, names, err := m.composeCodeSamples(ctx, req)
		if err != nil {
			return "", nil, err
		}
		sections = append(sections, block)
		att.CodeFiles = names
		attached = true
	}

	if !attached {
		return "", nil, nil
	}
	return strings.Join(sections, ""), att, nil
}

func (m *Manager) composePostSamples(ctx context.Context, req attachmentRequest) (string, []string, error) {
	selected := selectedByName(req.posts, req.selectedPosts, func(p content.PostSummary) string { return p.Name })

	contents := make([]string, len(selected))
	errs := make([]error, len(selected))
	var wg sync.WaitGroup
	for i, p := range selected {
		wg.Add(1)
		go func(i int, p content.PostSummary) {
			defer wg.Done()
			contents[i], errs[i] = m.github.FetchPostContent(ctx, p.URL, req.settings)
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return "", nil, err
		}
	}

	var sb strings.Builder
	sb.WriteString("Here are some examples of my writing style from previous content:\n\n")
	names := make([]string, 0, len(selected))
	for i, p := range selected {
		names = append(names, p.Name)
		if contents[i] == "" {
			continue
		}
		fmt.Fprintf(&sb, "<writing-sample>\n%s\n```%s\n```\n</writing-sample>\n\n", p.Name, contents[i])
	}
	return sb.String(), names, nil
}

func (m *Manager) composeCodeSamples(ctx context.Context, req attachmentRequest) (string, []string, error) {
	selected := selectedByName(req.repositoryContent, req.selectedCodeFiles, func(i content.ContentItem) string { return i.Name })

	// A file that cannot be fetched degrades to empty content and is dropped
	// from the payload below; it does not abort the turn.
	contents := make([]string, len(selected))
	var wg sync.WaitGroup
	for i, f := range selected {
		wg.Add(1)
		go func(i int, f content.ContentItem) {
			defer wg.Done()
			text, err := m.github.FetchFileContent(ctx, f.DownloadURL)
			if err != nil {
				log.Printf("widget: failed to fetch code sample %s: %v", f.Path, err)
				return
			}
			contents[i] = text
		}(i, f)
	}
	wg.Wait()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Here are some files from the %s repo:\n\n", req.repository)
	names := make([]string, 0, len(selected))
	for i, f := range selected {
		names = append(names, req.repository+"/"+f.Path)
		if contents[i] == "" {
			continue
		}
		fmt.Fprintf(&sb, "<code-sample>\n%s (%s/%s)\n```%s\n%s\n```\n</code-sample>\n\n",
			f.Name, req.repository, f.Path, fileExtension(f.Name), contents[i])
	}
	return sb.String(), names, nil
}

// selectedByName filters items to those whose name is in the selection,
// preserving the list's order.
func selectedByName[T any](items []T, selection []string, name func(T) string) []T {
	want := make(map[string]bool, len(selection))
	for _, s := range selection {
		want[s] = true
	}
	var out []T
	for _, item := range items {
		if want[name(item)] {
			out = append(out, item)
		}
	}
	return out
}

// fileExtension returns the extension used as the code fence language tag.
func fileExtension(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return "text"
}

// =============================================================================
// HISTORY
// =============================================================================

// loadChatLocked pulls the current bucket's conversation snapshot and the
// post's aggregated history into state. Callers hold the lock.
func (m *Manager) loadChatLocked() {
	if s, ok := m.cache.ChatSnapshot(m.bucketLocked()); ok {
		m.state.Messages = s.Messages
		m.state.TotalTokenCount = s.TotalTokenCount
		m.state.FocusedMessageIndex = len(s.Messages)
	} else {
		m.state.Messages = nil
		m.state.TotalTokenCount = 0
		m.state.FocusedMessageIndex = -1
	}
	m.state.ChatHistory = m.cache.AllChatHistory(m.postKey)
}

// NewChat archives the current non-empty conversation into history and clears
// the live slot.
func (m *Manager) NewChat() {
	m.mu.Lock()
	bucket := m.bucketLocked()
	if len(m.state.Messages) > 0 {
		ts := m.state.Messages[len(m.state.Messages)-1].Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		m.cache.AddChatToHistory(bucket, cache.ChatSession{
			Messages:        m.state.Messages,
			TotalTokenCount: m.state.TotalTokenCount,
			Timestamp:       ts,
		})
	}
	m.cache.ClearChatSnapshot(bucket)
	m.state.Messages = nil
	m.state.TotalTokenCount = 0
	m.state.FocusedMessageIndex = -1
	m.state.ChatHistory = m.cache.AllChatHistory(m.postKey)
	m.mu.Unlock()
	m.notify()
}

// RestoreChat archives the current conversation, moves a history entry into
// the live slot and removes it from history so it cannot appear twice.
func (m *Manager) RestoreChat(entry cache.HistoryEntry) {
	m.NewChat()

	m.mu.Lock()
	m.cache.SetChatSnapshot(m.bucketLocked(), entry.ChatSession)
	if entry.Bucket != "" {
		m.cache.RemoveChatFromHistory(entry.Bucket, entry.Timestamp)
	}
	m.loadChatLocked()
	m.mu.Unlock()
	m.notify()
}

// DeleteChat removes one archived session.
func (m *Manager) DeleteChat(entry cache.HistoryEntry) {
	m.mu.Lock()
	m.cache.RemoveChatFromHistory(entry.Bucket, entry.Timestamp)
	m.state.ChatHistory = m.cache.AllChatHistory(m.postKey)
	m.mu.Unlock()
	m.notify()
}

// ClearHistory drops the current bucket's archive.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.cache.ClearChatHistory(m.bucketLocked())
	m.state.ChatHistory = m.cache.AllChatHistory(m.postKey)
	m.mu.Unlock()
	m.notify()
}

// ClearAllHistory drops every conversation and archive across all posts and
// provider/model pairs.
func (m *Manager) ClearAllHistory() {
	m.mu.Lock()
	m.cache.ClearAllChatData()
	m.state.Messages = nil
	m.state.TotalTokenCount = 0
	m.state.FocusedMessageIndex = -1
	m.state.ChatHistory = nil
	m.mu.Unlock()
	m.notify()
}
