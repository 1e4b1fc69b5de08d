// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package widget

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
	"github.com/jeranaias/sitechat/internal/provider"
)

// Manager owns the widget state and sequences every load, mutation and
// persistence step. All mutation funnels through its transition methods; the
// state record is never written ad hoc.
type Manager struct {
	mu    sync.Mutex
	state State

	cache   *cache.Cache
	chat    ChatClient
	github  GithubFetcher
	sitemap SitemapFetcher

	// postKey is the content identity scoping chat snapshots, history and
	// model selection to the page the widget is embedded in.
	postKey   string
	sessionID string

	// usernameEdited breaks the owner-setting -> username default link once
	// the user edits the username directly.
	usernameEdited bool

	// contentGen invalidates stale repository-content responses that resolve
	// after a later navigation.
	contentGen uint64

	// onChange is invoked with a state snapshot after every transition,
	// always outside the lock.
	onChange func(State)
}

// NewManager wires the orchestrator over its collaborators. An empty postKey
// falls back to a per-session identity, scoping chat persistence to this
// mount only.
func NewManager(c *cache.Cache, chat ChatClient, github GithubFetcher, sitemap SitemapFetcher, postKey string) *Manager {
	sessionID := uuid.NewString()
	if postKey == "" {
		postKey = sessionID
	}
	return &Manager{
		state:     InitialState(),
		cache:     c,
		chat:      chat,
		github:    github,
		sitemap:   sitemap,
		postKey:   postKey,
		sessionID: sessionID,
	}
}

// OnChange registers the callback notified after each state transition.
func (m *Manager) OnChange(fn func(State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// notify delivers a snapshot to the change callback, outside the lock.
func (m *Manager) notify() {
	m.mu.Lock()
	fn := m.onChange
	s := m.state
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// bucketLocked returns the chat partition for the current provider/model.
// Callers hold the lock.
func (m *Manager) bucketLocked() string {
	return cache.ChatBucket(m.state.SelectedProvider, m.state.SelectedModel, m.postKey)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Mount restores persisted state into the freshly initialized record: widget
// settings, credentials, the remembered provider/model, the live conversation
// and its history, the meta-prompt, and the code-browsing session.
func (m *Manager) Mount(ctx context.Context) {
	m.mu.Lock()

	if s, ok := m.cache.WidgetSettings(); ok {
		s.ApplyDefaults()
		m.state.WidgetSettings = s
	}
	if owner := m.state.WidgetSettings.Owner; owner != "" && !m.cache.EncryptionEnabled() {
		m.cache.EnableEncryption(owner)
	}
	m.state.Username = m.state.WidgetSettings.Owner
	m.state.GithubToken = m.cache.GithubToken()

	if sel, ok := m.cache.SelectedModelFor(m.postKey); ok {
		m.state.SelectedProvider = sel.Provider
		m.state.SelectedModel = sel.Model
	}
	if key := m.cache.APIKey(m.state.SelectedProvider); key != "" {
		m.state.APIKey = key
		m.state.APIKeyInput = key
		m.state.ShowAPIKeySection = false
	}

	m.state.MetaPrompt = m.cache.MetaPrompt()
	m.state.IncludeMetaPrompt = m.cache.IncludeMetaPrompt()
	m.loadChatLocked()

	restoreRepo, restorePath := "", ""
	if cs, ok := m.cache.CodeSessionSnapshot(); ok && cs.SelectedRepository != "" {
		if cs.Username != "" {
			m.state.Username = cs.Username
		}
		m.state.SelectedRepository = cs.SelectedRepository
		m.state.CurrentPath = cs.CurrentPath
		m.state.SelectedCodeFiles = cs.SelectedCodeFiles
		m.state.IncludeForks = cs.IncludeForks
		m.usernameEdited = cs.UsernameEdited
		restoreRepo, restorePath = cs.SelectedRepository, cs.CurrentPath
	}

	needModels := m.state.SelectedProvider == provider.OpenRouter
	m.mu.Unlock()
	m.notify()

	if needModels {
		m.loadOpenRouterModels(ctx)
	}
	if restoreRepo != "" {
		m.LoadRepositoryContent(ctx, restoreRepo, restorePath)
	}
	log.Printf("widget %s: mounted", m.sessionID)
}

// SetActiveTab switches tabs. Content-bearing tabs lazily load their list on
// first activation; repeated switches never duplicate in-flight requests.
func (m *Manager) SetActiveTab(ctx context.Context, tab string) {
	m.mu.Lock()
	m.state.ActiveTab = tab
	loadPosts := tab == TabContent && len(m.state.Posts) == 0 && !m.state.LoadingPosts
	loadRepos := tab == TabCode && len(m.state.Repositories) == 0 && !m.state.LoadingRepositories
	m.mu.Unlock()
	m.notify()

	if loadPosts {
		m.LoadPosts(ctx)
	}
	if loadRepos {
		m.LoadRepositories(ctx)
	}
}

// ToggleFullscreen flips the fullscreen flag.
func (m *Manager) ToggleFullscreen() {
	m.mu.Lock()
	m.state.IsFullscreen = !m.state.IsFullscreen
	m.mu.Unlock()
	m.notify()
}

// ToggleCollapse flips the collapsed flag.
func (m *Manager) ToggleCollapse() {
	m.mu.Lock()
	m.state.IsCollapsed = !m.state.IsCollapsed
	m.mu.Unlock()
	m.notify()
}

// SetCurrentMessage updates the draft message text.
func (m *Manager) SetCurrentMessage(text string) {
	m.mu.Lock()
	m.state.CurrentMessage = text
	m.mu.Unlock()
	m.notify()
}

// FocusMessage moves the focused-message cursor.
func (m *Manager) FocusMessage(index int) {
	m.mu.Lock()
	m.state.FocusedMessageIndex = index
	m.mu.Unlock()
	m.notify()
}

// =============================================================================
// PROVIDER / MODEL / CREDENTIALS
// =============================================================================

// SetProvider switches the active provider, defaults its model, swaps in the
// provider's stored API key and reloads the chat partition. Unknown ids are
// ignored.
func (m *Manager) SetProvider(ctx context.Context, id string) {
	p, ok := provider.Lookup(id)
	if !ok {
		return
	}

	m.mu.Lock()
	m.state.SelectedProvider = p.ID
	m.state.SelectedModel = ""
	if len(p.Models) > 0 {
		m.state.SelectedModel = p.Models[0].ID
	} else if len(m.state.OpenRouterModels) > 0 {
		m.state.SelectedModel = m.state.OpenRouterModels[0].ID
	}
	m.cache.SetSelectedModelFor(m.postKey, cache.SelectedModel{
		Provider: p.ID,
		Model:    m.state.SelectedModel,
	})

	key := m.cache.APIKey(p.ID)
	m.state.APIKey = key
	m.state.APIKeyInput = key
	m.state.ShowAPIKeySection = key == ""

	m.loadChatLocked()
	needModels := p.ID == provider.OpenRouter && len(m.state.OpenRouterModels) == 0
	m.mu.Unlock()
	m.notify()

	if needModels {
		m.loadOpenRouterModels(ctx)
	}
}

// SetModel switches the active model and reloads the chat partition keyed by
// the new provider/model pair.
func (m *Manager) SetModel(id string) {
	m.mu.Lock()
	m.state.SelectedModel = id
	m.cache.SetSelectedModelFor(m.postKey, cache.SelectedModel{
		Provider: m.state.SelectedProvider,
		Model:    id,
	})
	m.loadChatLocked()
	m.mu.Unlock()
	m.notify()
}

// SetAPIKeyInput updates the key entry field without committing it.
func (m *Manager) SetAPIKeyInput(key string) {
	m.mu.Lock()
	m.state.APIKeyInput = key
	m.mu.Unlock()
	m.notify()
}

// ConfirmAPIKey commits the entered key for the active provider. A no-op
// while credentials are locked (no owner setting yet).
func (m *Manager) ConfirmAPIKey() {
	m.mu.Lock()
	if !m.state.CredentialsUnlocked() {
		m.mu.Unlock()
		return
	}
	m.state.APIKey = m.state.APIKeyInput
	m.state.ShowAPIKeySection = false
	m.cache.SetAPIKey(m.state.SelectedProvider, m.state.APIKey)
	m.mu.Unlock()
	m.notify()
}

// ShowAPIKeyEntry reopens the key entry section.
func (m *Manager) ShowAPIKeyEntry() {
	m.mu.Lock()
	m.state.ShowAPIKeySection = true
	m.mu.Unlock()
	m.notify()
}

// SetGithubToken stores the GitHub personal-access token. A no-op while
// credentials are locked.
func (m *Manager) SetGithubToken(token string) {
	m.mu.Lock()
	if !m.state.CredentialsUnlocked() {
		m.mu.Unlock()
		return
	}
	m.state.GithubToken = token
	m.cache.SetGithubToken(token)
	m.mu.Unlock()
	m.notify()
}

// loadOpenRouterModels populates the dynamic catalog, cache-first. Failures
// are logged, not surfaced; the provider stays selectable with no models.
func (m *Manager) loadOpenRouterModels(ctx context.Context) {
	if models, ok := m.cache.OpenRouterModels(); ok {
		m.setOpenRouterModels(models)
		return
	}

	models, err := m.chat.FetchOpenRouterModels(ctx)
	if err != nil {
		log.Printf("widget: failed to load OpenRouter models: %v", err)
		return
	}
	m.cache.SetOpenRouterModels(models)
	m.setOpenRouterModels(models)
}

func (m *Manager) setOpenRouterModels(models []provider.ModelInfo) {
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	m.mu.Lock()
	m.state.OpenRouterModels = models
	if m.state.SelectedProvider == provider.OpenRouter && m.state.SelectedModel == "" && len(models) > 0 {
		m.state.SelectedModel = models[0].ID
	}
	m.mu.Unlock()
	m.notify()
}

// =============================================================================
// META PROMPT
// =============================================================================

// UpdateMetaPrompt stores new meta-prompt text.
func (m *Manager) UpdateMetaPrompt(text string) {
	m.mu.Lock()
	m.state.MetaPrompt = text
	m.cache.SetMetaPrompt(text)
	m.mu.Unlock()
	m.notify()
}

// ToggleIncludeMetaPrompt flips meta-prompt injection.
func (m *Manager) ToggleIncludeMetaPrompt() {
	m.mu.Lock()
	m.state.IncludeMetaPrompt = !m.state.IncludeMetaPrompt
	m.cache.SetIncludeMetaPrompt(m.state.IncludeMetaPrompt)
	m.mu.Unlock()
	m.notify()
}

// =============================================================================
// SELECTIONS
// =============================================================================

// SelectPosts replaces the post selection. A set past the cap is rejected
// outright so the visible selection never exceeds it, even transiently.
func (m *Manager) SelectPosts(names []string) {
	if len(names) > MaxSelectedPosts {
		return
	}
	m.mu.Lock()
	m.state.SelectedPosts = names
	m.mu.Unlock()
	m.notify()
}

// TogglePostSelection adds or removes one post from the selection. Adding
// past the cap is rejected.
func (m *Manager) TogglePostSelection(name string) {
	m.mu.Lock()
	next, ok := toggled(m.state.SelectedPosts, name, MaxSelectedPosts)
	if ok {
		m.state.SelectedPosts = next
	}
	m.mu.Unlock()
	m.notify()
}

// SelectCodeFiles replaces the code-file selection, same cap rule, and
// persists the code session.
func (m *Manager) SelectCodeFiles(names []string) {
	if len(names) > MaxSelectedCodeFiles {
		return
	}
	m.mu.Lock()
	m.state.SelectedCodeFiles = names
	m.persistCodeSessionLocked()
	m.mu.Unlock()
	m.notify()
}

// ToggleCodeFileSelection adds or removes one file from the selection, same
// cap rule, and persists the code session.
func (m *Manager) ToggleCodeFileSelection(name string) {
	m.mu.Lock()
	next, ok := toggled(m.state.SelectedCodeFiles, name, MaxSelectedCodeFiles)
	if ok {
		m.state.SelectedCodeFiles = next
		m.persistCodeSessionLocked()
	}
	m.mu.Unlock()
	m.notify()
}

// toggled returns the selection with name added or removed. Growing past the
// cap reports false and leaves the selection alone.
func toggled(selection []string, name string, limit int) ([]string, bool) {
	for i, s := range selection {
		if s == name {
			return append(append([]string(nil), selection[:i]...), selection[i+1:]...), true
		}
	}
	if len(selection)+1 > limit {
		return nil, false
	}
	return append(append([]string(nil), selection...), name), true
}

// =============================================================================
// POSTS
// =============================================================================

// LoadPosts loads the post list, GitHub first with a sitemap fallback. The
// fallback runs when the primary errors or yields nothing; when both fail the
// surfaced error carries both messages.
func (m *Manager) LoadPosts(ctx context.Context) {
	m.mu.Lock()
	if m.state.LoadingPosts {
		m.mu.Unlock()
		return
	}
	m.state.LoadingPosts = true
	m.state.PostsError = ""
	settings := m.state.WidgetSettings
	m.mu.Unlock()
	m.notify()

	posts, err := m.github.FetchPosts(ctx, settings)
	if err != nil {
		githubErr := fmt.Sprintf("GitHub API failed: %v. Falling back to sitemap...", err)
		log.Printf("widget: %s", githubErr)
		m.mu.Lock()
		m.state.PostsError = githubErr
		m.mu.Unlock()
		m.loadPostsFromSitemap(ctx, settings)
		return
	}
	if len(posts) == 0 {
		m.loadPostsFromSitemap(ctx, settings)
		return
	}

	m.mu.Lock()
	m.state.Posts = posts
	m.state.LoadingPosts = false
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) loadPostsFromSitemap(ctx context.Context, settings config.Settings) {
	posts, err := m.sitemap.FetchPosts(ctx, m.cache, settings)

	m.mu.Lock()
	m.state.LoadingPosts = false
	if err != nil {
		if m.state.PostsError != "" {
			m.state.PostsError = fmt.Sprintf("%s Sitemap also failed: %v", m.state.PostsError, err)
		} else {
			m.state.PostsError = fmt.Sprintf("Failed to load posts: %v", err)
		}
	} else {
		m.state.Posts = posts
	}
	m.mu.Unlock()
	m.notify()
}

// RefreshPosts drops the cached post data and reloads from the network.
func (m *Manager) RefreshPosts(ctx context.Context) {
	m.cache.ClearPosts()
	m.mu.Lock()
	m.state.Posts = nil
	m.state.SelectedPosts = nil
	m.mu.Unlock()
	m.LoadPosts(ctx)
}

// =============================================================================
// CODE BROWSING
// =============================================================================

// LoadRepositories loads the repository list for the active username.
func (m *Manager) LoadRepositories(ctx context.Context) {
	m.mu.Lock()
	if m.state.LoadingRepositories {
		m.mu.Unlock()
		return
	}
	m.state.LoadingRepositories = true
	m.state.RepositoriesError = ""
	username := m.state.Username
	includeForks := m.state.IncludeForks
	m.mu.Unlock()
	m.notify()

	repos, err := m.github.FetchRepositories(ctx, username, includeForks)

	m.mu.Lock()
	m.state.LoadingRepositories = false
	if err != nil {
		m.state.RepositoriesError = "Failed to load repositories: " + err.Error()
	} else {
		m.state.Repositories = repos
	}
	m.mu.Unlock()
	m.notify()
}

// LoadRepositoryContent loads one directory listing. Each call supersedes any
// earlier in-flight load; a superseded response is dropped instead of
// overwriting the newer navigation's state.
func (m *Manager) LoadRepositoryContent(ctx context.Context, repository, path string) {
	gen := atomic.AddUint64(&m.contentGen, 1)

	m.mu.Lock()
	m.state.LoadingRepositoryContent = true
	m.state.RepositoryContentError = ""
	username := m.state.Username
	m.mu.Unlock()
	m.notify()

	items, err := m.github.FetchRepositoryContent(ctx, username, repository, path)

	m.mu.Lock()
	if gen != atomic.LoadUint64(&m.contentGen) {
		m.mu.Unlock()
		return
	}
	m.state.LoadingRepositoryContent = false
	if err != nil {
		m.state.RepositoryContentError = "Failed to load repository content: " + err.Error()
	} else {
		m.state.RepositoryContent = items
		m.state.CurrentPath = path
	}
	m.mu.Unlock()
	m.notify()
}

// SelectRepository switches the browsed repository, resetting the path cursor
// and file selection, and loads its root listing.
func (m *Manager) SelectRepository(ctx context.Context, repository string) {
	m.mu.Lock()
	m.state.SelectedRepository = repository
	m.state.CurrentPath = ""
	m.state.RepositoryContent = nil
	m.state.SelectedCodeFiles = nil
	m.persistCodeSessionLocked()
	m.mu.Unlock()
	m.notify()

	if repository != "" {
		m.LoadRepositoryContent(ctx, repository, "")
	}
}

// NavigateToPath moves the path cursor, persists the session and reloads the
// listing as one coupled transition.
func (m *Manager) NavigateToPath(ctx context.Context, path string) {
	m.mu.Lock()
	repository := m.state.SelectedRepository
	m.state.CurrentPath = path
	m.persistCodeSessionLocked()
	m.mu.Unlock()
	m.notify()

	if repository != "" {
		m.LoadRepositoryContent(ctx, repository, path)
	}
}

// NavigateUp moves the path cursor one level toward the repository root.
func (m *Manager) NavigateUp(ctx context.Context) {
	m.mu.Lock()
	current := m.state.CurrentPath
	m.mu.Unlock()
	if current == "" {
		return
	}

	parent := ""
	if i := strings.LastIndex(current, "/"); i >= 0 {
		parent = current[:i]
	}
	m.NavigateToPath(ctx, parent)
}

// SetUsername overrides the browsed GitHub username. This permanently breaks
// the default link from the owner setting.
func (m *Manager) SetUsername(username string) {
	m.mu.Lock()
	m.state.Username = username
	m.usernameEdited = true
	m.persistCodeSessionLocked()
	m.mu.Unlock()
	m.notify()
}

// SetIncludeForks flips fork visibility and reloads the repository list,
// which is cached per fork-mode.
func (m *Manager) SetIncludeForks(ctx context.Context, include bool) {
	m.mu.Lock()
	m.state.IncludeForks = include
	m.state.Repositories = nil
	m.persistCodeSessionLocked()
	m.mu.Unlock()
	m.notify()

	m.LoadRepositories(ctx)
}

// RefreshCode drops all cached code-browsing data for the active username and
// reloads the repository list.
func (m *Manager) RefreshCode(ctx context.Context) {
	m.mu.Lock()
	username := m.state.Username
	m.cache.ClearCodeAndSession(username)
	m.state.Repositories = nil
	m.state.SelectedRepository = ""
	m.state.CurrentPath = ""
	m.state.RepositoryContent = nil
	m.state.SelectedCodeFiles = nil
	m.mu.Unlock()
	m.notify()

	m.LoadRepositories(ctx)
}

// persistCodeSessionLocked snapshots the code-browsing state. Callers hold
// the lock.
func (m *Manager) persistCodeSessionLocked() {
	m.cache.SetCodeSessionSnapshot(cache.CodeSession{
		Username:           m.state.Username,
		SelectedRepository: m.state.SelectedRepository,
		CurrentPath:        m.state.CurrentPath,
		SelectedCodeFiles:  m.state.SelectedCodeFiles,
		IncludeForks:       m.state.IncludeForks,
		UsernameEdited:     m.usernameEdited,
	})
}

// =============================================================================
// SETTINGS
// =============================================================================

// ApplySettings replaces the widget settings and persists them. Setting the
// owner for the first time unlocks credential storage (the owner seeds the
// at-rest encryption key) and, unless the username was edited directly,
// follows the owner into the browsed username.
func (m *Manager) ApplySettings(s config.Settings) {
	s.ApplyDefaults()

	m.mu.Lock()
	prevOwner := m.state.WidgetSettings.Owner
	m.state.WidgetSettings = s
	m.cache.SetWidgetSettings(s)

	if s.Owner != "" && !m.cache.EncryptionEnabled() {
		m.cache.EnableEncryption(s.Owner)
	}
	if s.Owner != prevOwner && !m.usernameEdited && s.Owner != m.state.Username {
		m.state.Username = s.Owner
		m.persistCodeSessionLocked()
	}
	m.mu.Unlock()
	m.notify()
}
